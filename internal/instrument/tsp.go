// tsp.go - Network port for Keithley 26xx source-meters. The instrument
// speaks TSP: newline-terminated Lua-ish commands over a raw TCP socket,
// responses only when a command prints. One connection, one channel (smua or
// smub).
package instrument

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

const (
	tspDialTimeout = 5 * time.Second
	tspIOTimeout   = 10 * time.Second
)

// TSPPort drives a source-meter channel over TCP.
type TSPPort struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	smu      string
	settings models.Settings
}

// DialTSP connects to an instrument at address ("host:5025") and prepares the
// given channel ("a" or "b") for measurement.
func DialTSP(address, channel string) (*TSPPort, error) {
	if channel == "" {
		channel = "a"
	}
	conn, err := net.DialTimeout("tcp", address, tspDialTimeout)
	if err != nil {
		return nil, &models.CommunicationError{Op: "connect", Err: err}
	}

	p := &TSPPort{
		conn:   conn,
		reader: bufio.NewReader(conn),
		smu:    "smu" + channel,
	}

	// Reset to a known state and silence the interactive prompt so replies
	// contain only what we print.
	init := []string{
		"*RST",
		"*CLS",
		"localnode.prompts = 0",
		"errorqueue.clear()",
	}
	for _, cmd := range init {
		if err := p.write(cmd); err != nil {
			conn.Close()
			return nil, err
		}
	}

	idn, err := p.query("*IDN?")
	if err != nil {
		conn.Close()
		return nil, err
	}
	fmt.Printf("[TSP] connected to %s: %s\n", address, idn)
	return p, nil
}

// Close shuts the connection down.
func (p *TSPPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}

func (p *TSPPort) write(cmd string) error {
	p.conn.SetWriteDeadline(time.Now().Add(tspIOTimeout))
	if _, err := p.conn.Write([]byte(cmd + "\n")); err != nil {
		return &models.CommunicationError{Op: "write", Err: err}
	}
	return nil
}

func (p *TSPPort) query(cmd string) (string, error) {
	if err := p.write(cmd); err != nil {
		return "", err
	}
	p.conn.SetReadDeadline(time.Now().Add(tspIOTimeout))
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", &models.CommunicationError{Op: "read", Err: err}
	}
	return strings.TrimSpace(line), nil
}

// Configure programs the source/measure functions, ranges, compliance limit,
// integration time and filter, in the same order the front panel applies them.
func (p *TSPPort) Configure(settings models.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cmds []string
	s := p.smu
	if settings.SourceFunction == models.SourceCurrent {
		cmds = append(cmds,
			fmt.Sprintf("%s.source.func = %s.OUTPUT_DCAMPS", s, s),
			fmt.Sprintf("%s.measure.func = %s.MEASURE_DCVOLTS", s, s))
		if settings.SourceAutorange {
			cmds = append(cmds, fmt.Sprintf("%s.source.autorangei = %s.AUTORANGE_ON", s, s))
		} else {
			cmds = append(cmds,
				fmt.Sprintf("%s.source.autorangei = %s.AUTORANGE_OFF", s, s),
				fmt.Sprintf("%s.source.rangei = %g", s, settings.SourceRange))
		}
		if settings.SenseAutorange {
			cmds = append(cmds, fmt.Sprintf("%s.measure.autorangev = %s.AUTORANGE_ON", s, s))
		} else {
			cmds = append(cmds,
				fmt.Sprintf("%s.measure.autorangev = %s.AUTORANGE_OFF", s, s),
				fmt.Sprintf("%s.measure.rangev = %g", s, settings.SenseRange))
		}
		cmds = append(cmds, fmt.Sprintf("%s.source.limitv = %g", s, settings.Compliance))
	} else {
		cmds = append(cmds,
			fmt.Sprintf("%s.source.func = %s.OUTPUT_DCVOLTS", s, s),
			fmt.Sprintf("%s.measure.func = %s.MEASURE_DCAMPS", s, s))
		if settings.SourceAutorange {
			cmds = append(cmds, fmt.Sprintf("%s.source.autorangev = %s.AUTORANGE_ON", s, s))
		} else {
			cmds = append(cmds,
				fmt.Sprintf("%s.source.autorangev = %s.AUTORANGE_OFF", s, s),
				fmt.Sprintf("%s.source.rangev = %g", s, settings.SourceRange))
		}
		if settings.SenseAutorange {
			cmds = append(cmds, fmt.Sprintf("%s.measure.autorangei = %s.AUTORANGE_ON", s, s))
		} else {
			cmds = append(cmds,
				fmt.Sprintf("%s.measure.autorangei = %s.AUTORANGE_OFF", s, s),
				fmt.Sprintf("%s.measure.rangei = %g", s, settings.SenseRange))
		}
		cmds = append(cmds, fmt.Sprintf("%s.source.limiti = %g", s, settings.Compliance))
	}

	cmds = append(cmds, fmt.Sprintf("%s.measure.nplc = %g", s, settings.NPLC))
	if settings.FilterEnable && settings.FilterCount > 1 {
		cmds = append(cmds,
			fmt.Sprintf("%s.measure.filter.count = %d", s, settings.FilterCount),
			fmt.Sprintf("%s.measure.filter.enable = %s.FILTER_ON", s, s))
	} else {
		cmds = append(cmds, fmt.Sprintf("%s.measure.filter.enable = %s.FILTER_OFF", s, s))
	}
	cmds = append(cmds, fmt.Sprintf("%s.source.offmode = %s.OUTPUT_NORMAL", s, s))

	for _, cmd := range cmds {
		if err := p.write(cmd); err != nil {
			return err
		}
	}
	p.settings = settings
	return nil
}

func (p *TSPPort) OutputOn() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(fmt.Sprintf("%s.source.output = %s.OUTPUT_ON", p.smu, p.smu))
}

func (p *TSPPort) OutputOff() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(fmt.Sprintf("%s.source.output = %s.OUTPUT_OFF", p.smu, p.smu))
}

func (p *TSPPort) SetSourceLevel(value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings.SourceFunction == models.SourceCurrent {
		return p.write(fmt.Sprintf("%s.source.leveli = %g", p.smu, value))
	}
	return p.write(fmt.Sprintf("%s.source.levelv = %g", p.smu, value))
}

// Measure triggers one combined reading. The instrument replies
// "current<TAB>voltage"; which side is the source readback depends on the
// configured source function.
func (p *TSPPort) Measure() (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reply, err := p.query(fmt.Sprintf("print(%s.measure.iv())", p.smu))
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Split(reply, "\t")
	if len(fields) < 2 {
		return 0, 0, &models.CommunicationError{
			Op: "measure", Err: fmt.Errorf("malformed reading %q", reply)}
	}
	current, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return 0, 0, &models.CommunicationError{Op: "measure", Err: err}
	}
	voltage, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0, 0, &models.CommunicationError{Op: "measure", Err: err}
	}

	if p.settings.SourceFunction == models.SourceCurrent {
		return current, voltage, nil
	}
	return voltage, current, nil
}

// CheckFault reads the compliance flag and drains the error queue.
func (p *TSPPort) CheckFault() (FaultStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var status FaultStatus

	reply, err := p.query(fmt.Sprintf("print(%s.source.compliance)", p.smu))
	if err != nil {
		return status, err
	}
	status.InCompliance = strings.EqualFold(reply, "true")

	countReply, err := p.query("print(errorqueue.count)")
	if err != nil {
		return status, err
	}
	count, _ := strconv.ParseFloat(countReply, 64)
	for i := 0; i < int(count) && i < 10; i++ {
		msg, err := p.query("print(errorqueue.next())")
		if err != nil {
			return status, err
		}
		if msg != "" {
			status.Messages = append(status.Messages, msg)
		}
	}
	return status, nil
}

var _ Port = (*TSPPort)(nil)
