// record.go - CSV row codec for the append-only measurement logs.
// One row per sample, acquisition order, never rewritten in place. The cache
// log uses the identical schema in a separate file so either log can
// reconstruct the run.
package persist

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

// Row schemas per run kind.
const (
	SweepHeader   = "timestamp,source_value,measured_value,derived_resistance,segment_index,point_index,sweep_number"
	MonitorHeader = "timestamp,elapsed_time,source_value,measured_value,derived_resistance"
)

// HeaderFor returns the log header line for a run kind.
func HeaderFor(kind models.RunKind) string {
	if kind == models.RunKindMonitor {
		return MonitorHeader
	}
	return SweepHeader
}

// KindForHeader detects the run kind from a header line.
func KindForHeader(header string) (models.RunKind, bool) {
	switch strings.TrimSpace(header) {
	case SweepHeader:
		return models.RunKindSweep, true
	case MonitorHeader:
		return models.RunKindMonitor, true
	}
	return "", false
}

// EncodeRow renders one sample as a log row for the given run kind.
// An undefined derived resistance is an empty field, never NaN.
func EncodeRow(kind models.RunKind, s models.Sample) string {
	res := ""
	if s.Resistance != nil {
		res = formatFloat(*s.Resistance)
	}
	if kind == models.RunKindMonitor {
		return fmt.Sprintf("%.3f,%.6f,%s,%s,%s",
			float64(s.AcquiredAt.UnixMilli())/1000.0,
			s.Timestamp,
			formatFloat(s.SourceValue),
			formatFloat(s.MeasuredValue),
			res)
	}
	return fmt.Sprintf("%.6f,%s,%s,%s,%d,%d,%d",
		s.Timestamp,
		formatFloat(s.SourceValue),
		formatFloat(s.MeasuredValue),
		res,
		s.SegmentIndex,
		s.PointIndex,
		s.SweepNumber)
}

// ParseRow parses one log row for the given run kind. Returns an error for
// any row that does not form a complete, parseable record boundary.
func ParseRow(kind models.RunKind, line string) (models.Sample, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")

	if kind == models.RunKindMonitor {
		if len(fields) != 5 {
			return models.Sample{}, fmt.Errorf("monitor row: expected 5 fields, got %d", len(fields))
		}
		wall, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return models.Sample{}, fmt.Errorf("monitor row: timestamp: %w", err)
		}
		elapsed, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return models.Sample{}, fmt.Errorf("monitor row: elapsed_time: %w", err)
		}
		src, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return models.Sample{}, fmt.Errorf("monitor row: source_value: %w", err)
		}
		meas, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return models.Sample{}, fmt.Errorf("monitor row: measured_value: %w", err)
		}
		res, err := parseResistance(fields[4])
		if err != nil {
			return models.Sample{}, err
		}
		return models.Sample{
			Timestamp:     elapsed,
			AcquiredAt:    time.UnixMilli(int64(math.Round(wall * 1000))),
			SourceValue:   src,
			MeasuredValue: meas,
			Resistance:    res,
			SweepNumber:   1,
		}, nil
	}

	if len(fields) != 7 {
		return models.Sample{}, fmt.Errorf("sweep row: expected 7 fields, got %d", len(fields))
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: timestamp: %w", err)
	}
	src, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: source_value: %w", err)
	}
	meas, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: measured_value: %w", err)
	}
	res, err := parseResistance(fields[3])
	if err != nil {
		return models.Sample{}, err
	}
	seg, err := strconv.Atoi(fields[4])
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: segment_index: %w", err)
	}
	pt, err := strconv.Atoi(fields[5])
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: point_index: %w", err)
	}
	sweep, err := strconv.Atoi(fields[6])
	if err != nil {
		return models.Sample{}, fmt.Errorf("sweep row: sweep_number: %w", err)
	}
	return models.Sample{
		Timestamp:     ts,
		SourceValue:   src,
		MeasuredValue: meas,
		Resistance:    res,
		SegmentIndex:  seg,
		PointIndex:    pt,
		SweepNumber:   sweep,
	}, nil
}

func parseResistance(field string) (*float64, error) {
	if field == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return nil, fmt.Errorf("derived_resistance: %w", err)
	}
	return &v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
