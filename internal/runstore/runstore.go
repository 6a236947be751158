// Package runstore keeps a run's samples in a DuckDB file so archived runs
// can be queried in ranges for plotting and analysis without re-reading the
// CSV logs. One store per reviewed run; session-scoped files are removed on
// Close.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/iv-workbench/backend/internal/models"
)

const defaultBatchSize = 10000

// RunStore is a DuckDB-backed sample store for one run.
type RunStore struct {
	db     *sql.DB
	dbPath string
	kind   models.RunKind

	sampleCount int
	batch       []models.Sample
	batchSize   int
	lastError   error

	// keep session DB files out of the archive listing; removed on Close
	removeOnClose bool
}

// New creates a store for a run under the temp directory.
func New(tempDir, runID string, kind models.RunKind) (*RunStore, error) {
	dbPath := filepath.Join(tempDir, fmt.Sprintf("run_%s.duckdb", runID))
	rs, err := NewAtPath(dbPath, kind)
	if err != nil {
		return nil, err
	}
	rs.removeOnClose = true
	return rs, nil
}

// NewAtPath creates a store at a specific path.
func NewAtPath(dbPath string, kind models.RunKind) (*RunStore, error) {
	connector, err := duckdb.NewConnector(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating DuckDB connector: %w", err)
	}
	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE samples (
			id             INTEGER PRIMARY KEY,
			ts             DOUBLE NOT NULL,
			acquired_at    BIGINT NOT NULL,
			source_value   DOUBLE NOT NULL,
			measured_value DOUBLE NOT NULL,
			resistance     DOUBLE,
			segment_index  INTEGER NOT NULL,
			point_index    INTEGER NOT NULL,
			sweep_number   INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		os.Remove(dbPath)
		return nil, fmt.Errorf("creating samples table: %w", err)
	}

	return &RunStore{
		db:        db,
		dbPath:    dbPath,
		kind:      kind,
		batchSize: defaultBatchSize,
		batch:     make([]models.Sample, 0, defaultBatchSize),
	}, nil
}

// Ingest builds a store from a complete sample slice and finalizes it.
func Ingest(tempDir, runID string, kind models.RunKind, samples []models.Sample) (*RunStore, error) {
	rs, err := New(tempDir, runID, kind)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		rs.Add(s)
	}
	if err := rs.Finalize(); err != nil {
		rs.Close()
		return nil, err
	}
	return rs, nil
}

// Kind returns the run kind the store was built for.
func (rs *RunStore) Kind() models.RunKind { return rs.kind }

// Add batches one sample for insertion.
func (rs *RunStore) Add(s models.Sample) {
	rs.batch = append(rs.batch, s)
	rs.sampleCount++
	if len(rs.batch) >= rs.batchSize {
		if err := rs.flushBatch(); err != nil {
			rs.lastError = err
			fmt.Printf("[RunStore] flush error: %v\n", err)
		}
	}
}

// LastError returns the last batch-flush error.
func (rs *RunStore) LastError() error { return rs.lastError }

// flushBatch appends the batch through the native Appender API.
func (rs *RunStore) flushBatch() error {
	if len(rs.batch) == 0 {
		return nil
	}

	conn, err := rs.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("getting connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb connection")
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "samples")
		if err != nil {
			return fmt.Errorf("creating appender: %w", err)
		}
		defer appender.Close()

		baseID := rs.sampleCount - len(rs.batch)
		for i, s := range rs.batch {
			var resistance interface{}
			if s.Resistance != nil {
				resistance = *s.Resistance
			}
			err := appender.AppendRow(
				int32(baseID+i),
				s.Timestamp,
				s.AcquiredAt.UnixMilli(),
				s.SourceValue,
				s.MeasuredValue,
				resistance,
				int32(s.SegmentIndex),
				int32(s.PointIndex),
				int32(s.SweepNumber),
			)
			if err != nil {
				return fmt.Errorf("appending row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return err
	}

	rs.batch = rs.batch[:0]
	return nil
}

// Finalize flushes the remaining batch and indexes the table for queries.
func (rs *RunStore) Finalize() error {
	if err := rs.flushBatch(); err != nil {
		return err
	}
	if _, err := rs.db.Exec("CREATE INDEX idx_point ON samples(point_index)"); err != nil {
		return fmt.Errorf("index creation failed: %w", err)
	}
	return nil
}

// Len returns the number of samples added.
func (rs *RunStore) Len() int { return rs.sampleCount }

// Samples returns samples [offset, offset+limit) in acquisition order.
func (rs *RunStore) Samples(ctx context.Context, offset, limit int) ([]models.Sample, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT ts, acquired_at, source_value, measured_value, resistance,
		       segment_index, point_index, sweep_number
		FROM samples ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var s models.Sample
		var wall int64
		var resistance sql.NullFloat64
		if err := rows.Scan(&s.Timestamp, &wall, &s.SourceValue, &s.MeasuredValue,
			&resistance, &s.SegmentIndex, &s.PointIndex, &s.SweepNumber); err != nil {
			return nil, err
		}
		s.AcquiredAt = time.UnixMilli(wall)
		if resistance.Valid {
			v := resistance.Float64
			s.Resistance = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// All returns every sample in acquisition order.
func (rs *RunStore) All(ctx context.Context) ([]models.Sample, error) {
	return rs.Samples(ctx, 0, rs.sampleCount)
}

// Envelope is the axis bounds for plot scaling.
type Envelope struct {
	SourceMin   float64 `json:"sourceMin"`
	SourceMax   float64 `json:"sourceMax"`
	MeasuredMin float64 `json:"measuredMin"`
	MeasuredMax float64 `json:"measuredMax"`
}

// Envelope returns min/max of the source and measured values.
func (rs *RunStore) Envelope(ctx context.Context) (*Envelope, error) {
	row := rs.db.QueryRowContext(ctx, `
		SELECT MIN(source_value), MAX(source_value),
		       MIN(measured_value), MAX(measured_value)
		FROM samples`)
	var env Envelope
	if err := row.Scan(&env.SourceMin, &env.SourceMax, &env.MeasuredMin, &env.MeasuredMax); err != nil {
		return nil, fmt.Errorf("querying envelope: %w", err)
	}
	return &env, nil
}

// Close releases the database and removes session-scoped files.
func (rs *RunStore) Close() error {
	err := rs.db.Close()
	if rs.removeOnClose {
		os.Remove(rs.dbPath)
	}
	return err
}
