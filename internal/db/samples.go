package db

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/robot"
)

// InsertSamples writes samples in a single transaction.
func (db *DB) InsertSamples(ctx context.Context, samples []monitor.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO telemetry_samples (robot_id, channel, x, y, z, at_ns) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, int64(s.Robot), string(s.Channel), s.X, s.Y, s.Z, s.At.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// Samples returns a robot's samples for one channel at or after since,
// oldest first. limit <= 0 means no limit; otherwise the newest limit
// samples are returned.
func (db *DB) Samples(ctx context.Context, id robot.ID, ch monitor.Channel, since time.Time, limit int) ([]monitor.Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT x, y, z, at_ns FROM (
			SELECT x, y, z, at_ns FROM telemetry_samples
			WHERE robot_id = ? AND channel = ? AND at_ns >= ?
			ORDER BY at_ns DESC LIMIT ?
		) ORDER BY at_ns ASC`,
		int64(id), string(ch), since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []monitor.Sample
	for rows.Next() {
		s := monitor.Sample{Robot: id, Channel: ch}
		var atNs int64
		if err := rows.Scan(&s.X, &s.Y, &s.Z, &atNs); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, atNs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// SampleWriterConfig configures a SampleWriter.
type SampleWriterConfig struct {
	// Buffer is how many samples may wait for the writer before new ones are
	// dropped (default 4096).
	Buffer int
	// BatchSize flushes as soon as this many samples are waiting (default 256).
	BatchSize int
	// Interval flushes whatever is waiting this often (default 1s).
	Interval time.Duration
}

// SampleWriter batches monitor samples into the database. It implements
// monitor.Recorder: RecordSample never blocks and drops the sample when the
// buffer is full.
type SampleWriter struct {
	db  *DB
	cfg SampleWriterConfig

	samples  chan monitor.Sample
	dropped  atomic.Uint64
	written  atomic.Uint64
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

var _ monitor.Recorder = (*SampleWriter)(nil)

func NewSampleWriter(db *DB, cfg SampleWriterConfig) *SampleWriter {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &SampleWriter{
		db:      db,
		cfg:     cfg,
		samples: make(chan monitor.Sample, cfg.Buffer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// RecordSample queues s for writing.
func (w *SampleWriter) RecordSample(s monitor.Sample) {
	select {
	case w.samples <- s:
	default:
		if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("sample writer buffer full, %d samples dropped so far", n)
		}
	}
}

// Run writes batches until ctx is cancelled or Stop is called, then flushes
// what is left and returns.
func (w *SampleWriter) Run(ctx context.Context) error {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	batch := make([]monitor.Sample, 0, w.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Final flushes run after ctx is done, so they use their own context.
		if err := w.db.InsertSamples(context.Background(), batch); err != nil {
			log.Printf("sample writer: %v", err)
		} else {
			w.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case s := <-w.samples:
			batch = append(batch, s)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			w.drain(&batch)
			flush()
			return nil
		case <-w.stopCh:
			w.drain(&batch)
			flush()
			return nil
		}
	}
}

func (w *SampleWriter) drain(batch *[]monitor.Sample) {
	for {
		select {
		case s := <-w.samples:
			*batch = append(*batch, s)
		default:
			return
		}
	}
}

// Stop asks Run to flush and return. It is safe to call more than once.
func (w *SampleWriter) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed when Run has returned.
func (w *SampleWriter) Done() <-chan struct{} { return w.doneCh }

// Dropped returns how many samples were dropped because the buffer was full.
func (w *SampleWriter) Dropped() uint64 { return w.dropped.Load() }

// Written returns how many samples have been committed.
func (w *SampleWriter) Written() uint64 { return w.written.Load() }
