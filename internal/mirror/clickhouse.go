// Package mirror ships accepted events to a ClickHouse archive table
// for long-horizon BI queries. The archive is a convenience copy: the
// Postgres event log stays the source of truth and this service never
// reads the archive back.
package mirror

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/chronicle/internal/event"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// Writer is the mirror sink. Write must never block the ingest path.
type Writer interface {
	Write(e *event.Event)
	Close()
}

// NopWriter discards events. Used when no CLICKHOUSE_DSN is set.
type NopWriter struct{}

func (NopWriter) Write(*event.Event) {}
func (NopWriter) Close()             {}

// ClickHouseWriter mirrors events to ClickHouse asynchronously.
// Write is non-blocking; events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *event.Event
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter connects to ClickHouse and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN enables TLS when ?secure=true is in the DSN; enforce it
	// here as a safety net for ClickHouse Cloud connections.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *event.Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues an event for async mirroring.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(e *event.Event) {
	select {
	case w.buffer <- e:
	default:
		w.logger.Warn("clickhouse mirror buffer full, dropping event",
			zap.String("event_id", e.ID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it
// to finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*event.Event, 0, flushBatch)

	for {
		select {
		case e := <-w.buffer:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case e := <-w.buffer:
					batch = append(batch, e)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO agent_events_archive (
			id, ts, session_id, agent_id, event_type, severity,
			payload, metadata, prev_hash, hash
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		prevHash := ""
		if e.PrevHash != nil {
			prevHash = *e.PrevHash
		}
		if err := batch.Append(
			e.ID,
			e.Timestamp,
			e.SessionID,
			e.AgentID,
			string(e.Type),
			string(e.Severity),
			string(event.ObjectOrEmpty(e.Payload)),
			string(event.ObjectOrEmpty(e.Metadata)),
			prevHash,
			e.Hash,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.ID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
