// Package tracedb persists a run's diagnostic streams (log events, lock
// transitions, health snapshots) to a sqlite file for post-run analysis.
package tracedb

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/msg"
)

//go:embed schema.sql
var schemaSQL string

// TraceDB wraps the per-run sqlite store.
type TraceDB struct {
	*sql.DB
}

// Open creates or opens the trace database and applies the schema.
func Open(path string) (*TraceDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &TraceDB{db}, nil
}

// InsertLogEvent persists one structured event.
func (t *TraceDB) InsertLogEvent(ev msg.LogEvent) error {
	var fields []byte
	if ev.Fields != nil {
		fields, _ = json.Marshal(ev.Fields)
	}
	_, err := t.Exec(
		`INSERT INTO log_events (t_ns, level, module, event, fields_json) VALUES (?, ?, ?, ?, ?)`,
		ev.TNs, ev.Level, ev.Module, ev.Event, string(fields))
	return err
}

// InsertLock persists one TargetLock tick.
func (t *TraceDB) InsertLock(l msg.TargetLock) error {
	var id any
	if l.TargetID != nil {
		id = *l.TargetID
	}
	var bearing any
	if l.TargetBearingDeg != nil {
		bearing = *l.TargetBearingDeg
	}
	_, err := t.Exec(
		`INSERT INTO lock_transitions (t_ns, seq, state, mode, target_id, bearing_deg, confidence, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.TNs, l.Seq, string(l.State), string(l.Mode), id, bearing, l.Confidence, l.Reason)
	return err
}

// InsertHealth persists one health snapshot as JSON.
func (t *TraceDB) InsertHealth(h msg.HealthSnapshot) error {
	blob, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = t.Exec(
		`INSERT INTO health_snapshots (t_ns, seq, snapshot_json) VALUES (?, ?, ?)`,
		h.TNs, h.Seq, string(blob))
	return err
}

// Writer is the component that feeds the store from the bus. Inserts are
// off the audio hot path; the diagnostic topics are low-rate.
type Writer struct {
	rt *core.Runtime
	db *TraceDB
}

// NewWriter wires the store writer.
func NewWriter(rt *core.Runtime, db *TraceDB) *Writer {
	return &Writer{rt: rt, db: db}
}

func (w *Writer) Name() string { return "core.tracedb" }

// Run drains the diagnostic topics until shutdown.
func (w *Writer) Run(ctx context.Context) error {
	events, err := bus.Subscribe(w.rt.Bus, msg.TopicLogEvents, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer events.Close()
	locks, err := bus.Subscribe(w.rt.Bus, msg.TopicTargetLock, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer locks.Close()
	healths, err := bus.Subscribe(w.rt.Bus, msg.TopicHealth, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer healths.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events.C():
			if !ok {
				return nil
			}
			w.insert(w.db.InsertLogEvent(ev))
		case l, ok := <-locks.C():
			if !ok {
				return nil
			}
			w.insert(w.db.InsertLock(l))
		case h, ok := <-healths.C():
			if !ok {
				return nil
			}
			w.insert(w.db.InsertHealth(h))
		}
	}
}

func (w *Writer) insert(err error) {
	if err != nil {
		w.rt.Log.Error().Err(err).Str("module", "core.tracedb").Msg("insert failed")
	}
}
