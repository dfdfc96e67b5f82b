// Package core owns the process-wide runtime handle: the bus, the clock,
// the structured event log, and crash artifacts. The handle is constructed
// once at startup and passed to each component at construction; there are
// no package-level mutable globals.
package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/clock"
	"github.com/focusfield/focusfield/internal/msg"
)

// Runtime is the explicit runtime handle shared by all components.
type Runtime struct {
	Bus         *bus.Bus
	Clock       clock.Clock
	Log         zerolog.Logger
	ArtifactDir string

	logSeq     atomic.Uint64
	shutdownMu sync.Mutex
	shutdownFn func()
	crashed    atomic.Bool
}

// NewRuntime assembles the handle. artifactDir may be empty; crash dumps
// then land under the working directory.
func NewRuntime(b *bus.Bus, clk clock.Clock, log zerolog.Logger, artifactDir string) *Runtime {
	return &Runtime{Bus: b, Clock: clk, Log: log, ArtifactDir: artifactDir}
}

// SetShutdown installs the function invoked by RequestShutdown, typically
// the root context cancel.
func (r *Runtime) SetShutdown(fn func()) {
	r.shutdownMu.Lock()
	r.shutdownFn = fn
	r.shutdownMu.Unlock()
}

// RequestShutdown triggers an orderly stop. Safe to call from any component.
func (r *Runtime) RequestShutdown() {
	r.shutdownMu.Lock()
	fn := r.shutdownFn
	r.shutdownFn = nil
	r.shutdownMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Crashed reports whether a kind-4 fault was recorded this run. The main
// process maps this to a non-zero exit code.
func (r *Runtime) Crashed() bool { return r.crashed.Load() }

// Event records a structured event to the process log and publishes it on
// log.events. Publish failures after shutdown are ignored; the event still
// reaches the process log.
func (r *Runtime) Event(level, module, event string, fields map[string]any) {
	ev := r.logAt(level).Str("module", module).Str("event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Send()

	_ = bus.Publish(r.Bus, msg.TopicLogEvents, msg.LogEvent{
		TNs:    r.Clock.NowNs(),
		Seq:    r.logSeq.Add(1),
		Level:  level,
		Module: module,
		Event:  event,
		Fields: fields,
	})
}

func (r *Runtime) logAt(level string) *zerolog.Event {
	switch level {
	case "debug":
		return r.Log.Debug()
	case "warn":
		return r.Log.Warn()
	case "error":
		return r.Log.Error()
	case "fatal":
		// zerolog's Fatal would os.Exit; kind-4 faults shut down in order.
		return r.Log.Error().Bool("fatal", true)
	default:
		return r.Log.Info()
	}
}

// crashRecord is the state snapshot written for programming faults.
type crashRecord struct {
	TNs    int64  `json:"t_ns"`
	Module string `json:"module"`
	Reason string `json:"reason"`
	State  any    `json:"state"`
}

// Crash records a kind-4 programming fault: it writes crash/crash.json with
// the offending component's state snapshot, emits a fatal event, and
// requests an orderly shutdown. It never unwinds.
func (r *Runtime) Crash(module, reason string, state any) {
	r.crashed.Store(true)

	dir := filepath.Join(r.ArtifactDir, "crash")
	path := filepath.Join(dir, "crash.json")
	if err := os.MkdirAll(dir, 0o755); err == nil {
		rec := crashRecord{TNs: r.Clock.NowNs(), Module: module, Reason: reason, State: state}
		if data, err := json.MarshalIndent(rec, "", "  "); err == nil {
			_ = os.WriteFile(path, data, 0o644)
		}
	}

	r.Event("fatal", module, "invariant_violation", map[string]any{
		"reason": reason,
		"crash":  path,
	})
	r.RequestShutdown()
}
