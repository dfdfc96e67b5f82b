package core

import (
	"context"
	"errors"
	"time"
)

// Component is one coarse-grained task of the pipeline. Run blocks until
// ctx is cancelled or its input channels close, finishing the current work
// unit before returning.
type Component interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor starts components and enforces the shutdown deadline. Tasks
// that outlive the deadline are abandoned and logged as stuck_on_stop.
type Supervisor struct {
	rt       *Runtime
	deadline time.Duration
	comps    []Component
}

// NewSupervisor creates a supervisor with the configured shutdown deadline.
func NewSupervisor(rt *Runtime, deadline time.Duration) *Supervisor {
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	return &Supervisor{rt: rt, deadline: deadline}
}

// Add registers a component. Call before Run.
func (s *Supervisor) Add(c Component) { s.comps = append(s.comps, c) }

// Run starts every component and blocks until ctx is cancelled and all
// components have stopped or the shutdown deadline has passed.
func (s *Supervisor) Run(ctx context.Context) {
	done := make([]chan struct{}, len(s.comps))
	for i, c := range s.comps {
		done[i] = make(chan struct{})
		go func(c Component, ch chan struct{}) {
			defer close(ch)
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.rt.Event("error", c.Name(), "run_failed", map[string]any{"error": err.Error()})
			}
			s.rt.Event("info", c.Name(), "stopped", nil)
		}(c, done[i])
	}

	<-ctx.Done()

	// Hard deadline for the whole group, not per component.
	timer := time.NewTimer(s.deadline)
	defer timer.Stop()
	for i := range s.comps {
		select {
		case <-done[i]:
		case <-timer.C:
			// Deadline spent; anything not yet stopped is abandoned.
			for j := i; j < len(s.comps); j++ {
				select {
				case <-done[j]:
				default:
					s.rt.Event("error", s.comps[j].Name(), "stuck_on_stop", nil)
				}
			}
			return
		}
	}
}
