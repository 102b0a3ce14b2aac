// Package audittest provides an in-memory audit publisher for tests.
package audittest

import (
	"context"
	"sync"

	"github.com/Skotchmaster/sports_program/internal/audit"
)

type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

func (r *Recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
