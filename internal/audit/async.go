package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTimeout   = 5 * time.Second
	defaultQueueSize = 256
)

// Async moves delivery off the request path. Publish only enqueues; a full
// queue drops the event with a warning.
type Async struct {
	next    Publisher
	log     *slog.Logger
	timeout time.Duration
	queue   chan Event
	wg      sync.WaitGroup
	once    sync.Once
}

func NewAsync(next Publisher, workers int, log *slog.Logger) *Async {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		next:    next,
		log:     log,
		timeout: DefaultTimeout,
		queue:   make(chan Event, defaultQueueSize),
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	select {
	case a.queue <- ev:
	default:
		a.log.Warn("audit_dropped", "type", ev.Type, "reason", "queue full")
	}
	return nil
}

func (a *Async) work() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.log.Error("audit_publish_failed", "type", ev.Type, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain. Publish
// must not be called after Close.
func (a *Async) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}
