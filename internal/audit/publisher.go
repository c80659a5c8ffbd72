// Package audit implements the fire-and-forget audit sink. Emission must
// never block or fail the request path: events flow through a buffered
// channel to a background worker, and overflow drops the event with a log
// line rather than applying backpressure.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher fans events out to a Store through a buffered channel.
type Publisher struct {
	store  Store
	logger *slog.Logger
	inbox  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

const defaultBuffer = 256

// NewPublisher starts the background worker. Call Close to drain and stop.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	p := &Publisher{
		store:  store,
		logger: logger,
		inbox:  make(chan Event, defaultBuffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Emit queues an event. Never blocks; a full buffer drops the event.
func (p *Publisher) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event", "type", event.Type)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.inbox {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("audit append failed", "type", event.Type, "error", err)
		}
	}
}

// Close stops accepting events, drains the buffer, and waits for the worker.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.inbox)
		<-p.done
	})
}
