// Package alert forwards critical security events to operators.
//
// A Sink delivers one event somewhere (log, Redis channel, e-mail).
// Dispatcher decouples producers from slow sinks: Notify never blocks and
// a single worker drains the queue into every configured sink.
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serofero/server/models"
)

// Sink delivers a single event.
type Sink interface {
	Send(ctx context.Context, ev models.SecurityEvent) error
}

// Notifier is the producer side consumed by the call security manager.
type Notifier interface {
	Notify(ev models.SecurityEvent)
}

const (
	defaultQueueSize = 256
	sendTimeout      = 10 * time.Second
)

// Dispatcher queues events and fans each one out to all sinks.
type Dispatcher struct {
	sinks []Sink
	queue chan models.SecurityEvent
	log   *zap.Logger

	// mu guards closed and the send on queue, so Notify never races the
	// close of queue.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the delivery worker. Close stops it after the
// queue has drained.
func NewDispatcher(log *zap.Logger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan models.SecurityEvent, defaultQueueSize),
		log:   log,
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues ev. When the queue is full, or the dispatcher is closed,
// the event is dropped and logged.
func (d *Dispatcher) Notify(ev models.SecurityEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("alert dispatcher closed, event dropped", zap.String("type", ev.Type))
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("alert queue full, event dropped", zap.String("type", ev.Type))
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// It is safe to call more than once and concurrently with Notify.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := d.fanOut(ctx, ev); err != nil {
			d.log.Error("alert delivery failed", zap.String("type", ev.Type), zap.Error(err))
		}
		cancel()
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, ev models.SecurityEvent) error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
