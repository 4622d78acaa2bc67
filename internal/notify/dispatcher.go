package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher decouples notification delivery from the approval
// transaction: events are enqueued without blocking and delivered by a
// background worker. When the queue is full the event is dropped and
// logged; notification loss must never stall a decision.
type Dispatcher struct {
	notifier Notifier
	queue    chan Event
	logger   *zap.Logger

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(notifier Notifier, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Event, queueSize),
		logger:   logger,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker
func (d *Dispatcher) Start() {
	go d.run()
	d.logger.Info("Notification dispatcher started", zap.Int("queue_size", cap(d.queue)))
}

// Stop drains nothing: pending events are abandoned, in-flight delivery
// finishes. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
	<-d.done
	d.logger.Info("Notification dispatcher stopped")
}

// Enqueue submits an event for delivery without blocking
func (d *Dispatcher) Enqueue(event Event) {
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("kind", string(event.Kind)))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopped:
			return
		case event := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := d.notifier.Notify(ctx, event); err != nil {
				d.logger.Warn("Notification delivery failed",
					zap.String("kind", string(event.Kind)),
					zap.Error(err))
			}
			cancel()
		}
	}
}
