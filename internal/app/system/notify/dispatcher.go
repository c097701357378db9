// internal/app/system/notify/dispatcher.go
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink delivers one event to one user.
type Sink interface {
	Deliver(ctx context.Context, userID string, ev Event) error
}

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 256

const deliverTimeout = 5 * time.Second

// Dispatcher queues events and delivers them to its sinks from a single
// background goroutine.
type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	log     *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	now     func() time.Time
}

// New creates a dispatcher. Call Start before events are delivered.
func New(queueSize int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:  make(chan Event, queueSize),
		sinks:  sinks,
		log:    logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Emit queues ev. A full queue drops the event.
func (d *Dispatcher) Emit(ev Event) {
	if len(ev.UserIDs) == 0 {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.log.Warn("notification queue full, event dropped",
			zap.String("kind", string(ev.Kind)),
			zap.String("event_id", ev.ID))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Start begins the delivery loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Info("notification dispatcher started",
		zap.Int("queue_size", cap(d.queue)),
		zap.Int("sinks", len(d.sinks)))
}

// Stop delivers what is already queued, then returns.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	d.log.Info("notification dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stopCh:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, uid := range ev.UserIDs {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			err := s.Deliver(ctx, uid, ev)
			cancel()
			if err != nil {
				d.log.Warn("notification delivery failed",
					zap.String("kind", string(ev.Kind)),
					zap.String("user_id", uid),
					zap.Error(err))
			}
		}
	}
}
