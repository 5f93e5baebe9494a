// Package eventbus carries domain events between the store, the auth
// simulator, the chaos controller and the developer event feed.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Bus wraps an EventBus instance. A nil *Bus is valid and drops every event.
//
// In async mode Publish enqueues events and worker goroutines deliver them,
// so publishers never block on slow subscribers. A full queue drops events.
type Bus struct {
	bus   evbus.Bus
	now   func() time.Time
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	dropped atomic.Int64
}

// New creates a synchronous bus.
func New() *Bus {
	return &Bus{bus: evbus.New(), now: time.Now}
}

// NewAsync creates a bus delivering through workerNum goroutines. A single
// worker keeps delivery order equal to publish order.
func NewAsync(workerNum, queueSize int) *Bus {
	if workerNum <= 0 {
		workerNum = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	b := &Bus{
		bus:   evbus.New(),
		now:   time.Now,
		queue: make(chan Event, queueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workerNum; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case evt := <-b.queue:
			b.deliver(evt)
		}
	}
}

func (b *Bus) deliver(evt Event) {
	defer func() {
		// a panicking subscriber must not take the worker down
		_ = recover()
	}()
	b.bus.Publish(evt.Topic, evt)
}

// Publish stamps and delivers an event on topic.
func (b *Bus) Publish(topic string, data any) {
	if b == nil {
		return
	}
	evt := Event{Topic: topic, At: b.now(), Data: data}
	if b.queue == nil {
		b.bus.Publish(topic, evt)
		return
	}
	select {
	case <-b.stop:
	case b.queue <- evt:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers fn for one topic.
func (b *Bus) Subscribe(topic string, fn func(Event)) error {
	return b.bus.Subscribe(topic, fn)
}

// SubscribeAll registers fn for every topic in Topics.
func (b *Bus) SubscribeAll(fn func(Event)) error {
	for _, topic := range Topics {
		if err := b.bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close stops async workers. Pending events are discarded.
func (b *Bus) Close() {
	if b == nil || b.stop == nil {
		return
	}
	b.once.Do(func() {
		close(b.stop)
		b.wg.Wait()
	})
}
