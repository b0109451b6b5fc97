// Package progress streams human readable progress of a session to whoever is
// watching it. Delivery is push only: an event sent while nobody is watching is
// logged locally and then forgotten.
package progress

import (
	"permitinfo-backend/internal/components/chrono"
	"permitinfo-backend/internal/components/telemetry"
	"sync"
	"time"

	"github.com/mazen160/go-random"
)

const (
	report_channel_send = "channel.send"
	report_sink_send    = "sink.send"
)

// Event is a single progress update, Image is an optional png snapshot.
type Event struct {
	Log   string
	Image []byte
	Time  time.Time
}

// NewID generates a session id for callers that did not supply one.
func NewID() (string, error) {
	return random.String(16)
}

// Channel is the consumer side of one session's progress, it is opened when a
// consumer connects and closed when that consumer leaves or the session ends.
type Channel struct {
	id       string
	registry *Registry

	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}
}

func (c *Channel) ID() string {
	return c.id
}

// Events is closed once the channel is closed, events buffered before that
// are still delivered.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send never blocks, an event that does not fit in the buffer of a slow
// consumer is dropped.
func (c *Channel) Send(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.registry.tel.ReportDebug(report_channel_send, c.id, "closed", ev.Log)
		return
	}
	select {
	case c.events <- ev:
	default:
		c.registry.tel.ReportWarning(report_channel_send, c.id, "consumer too slow, dropped", ev.Log)
	}
}

// Close unregisters the channel, it is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	close(c.done)
	c.mu.Unlock()

	c.registry.remove(c)
}

// Registry maps session ids to the channel of their connected consumer. It
// lives as long as the process.
type Registry struct {
	clock  chrono.API
	tel    telemetry.API
	buffer int

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry(clock chrono.API, tel telemetry.API) *Registry {
	return &Registry{
		clock:    clock,
		tel:      telemetry.NewScopedAPI("progress", tel),
		buffer:   64,
		channels: map[string]*Channel{},
	}
}

// Open registers a channel for `id`, a consumer that was already connected
// to the same id is disconnected.
func (r *Registry) Open(id string) *Channel {
	ch := &Channel{
		id:       id,
		registry: r,
		events:   make(chan Event, r.buffer),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	previous := r.channels[id]
	r.channels[id] = ch
	r.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return ch
}

func (r *Registry) Lookup(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Close closes the channel currently registered for `id`, if any.
func (r *Registry) Close(id string) {
	ch, ok := r.Lookup(id)
	if ok {
		ch.Close()
	}
}

func (r *Registry) remove(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[ch.id] == ch {
		delete(r.channels, ch.id)
	}
}

// Len returns the number of connected consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Sink returns the producer side for `id`.
func (r *Registry) Sink(id string) Sink {
	return Sink{id: id, registry: r}
}

// Sink is what a session writes its progress to. The consumer is looked up on
// every send so that a consumer connecting halfway through still gets the
// rest of the events.
type Sink struct {
	id       string
	registry *Registry
}

func (s Sink) ID() string {
	return s.id
}

func (s Sink) Send(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.registry.clock.Now()
	}
	ch, ok := s.registry.Lookup(s.id)
	if !ok {
		s.registry.tel.ReportDebug(report_sink_send, s.id, ev.Log)
		return
	}
	ch.Send(ev)
}

// Close ends the stream for the consumer, if one is connected.
func (s Sink) Close() {
	s.registry.Close(s.id)
}
