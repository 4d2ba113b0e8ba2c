// Package registry tracks channel subscriptions and fans released events
// out to local subscribers.
//
// Fan-out is fire-and-forget: each subscription owns a bounded outbound
// queue drained by its own goroutine, so a slow subscriber never blocks
// delivery to others on the same channel. A full queue drops the
// delivery for that subscriber only and reports it through a callback.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// Handler processes deliveries for a subscription.
type Handler interface {
	// Handle receives one event with its delivery metadata.
	Handle(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
	return f(ctx, evt, meta)
}

// Config configures the registry.
type Config struct {
	// QueueSize is the outbound queue length per subscription.
	// Default: 256
	QueueSize int

	// DefaultDeliveryWindow is assumed for subscriptions that do not
	// state how long they will wait for out-of-order arrivals.
	// Default: 50ms
	DefaultDeliveryWindow time.Duration

	// OnDrop is called when a subscriber's queue is full and a delivery
	// is discarded for that subscriber. The full delivery is passed so
	// its metadata survives into dead-letter capture.
	OnDrop func(subscriptionID string, d event.Delivery)

	// OnError is called when a handler returns an error.
	OnError func(subscriptionID string, evt event.Event, err error)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	QueueSize:             256,
	DefaultDeliveryWindow: 50 * time.Millisecond,
}

// Registry owns the subscription table. All mutation goes through its
// methods; per-subscription delivery state is owned by the subscription's
// own goroutine.
type Registry struct {
	config Config

	mu        sync.RWMutex
	byChannel map[string]map[string]*Subscription
	subs      map[string]*Subscription

	closed atomic.Bool
}

// New creates a registry.
func New(config Config) *Registry {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig.QueueSize
	}
	if config.DefaultDeliveryWindow <= 0 {
		config.DefaultDeliveryWindow = DefaultConfig.DefaultDeliveryWindow
	}
	return &Registry{
		config:    config,
		byChannel: make(map[string]map[string]*Subscription),
		subs:      make(map[string]*Subscription),
	}
}

// Subscription is one subscriber's attachment to a channel.
type Subscription struct {
	id      string
	channel string
	window  time.Duration
	handler Handler

	queue chan event.Delivery
	done  chan struct{}
	once  sync.Once

	reg *Registry
}

// ID returns the subscription handle.
func (s *Subscription) ID() string { return s.id }

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// DeliveryWindow returns how long this subscriber expects the buffer to
// wait for out-of-order arrivals.
func (s *Subscription) DeliveryWindow() time.Duration { return s.window }

// Subscribe attaches a handler to a channel.
// A zero delivery window uses the registry default.
func (r *Registry) Subscribe(channel string, window time.Duration, handler Handler) (*Subscription, error) {
	if r.closed.Load() {
		return nil, event.ErrClosed
	}
	if channel == "" {
		return nil, event.ErrInvalidChannel
	}
	if window <= 0 {
		window = r.config.DefaultDeliveryWindow
	}

	sub := &Subscription{
		id:      uuid.New().String(),
		channel: channel,
		window:  window,
		handler: handler,
		queue:   make(chan event.Delivery, r.config.QueueSize),
		done:    make(chan struct{}),
		reg:     r,
	}

	r.mu.Lock()
	if r.byChannel[channel] == nil {
		r.byChannel[channel] = make(map[string]*Subscription)
	}
	r.byChannel[channel][sub.id] = sub
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go sub.process()
	return sub, nil
}

// Deliver fans one delivery out to every subscriber of its channel.
// Enqueueing is non-blocking; a full subscriber queue drops for that
// subscriber only.
func (r *Registry) Deliver(d event.Delivery) {
	if r.closed.Load() {
		return
	}

	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.byChannel[d.Event.Channel]))
	for _, sub := range r.byChannel[d.Event.Channel] {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- d:
		default:
			if r.config.OnDrop != nil {
				r.config.OnDrop(sub.id, d)
			}
		}
	}
}

// DeliverTo enqueues a delivery for a single subscription, bypassing
// channel fan-out. Used for redriving dead letters back to the
// subscriber that originally failed. Reports whether the subscription
// still exists.
func (r *Registry) DeliverTo(subscriptionID string, d event.Delivery) bool {
	if r.closed.Load() {
		return false
	}

	r.mu.RLock()
	sub, ok := r.subs[subscriptionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case sub.queue <- d:
	default:
		if r.config.OnDrop != nil {
			r.config.OnDrop(sub.id, d)
		}
	}
	return true
}

// MaxDeliveryWindow returns the largest delivery window among a
// channel's subscribers, or zero when the channel has none. The buffer
// uses this as its initial window hint.
func (r *Registry) MaxDeliveryWindow(channel string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max time.Duration
	for _, sub := range r.byChannel[channel] {
		if sub.window > max {
			max = sub.window
		}
	}
	return max
}

// Subscribers returns how many subscriptions a channel has.
func (r *Registry) Subscribers(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel[channel])
}

// Close stops delivery and releases every subscription.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		sub.stop()
	}
	r.byChannel = make(map[string]map[string]*Subscription)
	r.subs = make(map[string]*Subscription)
}

// process drains the subscription's outbound queue.
func (s *Subscription) process() {
	for {
		select {
		case d := <-s.queue:
			err := s.handler.Handle(context.Background(), d.Event, d.Meta)
			if err != nil && s.reg.config.OnError != nil {
				s.reg.config.OnError(s.id, d.Event, err)
			}
		case <-s.done:
			return
		}
	}
}

// Unsubscribe removes the subscription. Future deliveries stop
// immediately; anything already queued is discarded without error.
func (s *Subscription) Unsubscribe() {
	s.reg.mu.Lock()
	if chanSubs, ok := s.reg.byChannel[s.channel]; ok {
		delete(chanSubs, s.id)
		if len(chanSubs) == 0 {
			delete(s.reg.byChannel, s.channel)
		}
	}
	delete(s.reg.subs, s.id)
	s.reg.mu.Unlock()

	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
