package causalbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/causalbus/pkg/causalbus/buffer"
	"github.com/randalmurphal/causalbus/pkg/causalbus/cluster"
	"github.com/randalmurphal/causalbus/pkg/causalbus/compress"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
	"github.com/randalmurphal/causalbus/pkg/causalbus/journal"
	"github.com/randalmurphal/causalbus/pkg/causalbus/observability"
	"github.com/randalmurphal/causalbus/pkg/causalbus/quota"
	"github.com/randalmurphal/causalbus/pkg/causalbus/registry"
)

// Handler processes deliveries for a subscription.
type Handler = registry.Handler

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc = registry.HandlerFunc

// Subscription is one subscriber's attachment to a channel.
type Subscription = registry.Subscription

// Bus is one node of the event bus. It stamps, admits, orders, and
// fans out events locally, and relays them to cluster peers when a
// transport is configured.
type Bus struct {
	config   Config
	clock    *hlc.Clock
	quota    *quota.Controller
	registry *registry.Registry
	bridge   *cluster.Bridge
	journal  journal.Store
	metrics  observability.MetricsRecorder

	deadLetters *registry.DeadLetterBuffer

	mu       sync.Mutex
	channels map[string]*channelPipeline

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a bus node and starts its delivery machinery.
func New(config Config) (*Bus, error) {
	if config.NodeID == "" {
		config.NodeID = "node-" + uuid.NewString()[:8]
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}
	if config.Spans == nil {
		config.Spans = observability.NoopSpanManager{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		config: config,
		clock: hlc.NewClock(hlc.ClockConfig{
			MaxDrift: config.MaxDrift,
		}),
		quota: quota.NewController(quota.ControllerConfig{
			Default: config.Quota,
		}),
		journal:  config.Journal,
		metrics:  config.Metrics,
		channels: make(map[string]*channelPipeline),
		ctx:      ctx,
		cancel:   cancel,
	}

	if config.DeadLetterSize > 0 {
		b.deadLetters = registry.NewDeadLetterBuffer(config.DeadLetterSize)
	}

	b.registry = registry.New(registry.Config{
		QueueSize: config.QueueSize,
		OnDrop: func(subID string, d event.Delivery) {
			observability.LogSubscriberDrop(config.Logger, subID, d.Event.Channel, d.Event.ID)
			if b.deadLetters != nil {
				b.deadLetters.Add(registry.DeadLetter{
					Delivery:       d,
					SubscriptionID: subID,
					Reason:         registry.ReasonQueueFull,
				})
			}
			if config.OnDrop != nil {
				config.OnDrop(subID, d.Event.Channel, d.Event)
			}
		},
		OnError: func(subID string, evt event.Event, err error) {
			if b.deadLetters != nil {
				b.deadLetters.Add(registry.DeadLetter{
					Delivery:       event.Delivery{Event: evt},
					SubscriptionID: subID,
					Reason:         registry.ReasonHandlerError,
					Err:            err,
				})
			}
			if config.OnHandlerError != nil {
				config.OnHandlerError(subID, evt, err)
			}
		},
	})

	for name, ch := range config.Channels {
		if ch.Unlimited {
			b.quota.SetUnlimited(name)
			continue
		}
		if ch.Quota != (quota.Limit{}) {
			b.quota.SetLimit(name, ch.Quota)
		}
	}

	if config.Transport != nil && len(config.Peers) > 0 {
		clusterCfg := config.Cluster
		clusterCfg.NodeID = config.NodeID
		clusterCfg.Peers = config.Peers
		clusterCfg.Logger = config.Logger
		clusterCfg.OnPartitionSuspected = func(peer string) {
			b.emitSignal(PartitionChannel, PartitionSignal{Peer: peer})
			if config.OnPartitionSuspected != nil {
				config.OnPartitionSuspected(peer)
			}
		}
		clusterCfg.OnPartitionResolved = func(peer string) {
			b.emitSignal(PartitionChannel, PartitionSignal{Peer: peer, Resolved: true})
			if config.OnPartitionResolved != nil {
				config.OnPartitionResolved(peer)
			}
		}
		b.bridge = cluster.NewBridge(config.Transport, b.ingestPeer, b.clock.Now, clusterCfg)
	}

	return b, nil
}

// NodeID returns this node's identity.
func (b *Bus) NodeID() string { return b.config.NodeID }

// Publish stamps an event and admits it into the channel's pipeline.
// It returns the content-derived event id.
//
// Publishing on a reserved "causalbus." channel fails with
// ErrInvalidChannel: signal channels are written only by the bus.
// A publish turned away by quota fails with ErrQuotaExceeded, and an
// OverflowSignal goes out on OverflowChannel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte, opts ...PublishOption) (string, error) {
	if b.closed.Load() {
		return "", event.ErrClosed
	}
	if channel == "" || isReserved(channel) {
		return "", &event.BusError{
			Channel: channel,
			Message: "channel is empty or reserved",
			Err:     event.ErrInvalidChannel,
		}
	}

	var pc publishConfig
	for _, opt := range opts {
		opt(&pc)
	}

	if pc.bypass {
		return b.publishBypass(ctx, channel, payload)
	}

	if !b.quota.Take(channel) {
		tokens := b.quota.Tokens(channel)
		observability.LogQuotaRejected(b.config.Logger, channel, tokens)
		b.metrics.RecordPublish(ctx, channel, true)
		b.emitSignal(OverflowChannel, OverflowSignal{Channel: channel, TokensRemaining: tokens})
		if b.config.OnOverflow != nil {
			b.config.OnOverflow(channel)
		}
		return "", &event.BusError{
			Channel: channel,
			Message: "variety quota exhausted",
			Err:     event.ErrQuotaExceeded,
		}
	}

	evt := event.New(channel, payload, b.clock.Now(), b.config.NodeID)
	ctx, span := b.config.Spans.StartPublishSpan(ctx, channel, evt.ID)
	defer b.config.Spans.EndSpanWithError(span, nil)
	observability.LogPublish(b.config.Logger, channel, evt.ID, false)
	b.metrics.RecordPublish(ctx, channel, false)

	p := b.pipeline(channel)
	forced := p.buf.Insert(evt, event.DeliveryMetadata{})
	p.deliverForced(ctx, forced)

	b.relay(ctx, evt)
	return evt.ID, nil
}

// publishBypass hands the event straight to subscribers, skipping
// quota, buffering, and compression. Latency beats ordering here; the
// event still carries a causal stamp and still relays to peers.
func (b *Bus) publishBypass(ctx context.Context, channel string, payload []byte) (string, error) {
	evt := event.New(channel, payload, b.clock.Now(), b.config.NodeID)
	ctx, span := b.config.Spans.StartPublishSpan(ctx, channel, evt.ID)
	defer b.config.Spans.EndSpanWithError(span, nil)
	observability.LogPublish(b.config.Logger, channel, evt.ID, true)
	b.metrics.RecordPublish(ctx, channel, false)

	d := event.Delivery{Event: evt}
	b.registry.Deliver(d)
	b.metrics.RecordDelivery(ctx, channel, 0, false, false)
	b.journalAppend(d, time.Now())

	b.relay(ctx, evt)
	return evt.ID, nil
}

// Subscribe attaches a handler to a channel. Reserved signal channels
// are subscribable like any other.
func (b *Bus) Subscribe(channel string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if b.closed.Load() {
		return nil, event.ErrClosed
	}

	var sc subscribeConfig
	for _, opt := range opts {
		opt(&sc)
	}
	sub, err := b.registry.Subscribe(channel, sc.window, handler)
	if err != nil {
		return nil, err
	}

	// A late subscriber with a wider window still influences an already
	// running channel.
	if sc.window > 0 {
		b.mu.Lock()
		if p, ok := b.channels[channel]; ok {
			p.buf.Widen(sc.window)
		}
		b.mu.Unlock()
	}
	return sub, nil
}

// History returns up to limit journal records for a channel, newest
// first. Without a configured journal it returns nothing.
func (b *Bus) History(channel string, limit int) ([]journal.Record, error) {
	if b.journal == nil {
		return nil, nil
	}
	return b.journal.Recent(channel, limit)
}

// ChannelStats returns the ordered-delivery buffer counters for a
// channel, or zero stats if the channel has no pipeline yet.
func (b *Bus) ChannelStats(channel string) buffer.Stats {
	b.mu.Lock()
	p, ok := b.channels[channel]
	b.mu.Unlock()
	if !ok {
		return buffer.Stats{}
	}
	return p.buf.Stats()
}

// DeadLetters returns failed deliveries captured since the last call,
// oldest first, removing them from the buffer. Without a configured
// DeadLetterSize it returns nothing.
func (b *Bus) DeadLetters(limit int) []registry.DeadLetter {
	if b.deadLetters == nil {
		return nil
	}
	return b.deadLetters.Take(limit)
}

// Redrive re-sends up to limit dead letters, each only to the
// subscription that originally failed; other subscribers of the channel
// already received the event. Letters whose subscription has since
// unsubscribed are discarded. It returns how many were re-sent; letters
// that fail again are captured again.
func (b *Bus) Redrive(limit int) int {
	if b.deadLetters == nil || b.closed.Load() {
		return 0
	}
	letters := b.deadLetters.Take(limit)
	sent := 0
	for _, letter := range letters {
		d := letter.Delivery
		d.Meta.Reordered = true // redriven out of causal sequence
		if b.registry.DeliverTo(letter.SubscriptionID, d) {
			sent++
		}
	}
	return sent
}

// PeerStates returns cluster peer health keyed by address. Without a
// transport it returns an empty map.
func (b *Bus) PeerStates() map[string]cluster.PeerState {
	if b.bridge == nil {
		return map[string]cluster.PeerState{}
	}
	return b.bridge.Peers()
}

// Close stops delivery, disconnects peers, and releases the journal.
// Events still buffered are flushed to subscribers before shutdown.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if b.bridge != nil {
		err = b.bridge.Close()
	}

	b.cancel()
	b.wg.Wait()

	// Final drain: what the window was still holding goes out now.
	b.mu.Lock()
	pipelines := make([]*channelPipeline, 0, len(b.channels))
	for _, p := range b.channels {
		pipelines = append(pipelines, p)
	}
	b.mu.Unlock()
	for _, p := range pipelines {
		p.drain()
	}

	b.registry.Close()
	if b.journal != nil {
		if cerr := b.journal.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ingestPeer hands a deduplicated peer event to the local pipeline.
// Peer events skip quota (the origin already paid it) and are never
// re-relayed; the origin reaches every peer itself.
func (b *Bus) ingestPeer(evt event.Event) {
	if b.closed.Load() {
		return
	}

	_, suspect := b.clock.Observe(evt.Timestamp)
	if suspect {
		observability.LogSuspectCausality(b.config.Logger, evt.Origin, evt.ID)
	}
	b.metrics.RecordRelay(context.Background(), "in", false)

	p := b.pipeline(evt.Channel)
	forced := p.buf.Insert(evt, event.DeliveryMetadata{SuspectCausality: suspect})
	p.deliverForced(context.Background(), forced)
}

func (b *Bus) relay(ctx context.Context, evt event.Event) {
	if b.bridge == nil {
		return
	}
	b.bridge.Relay(evt)
	b.metrics.RecordRelay(ctx, "out", false)
}

func (b *Bus) journalAppend(d event.Delivery, at time.Time) {
	if b.journal == nil {
		return
	}
	err := b.journal.Append(journal.Record{
		EventID:     d.Event.ID,
		Channel:     d.Event.Channel,
		Payload:     d.Event.Payload,
		Timestamp:   d.Event.Timestamp,
		Origin:      d.Event.Origin,
		Meta:        d.Meta,
		DeliveredAt: at,
	})
	if err != nil {
		observability.LogJournalError(b.config.Logger, d.Event.ID, err)
	}
}

// pipeline returns the channel's delivery pipeline, creating and
// starting it on first use.
func (b *Bus) pipeline(channel string) *channelPipeline {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.channels[channel]; ok {
		return p
	}

	winCfg := b.config.Window
	if w := b.registry.MaxDeliveryWindow(channel); w > winCfg.Initial {
		winCfg.Initial = w
	}

	var comp *compress.Compressor
	if ch, ok := b.config.Channels[channel]; ok && ch.Compression {
		comp = compress.New(ch.CompressionKey, ch.CompressionWindow)
	}

	p := &channelPipeline{
		name: channel,
		buf:  buffer.NewChannelBuffer(winCfg),
		comp: comp,
		bus:  b,
	}
	b.channels[channel] = p

	b.wg.Add(1)
	go p.run(b.ctx)
	return p
}

// channelPipeline owns one channel's buffer and flush loop.
type channelPipeline struct {
	name string
	buf  *buffer.ChannelBuffer
	comp *compress.Compressor
	bus  *Bus
}

// run flushes the buffer on the adaptive interval until the bus closes.
func (p *channelPipeline) run(ctx context.Context) {
	defer p.bus.wg.Done()

	timer := time.NewTimer(p.buf.FlushInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			prev := p.buf.Window()
			batch := p.buf.Flush()
			if cur := p.buf.Window(); cur != prev {
				observability.LogWindowResize(p.bus.config.Logger, p.name, prev, cur)
			}
			p.deliver(ctx, batch)
			timer.Reset(p.buf.FlushInterval())
		}
	}
}

// deliver compresses a release batch and fans it out.
func (p *channelPipeline) deliver(ctx context.Context, batch []event.Delivery) {
	if len(batch) == 0 {
		return
	}

	ctx, span := p.bus.config.Spans.StartDeliverySpan(ctx, p.name)
	defer p.bus.config.Spans.EndSpanWithError(span, nil)

	if p.comp != nil {
		before := len(batch)
		batch = p.comp.Compress(batch)
		if merged := before - len(batch); merged > 0 {
			p.bus.metrics.RecordCompression(ctx, p.name, merged)
		}
	}

	now := time.Now()
	for _, d := range batch {
		p.bus.registry.Deliver(d)
		p.bus.metrics.RecordDelivery(ctx, p.name,
			now.Sub(d.Event.Timestamp.Time()), d.Meta.Reordered, d.Meta.ForcedFlush)
		p.bus.journalAppend(d, now)
	}
}

// deliverForced handles ceiling flushes returned by Insert: the batch
// goes out immediately and the degradation is signalled.
func (p *channelPipeline) deliverForced(ctx context.Context, batch []event.Delivery) {
	if len(batch) == 0 {
		return
	}

	observability.LogForcedFlush(p.bus.config.Logger, p.name, len(batch))
	p.bus.emitSignal(ForcedFlushChannel, ForcedFlushSignal{Channel: p.name, Released: len(batch)})
	if p.bus.config.OnForcedFlush != nil {
		p.bus.config.OnForcedFlush(p.name, len(batch))
	}
	p.deliver(ctx, batch)
}

// drain releases everything still buffered, ignoring the window.
// Called once during Close after the flush loop has stopped.
func (p *channelPipeline) drain() {
	for p.buf.Len() > 0 {
		batch := p.buf.Flush()
		if len(batch) == 0 {
			// Entries younger than the window remain; wait out the
			// window so they release in order.
			time.Sleep(p.buf.FlushInterval())
		} else {
			p.deliver(context.Background(), batch)
		}
	}
}
