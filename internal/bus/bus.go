// Package bus is the in-process publish/subscribe substrate. Topics are
// typed, per-subscriber queues are bounded, delivery preserves per-topic
// publish order, and full queues resolve through an explicit overflow
// policy instead of blocking the publisher.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrShutdown is returned by Publish and Subscribe after Shutdown.
var ErrShutdown = errors.New("bus: shut down")

// OverflowPolicy selects what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	// DropNewest discards the incoming message. Default.
	DropNewest OverflowPolicy = "drop_newest"
	// DropOldest evicts the oldest queued message to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Block waits a bounded time for space, then drops.
	Block OverflowPolicy = "block"
)

// ParsePolicy maps a config string to an OverflowPolicy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case DropNewest, DropOldest, Block:
		return OverflowPolicy(s), nil
	}
	return "", errors.New("bus: unknown overflow policy " + s)
}

// Topic is a typed topic name. The type parameter fixes the message type
// carried on the topic at compile time.
type Topic[T any] struct{ name string }

// NewTopic declares a topic carrying messages of type T.
func NewTopic[T any](name string) Topic[T] { return Topic[T]{name: name} }

func (t Topic[T]) String() string { return t.name }

// DropReport is a coalesced account of messages dropped for one subscriber
// since its previous report.
type DropReport struct {
	Topic        string
	SubscriberID string
	Count        uint64
	Policy       OverflowPolicy
}

// TopicStat is the bus's view of one topic, consumed by the health aggregator.
type TopicStat struct {
	LastPublishNs int64
	Publishes     uint64
	Drops         uint64
	Subscribers   int
}

// subscriber is the type-erased side of a Sub[T]. Each has a single writer
// (the publishing goroutine, serialized per topic) and a single reader.
type subscriber struct {
	id       string
	policy   OverflowPolicy
	deliver  func(any) uint64 // enqueue; returns messages dropped
	closeCh  func()
	drops    atomic.Uint64
	pending  atomic.Uint64 // drops since last report
	lastRpt  atomic.Int64  // unix nanos of last drop report
	detached atomic.Bool
}

type topicState struct {
	mu            sync.Mutex
	subs          []*subscriber
	closed        bool
	lastPublishNs atomic.Int64
	publishes     atomic.Uint64
}

// Bus routes typed messages between components. Construct with New, wire a
// drop reporter with OnDrop, tear down with Shutdown.
type Bus struct {
	mu       sync.Mutex
	topics   map[string]*topicState
	closed   bool
	capacity int
	policy   OverflowPolicy

	blockMaxWait time.Duration
	dropWindow   time.Duration
	onDrop       func(DropReport)

	nowNs func() int64
}

// Options tune bus-wide defaults.
type Options struct {
	// DefaultCapacity applies when Subscribe is called with capacity <= 0.
	DefaultCapacity int
	// DefaultPolicy applies when Subscribe is called with an empty policy.
	DefaultPolicy OverflowPolicy
	// BlockMaxWait bounds the Block policy's wait before dropping.
	BlockMaxWait time.Duration
	// DropWindow coalesces drop reports per subscriber.
	DropWindow time.Duration
	// NowNs supplies publish timestamps for topic staleness accounting.
	NowNs func() int64
}

// New constructs an empty bus.
func New(opts Options) *Bus {
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = 32
	}
	if opts.DefaultPolicy == "" {
		opts.DefaultPolicy = DropNewest
	}
	if opts.BlockMaxWait <= 0 {
		opts.BlockMaxWait = 5 * time.Millisecond
	}
	if opts.DropWindow <= 0 {
		opts.DropWindow = time.Second
	}
	if opts.NowNs == nil {
		opts.NowNs = func() int64 { return time.Now().UnixNano() }
	}
	return &Bus{
		topics:       make(map[string]*topicState),
		capacity:     opts.DefaultCapacity,
		policy:       opts.DefaultPolicy,
		blockMaxWait: opts.BlockMaxWait,
		dropWindow:   opts.DropWindow,
		nowNs:        opts.NowNs,
	}
}

// OnDrop installs the coalesced drop reporter. The callback runs on the
// publishing goroutine and must not publish back to the reported topic.
func (b *Bus) OnDrop(fn func(DropReport)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

func (b *Bus) topic(name string) (*topicState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrShutdown
	}
	ts, ok := b.topics[name]
	if !ok {
		ts = &topicState{}
		b.topics[name] = ts
	}
	return ts, nil
}

// Shutdown stops the bus. Already-queued messages remain readable until the
// subscriber drains them; receive channels then close. Subsequent Publish
// calls return ErrShutdown.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topicState, 0, len(b.topics))
	for _, ts := range b.topics {
		topics = append(topics, ts)
	}
	b.mu.Unlock()

	for _, ts := range topics {
		ts.mu.Lock()
		ts.closed = true
		for _, s := range ts.subs {
			s.closeCh()
		}
		ts.subs = nil
		ts.mu.Unlock()
	}
}

// TopicStats snapshots per-topic publish and drop accounting.
func (b *Bus) TopicStats() map[string]TopicStat {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]TopicStat, len(b.topics))
	for name, ts := range b.topics {
		ts.mu.Lock()
		var drops uint64
		for _, s := range ts.subs {
			drops += s.drops.Load()
		}
		out[name] = TopicStat{
			LastPublishNs: ts.lastPublishNs.Load(),
			Publishes:     ts.publishes.Load(),
			Drops:         drops,
			Subscribers:   len(ts.subs),
		}
		ts.mu.Unlock()
	}
	return out
}

// recordDrops accounts dropped messages and fires a coalesced report when
// the window has elapsed. Called with the topic lock held.
func (b *Bus) recordDrops(topic string, s *subscriber, n uint64) {
	s.drops.Add(n)
	s.pending.Add(n)
	if b.onDrop == nil {
		return
	}
	now := b.nowNs()
	last := s.lastRpt.Load()
	if now-last < b.dropWindow.Nanoseconds() {
		return
	}
	if !s.lastRpt.CompareAndSwap(last, now) {
		return
	}
	if n := s.pending.Swap(0); n > 0 {
		b.onDrop(DropReport{Topic: topic, SubscriberID: s.id, Count: n, Policy: s.policy})
	}
}

// Publish delivers msg to every current subscriber of the topic, in
// subscription order, applying each subscriber's overflow policy. It never
// blocks beyond the Block policy's bounded wait and never panics; after
// Shutdown it returns ErrShutdown.
func Publish[T any](b *Bus, topic Topic[T], v T) error {
	ts, err := b.topic(topic.name)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return ErrShutdown
	}
	ts.lastPublishNs.Store(b.nowNs())
	ts.publishes.Add(1)
	for _, s := range ts.subs {
		if s.detached.Load() {
			continue
		}
		if n := s.deliver(v); n > 0 {
			b.recordDrops(topic.name, s, n)
		}
	}
	return nil
}

// Sub is a typed receive handle. Messages arrive on C in publish order;
// C closes after Shutdown (post-drain) or Close.
type Sub[T any] struct {
	id    string
	topic string
	ch    chan T
	bus   *Bus
	ent   *subscriber
	once  sync.Once
}

// Subscribe registers a new subscriber on the topic with the given queue
// capacity and overflow policy. Zero values take the bus defaults. Late
// subscribers do not receive backlog.
func Subscribe[T any](b *Bus, topic Topic[T], capacity int, policy OverflowPolicy) (*Sub[T], error) {
	if capacity <= 0 {
		capacity = b.capacity
	}
	if policy == "" {
		policy = b.policy
	}
	ts, err := b.topic(topic.name)
	if err != nil {
		return nil, err
	}

	ch := make(chan T, capacity)
	ent := &subscriber{id: uuid.NewString(), policy: policy}
	sub := &Sub[T]{id: ent.id, topic: topic.name, ch: ch, bus: b, ent: ent}

	ent.closeCh = func() { sub.once.Do(func() { close(ch) }) }
	ent.deliver = func(v any) uint64 {
		m := v.(T)
		switch policy {
		case DropOldest:
			var evicted uint64
			for {
				select {
				case ch <- m:
					return evicted
				default:
				}
				// Evict one; the topic lock serializes writers so this
				// cannot race another deliver, only the reader.
				select {
				case <-ch:
					evicted++
				default:
				}
			}
		case Block:
			select {
			case ch <- m:
				return 0
			default:
			}
			t := time.NewTimer(b.blockMaxWait)
			defer t.Stop()
			select {
			case ch <- m:
				return 0
			case <-t.C:
				return 1
			}
		default: // DropNewest
			select {
			case ch <- m:
				return 0
			default:
				return 1
			}
		}
	}

	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return nil, ErrShutdown
	}
	ts.subs = append(ts.subs, ent)
	ts.mu.Unlock()
	return sub, nil
}

// C is the receive channel. It yields messages in publish order and closes
// on bus shutdown after queued messages drain.
func (s *Sub[T]) C() <-chan T { return s.ch }

// ID identifies this subscriber in drop reports.
func (s *Sub[T]) ID() string { return s.id }

// Drops reports the total messages dropped for this subscriber.
func (s *Sub[T]) Drops() uint64 { return s.ent.drops.Load() }

// Close detaches the subscriber and closes its channel.
func (s *Sub[T]) Close() {
	s.ent.detached.Store(true)
	s.bus.mu.Lock()
	ts := s.bus.topics[s.topic]
	s.bus.mu.Unlock()
	if ts != nil {
		ts.mu.Lock()
		for i, e := range ts.subs {
			if e == s.ent {
				ts.subs = append(ts.subs[:i], ts.subs[i+1:]...)
				break
			}
		}
		ts.mu.Unlock()
	}
	s.once.Do(func() { close(s.ch) })
}
