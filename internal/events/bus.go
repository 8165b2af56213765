package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names a state change.
type Type string

const (
	CallStarted     Type = "call.started"
	CallTransition  Type = "call.transition"
	CallMiss        Type = "call.classification_miss"
	CallFinalized   Type = "call.finalized"
	CampaignStatus  Type = "campaign.status"
	AdmissionSkip   Type = "pacing.skipped"
	ExecutorFailure Type = "pacing.executor_failure"
	RollupUpdated   Type = "rollup.updated"
)

// Notification is what observers receive. Data is JSON-serializable.
type Notification struct {
	Type       Type      `json:"type"`
	CampaignID string    `json:"campaign_id,omitempty"`
	CallID     string    `json:"call_id,omitempty"`
	At         time.Time `json:"at"`
	Data       any       `json:"data,omitempty"`
}

// Publisher is the side components depend on.
type Publisher interface {
	Publish(n Notification)
}

// Bus fans notifications out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the notification and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
	clock   func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: map[*Subscription]struct{}{}, clock: time.Now}
}

type Subscription struct {
	bus   *Bus
	ch    chan Notification
	types map[Type]struct{}
	once  sync.Once
}

// Subscribe registers a subscriber for the given types (all types when none given).
func (b *Bus) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{bus: b, ch: make(chan Notification, buffer)}
	if len(types) > 0 {
		s.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *Subscription) C() <-chan Notification { return s.ch }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) wants(t Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (b *Bus) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = b.clock().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(n.Type) {
			continue
		}
		select {
		case s.ch <- n:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped is the number of notifications lost to full subscriber buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Publish(Notification) {}
