// Package eventbus fans pipeline events out to per-project subscribers.
package eventbus

import (
	"log"
	"sync"

	"github.com/clipstudio/api/internal/model"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 256

// Subscription receives the events of one project
type Subscription struct {
	ProjectID string
	C         <-chan model.PipelineEvent

	ch     chan model.PipelineEvent
	bus    *Bus
	closed bool
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus maintains subscribers grouped by project ID
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

// New creates a Bus with the given per-subscriber buffer size
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for projectID. The initial events are
// queued before the subscriber becomes visible to Publish, so they are
// always received first.
func (b *Bus) Subscribe(projectID string, initial ...model.PipelineEvent) *Subscription {
	return b.SubscribeWith(projectID, func() []model.PipelineEvent { return initial })
}

// SubscribeWith is like Subscribe but builds the initial events while
// publishing is blocked, so no event falls between them and the live stream
func (b *Bus) SubscribeWith(projectID string, build func() []model.PipelineEvent) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	initial := build()
	size := b.buffer
	if len(initial) > size {
		size = len(initial)
	}
	ch := make(chan model.PipelineEvent, size)
	sub := &Subscription{ProjectID: projectID, C: ch, ch: ch, bus: b}

	for _, evt := range initial {
		ch <- evt
	}
	if b.topics[projectID] == nil {
		b.topics[projectID] = make(map[*Subscription]struct{})
	}
	b.topics[projectID][sub] = struct{}{}
	log.Printf("[EventBus] Subscriber registered for project %s", projectID)
	return sub
}

// Publish delivers evt to every current subscriber of its project, in call
// order. A subscriber whose buffer is full is dropped instead of blocking.
func (b *Bus) Publish(evt model.PipelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[evt.ProjectID]
	for sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			log.Printf("[EventBus] Dropping slow subscriber for project %s", evt.ProjectID)
			b.removeLocked(sub)
		}
	}
}

// SubscriberCount returns the number of live subscribers for projectID
func (b *Bus) SubscriberCount(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[projectID])
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeLocked(sub) {
		log.Printf("[EventBus] Subscriber unregistered from project %s", sub.ProjectID)
	}
}

func (b *Bus) removeLocked(sub *Subscription) bool {
	if sub.closed {
		return false
	}
	sub.closed = true
	close(sub.ch)
	if subs, ok := b.topics[sub.ProjectID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.ProjectID)
		}
	}
	return true
}
