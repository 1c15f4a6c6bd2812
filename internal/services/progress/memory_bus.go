package progress

import (
	"context"
	"sync"

	"github.com/umeshrajanna/deepship-llm-worker/internal/models"
)

// MemoryBus is an in-process ProgressBus with pub/sub semantics matching
// the Redis implementation: no replay, fire-and-forget publishing, slow
// subscribers drop events rather than block the publisher.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan models.ProgressEvent
	nextID int
	closed bool
}

// NewMemoryBus creates an in-process progress bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan models.ProgressEvent)}
}

// Publish delivers the event to every current subscriber of the job
func (b *MemoryBus) Publish(ctx context.Context, jobID string, event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber for the job's events
func (b *MemoryBus) Subscribe(ctx context.Context, jobID string) (<-chan models.ProgressEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.ProgressEvent, 64)
	id := b.nextID
	b.nextID++

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan models.ProgressEvent)
	}
	b.subs[jobID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subs[jobID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, jobID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Close drops all subscriptions
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for jobID, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, jobID)
	}
	return nil
}
