// Package pipeline runs OCR and amount resolution under a staged
// latency budget, guarded by per-message idempotency tracking.
package pipeline

import "sync"

// DefaultTrackerCapacity bounds each tracking set.
const DefaultTrackerCapacity = 2048

// Tracker turns at-least-once message delivery into effectively-once
// processing. A message id lives in at most one of two sets: processing
// (an attempt owns it) or processed (an attempt finished it).
type Tracker struct {
	processing      map[string]struct{}
	processed       map[string]struct{}
	processingOrder []string
	processedOrder  []string
	capacity        int
	mu              sync.Mutex
}

// NewTracker creates a tracker. A non-positive capacity means
// DefaultTrackerCapacity.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	return &Tracker{
		processing: make(map[string]struct{}),
		processed:  make(map[string]struct{}),
		capacity:   capacity,
	}
}

// Claim attempts to take ownership of a message id. It returns false if
// the id is already processing or processed; the caller must then skip
// the message. Check and insert happen under one lock so two attempts
// can never both claim the same id.
func (t *Tracker) Claim(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.processing[messageID]; ok {
		return false
	}
	if _, ok := t.processed[messageID]; ok {
		return false
	}

	t.processing[messageID] = struct{}{}
	t.processingOrder = append(t.processingOrder, messageID)
	t.processingOrder = evict(t.processing, t.processingOrder, t.capacity)
	return true
}

// Complete moves a message id from processing to processed.
func (t *Tracker) Complete(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.releaseLocked(messageID)
	if _, ok := t.processed[messageID]; ok {
		return
	}
	t.processed[messageID] = struct{}{}
	t.processedOrder = append(t.processedOrder, messageID)
	t.processedOrder = evict(t.processed, t.processedOrder, t.capacity)
}

// Fail releases a message id without marking it processed, so a later
// redelivery can claim it again.
func (t *Tracker) Fail(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.releaseLocked(messageID)
}

// releaseLocked drops a message id from the processing set and its
// order slice. evict sizes the set by the order slice, so released ids
// must leave both. Callers must hold t.mu.
func (t *Tracker) releaseLocked(messageID string) {
	if _, ok := t.processing[messageID]; !ok {
		return
	}
	delete(t.processing, messageID)
	for i, id := range t.processingOrder {
		if id == messageID {
			t.processingOrder = append(t.processingOrder[:i], t.processingOrder[i+1:]...)
			return
		}
	}
}

// evict drops the oldest half of a set once it exceeds capacity.
// Insertion order is close enough; exact LRU is not needed here.
func evict(set map[string]struct{}, order []string, capacity int) []string {
	if len(order) <= capacity {
		return order
	}
	cut := len(order) / 2
	for _, id := range order[:cut] {
		delete(set, id)
	}
	return append(order[:0:0], order[cut:]...)
}
