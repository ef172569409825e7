package backend

import (
	"sync"
	"time"
)

// queuedRequest is a fully-formed ingest request held for retry. It is
// never mutated after creation: retries resend the identical bytes so the
// backend can deduplicate if it wants to.
type queuedRequest struct {
	path       string
	payload    []byte
	headers    map[string]string
	eventType  string
	enqueuedAt time.Time
}

// retryQueue is a mutex-guarded FIFO of queued requests. The lock is held
// only for the duration of a single put/pop, never across a network call.
type retryQueue struct {
	mu    sync.Mutex
	items []queuedRequest
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

// put appends a request to the tail.
func (q *retryQueue) put(item queuedRequest) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// pop removes and returns the oldest request, or ok=false when empty.
func (q *retryQueue) pop() (queuedRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedRequest{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
