package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// scriptedServer returns each status in sequence, then repeats the last.
func scriptedServer(t *testing.T, statuses []int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	i := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status := statuses[i]
		if i < len(statuses)-1 {
			i++
		}
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

// backoffSleeps runs the retry worker with a recording sleep that stops
// the worker after maxSleeps backoff sleeps. Idle sleeps are not counted.
func backoffSleeps(c *Client, maxSleeps int) []time.Duration {
	var recorded []time.Duration
	sleep := func(ctx context.Context, d time.Duration) bool {
		if d == retryIdleSleep {
			// Queue drained: stop instead of idling.
			return false
		}
		recorded = append(recorded, d)
		return len(recorded) < maxSleeps
	}
	c.runRetryWorker(context.Background(), sleep)
	return recorded
}

func TestRetryWorkerBackoffDoubles(t *testing.T) {
	server := scriptedServer(t, []int{500})
	c := identifiedClient(t, []string{server.URL}, 0)
	c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:00Z")

	delays := backoffSleeps(c, 5)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
	if c.QueueDepth() != 1 {
		t.Errorf("failed item should remain queued, depth=%d", c.QueueDepth())
	}
}

func TestRetryWorkerBackoffCeiling(t *testing.T) {
	server := scriptedServer(t, []int{500})
	c := identifiedClient(t, []string{server.URL}, 0)
	c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:00Z")

	delays := backoffSleeps(c, 7)
	last := delays[len(delays)-1]
	if last != retryMaxDelay {
		t.Errorf("expected ceiling %v, got %v", retryMaxDelay, last)
	}
}

func TestRetryWorkerSuccessResetsBackoff(t *testing.T) {
	// Three failures, one success, then failures again: the delay after
	// the success must restart at the base.
	server := scriptedServer(t, []int{500, 500, 500, 200, 500})
	c := identifiedClient(t, []string{server.URL}, 0)
	c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:00Z")
	c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:02Z")

	delays := backoffSleeps(c, 4)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestRetryWorkerDrainsBurstOnSuccess(t *testing.T) {
	server := scriptedServer(t, []int{200})
	c := identifiedClient(t, []string{server.URL}, 0)
	for i := 0; i < 3; i++ {
		c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:00Z")
	}

	delays := backoffSleeps(c, 1)
	if len(delays) != 0 {
		t.Errorf("expected no backoff sleeps on a clean drain, got %v", delays)
	}
	if c.QueueDepth() != 0 {
		t.Errorf("expected empty queue after drain, depth=%d", c.QueueDepth())
	}
}

func TestRetryWorkerDropsNonRetryableItems(t *testing.T) {
	server := scriptedServer(t, []int{401})
	c := identifiedClient(t, []string{server.URL}, 0)
	c.Enqueue("realtime", []byte(`{}`), "2026-08-23T10:00:00Z")

	delays := backoffSleeps(c, 3)
	if len(delays) != 0 {
		t.Errorf("auth rejection should not back off, got %v", delays)
	}
	if c.QueueDepth() != 0 {
		t.Errorf("auth-rejected item should be dropped, depth=%d", c.QueueDepth())
	}
}

func TestRetryWorkerRequeuesAtTail(t *testing.T) {
	// The first item fails once; anything enqueued after it is drained
	// first on the next pass. Relaxed FIFO is the accepted property.
	c := identifiedClient(t, []string{"http://unreachable.invalid"}, 0)
	c.Enqueue("realtime", []byte(`first`), "t1")
	c.Enqueue("realtime", []byte(`second`), "t2")

	// One failed attempt on "first" pushes it behind "second".
	sleep := func(ctx context.Context, d time.Duration) bool { return false }
	c.runRetryWorker(context.Background(), sleep)

	item, ok := c.queue.pop()
	if !ok {
		t.Fatal("expected items in queue")
	}
	if string(item.payload) != "second" {
		t.Errorf("expected the later item at the head after requeue, got %q", item.payload)
	}
}

func TestRetryWorkerStopsOnContextCancel(t *testing.T) {
	c := identifiedClient(t, []string{"http://unreachable.invalid"}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.RunRetryWorker(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
