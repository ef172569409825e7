package backend

import (
	"context"
	"time"
)

// Backoff parameters for the retry worker.
const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 60 * time.Second
	retryIdleSleep = 1 * time.Second
)

// RunRetryWorker drains the retry queue until ctx is cancelled. One
// worker owns the queue's backoff state.
//
// Loop: pop the oldest item; if the queue is empty, sleep briefly.
// Otherwise attempt the send directly (never re-enqueueing mid-flight);
// on success reset backoff and continue immediately to drain a burst; on
// failure push the same item back to the tail and sleep for the current
// delay, doubling it up to the ceiling. A failed item is re-queued behind
// anything added after it: relaxed FIFO, accepted for worker simplicity.
func (c *Client) RunRetryWorker(ctx context.Context) {
	c.runRetryWorker(ctx, sleepCtx)
}

// runRetryWorker takes an injectable sleep for tests.
func (c *Client) runRetryWorker(ctx context.Context, sleep func(context.Context, time.Duration) bool) {
	delay := retryBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		item, ok := c.queue.pop()
		if !ok {
			if !sleep(ctx, retryIdleSleep) {
				return
			}
			continue
		}

		outcome := c.post(ctx, item.path, item.payload, item.headers)
		switch outcome {
		case Success:
			c.logger.Info("retry flush succeeded", "event_type", item.eventType, "path", item.path, "depth", c.queue.len())
			delay = retryBaseDelay
		case NonRetryable:
			c.logger.Warn("retry abandoned", "event_type", item.eventType, "path", item.path)
			delay = retryBaseDelay
		default:
			c.queue.put(item)
			c.logger.Debug("retry failed; backing off", "event_type", item.eventType, "delay", delay, "depth", c.queue.len())
			if !sleep(ctx, delay) {
				return
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
