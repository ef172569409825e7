// Package backend implements the signed HTTP ingest client: device
// registration, measurement delivery with backend rotation, and a retry
// queue drained by a background worker.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/muteq/mute-agent/internal/signer"
)

// APITimeout bounds every individual HTTP call.
const APITimeout = 5 * time.Second

// registrationPaths are tried in order against each backend candidate.
var registrationPaths = []string{"/api/register", "/api/client/register"}

// ingestPaths maps event types to their ingest endpoints. An unknown type
// is a caller error, not a network failure.
var ingestPaths = map[string]string{
	"realtime":  "/api/ingest/realtime",
	"threshold": "/api/ingest/event",
	"heartbeat": "/api/ingest/heartbeat",
}

// Outcome is the result of a delivery attempt.
type Outcome int

const (
	// Success: a backend accepted the request with a 2xx status.
	Success Outcome = iota
	// Retryable: every candidate failed with a transport error or a
	// non-auth status; the message may be enqueued for retry.
	Retryable
	// NonRetryable: the attempt must not be retried. Auth rejections
	// (401/403) land here: the credential is the problem, not the
	// endpoint, so trying further candidates is pointless. Caller
	// errors (missing identity, unknown event type) do too.
	NonRetryable
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "non-retryable"
	}
}

// Identity is the device credential acquired through registration.
type Identity struct {
	DeviceID    string
	DeviceToken string
}

// Registration is the request body for a registration attempt.
type Registration struct {
	DeviceName             string `json:"device_name"`
	EnvironmentProfile     string `json:"environment_profile"`
	CustomEnvironmentLabel string `json:"custom_environment_label"`
	ClientVersion          string `json:"client_version"`
}

// Client posts signed JSON payloads to a rotating list of backend base
// URLs. The pool and preference index are read-only after registration
// completes; only the identity is guarded for concurrent use by the run
// loop and the retry worker.
type Client struct {
	httpClient *http.Client
	signer     *signer.Signer
	logger     *slog.Logger

	pool       []string
	preference int

	mu       sync.RWMutex
	identity Identity

	queue *retryQueue
}

// New creates a Client for the given backend pool. The preference index
// rotates the pool so the preferred endpoint is tried first without
// reordering the underlying list.
func New(s *signer.Signer, pool []string, preferenceIndex int, logger *slog.Logger) *Client {
	if preferenceIndex < 0 || preferenceIndex >= len(pool) {
		preferenceIndex = 0
	}
	c := &Client{
		httpClient: &http.Client{Timeout: APITimeout},
		signer:     s,
		logger:     logger,
		pool:       pool,
		preference: preferenceIndex,
		queue:      newRetryQueue(),
	}
	logger.Info("using backend endpoints", "pool", pool, "preference_index", preferenceIndex)
	return c
}

// SetIdentity installs the device credential used for ingest calls.
func (c *Client) SetIdentity(id Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// Identity returns the installed credential (zero value if unregistered).
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// QueueDepth reports the number of requests waiting for retry.
func (c *Client) QueueDepth() int {
	return c.queue.len()
}

// candidates returns the pool rotated left by the preference index, so
// every endpoint is tried before giving up and the preferred endpoint is
// always tried first.
func (c *Client) candidates() []string {
	if len(c.pool) == 0 {
		return nil
	}
	rotated := make([]string, 0, len(c.pool))
	rotated = append(rotated, c.pool[c.preference:]...)
	rotated = append(rotated, c.pool[:c.preference]...)
	return rotated
}

// Register tries each backend candidate in rotation order, and for each
// candidate both known registration paths. A 2xx response with a JSON
// body containing both identity fields is success. Exhausting all
// candidates returns ok=false; the caller owns the retry loop.
func (c *Client) Register(ctx context.Context, reg Registration) (Identity, bool) {
	body, err := json.Marshal(reg)
	if err != nil {
		c.logger.Error("marshal registration payload", "error", err)
		return Identity{}, false
	}

	for _, base := range c.candidates() {
		nonce := signer.NewNonce()
		headers := map[string]string{
			"X-MUTE-REGISTER":  "1",
			"X-MUTE-NONCE":     nonce,
			"X-MUTE-SIGNATURE": c.signer.Registration(reg.DeviceName, nonce),
		}
		for _, path := range registrationPaths {
			id, ok := c.tryRegister(ctx, base+path, body, headers)
			if ok {
				return id, true
			}
		}
	}
	return Identity{}, false
}

func (c *Client) tryRegister(ctx context.Context, url string, body []byte, headers map[string]string) (Identity, bool) {
	resp, err := c.do(ctx, url, body, headers)
	if err != nil {
		c.logger.Warn("registration request failed", "url", url, "error", err)
		return Identity{}, false
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn("registration rejected", "url", url, "status", resp.StatusCode, "body", string(raw))
		return Identity{}, false
	}

	var parsed struct {
		DeviceID    string `json:"device_id"`
		DeviceToken string `json:"device_token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.DeviceID == "" || parsed.DeviceToken == "" {
		c.logger.Warn("registration response not usable", "url", url, "status", resp.StatusCode, "body", string(raw))
		return Identity{}, false
	}

	c.logger.Info("registration accepted", "url", url, "device_id", parsed.DeviceID)
	return Identity{DeviceID: parsed.DeviceID, DeviceToken: parsed.DeviceToken}, true
}

// Send delivers one payload of the given event type, trying each backend
// candidate in rotation order. The timestamp must be the exact string
// embedded in the payload; the ingest signature is bound to it. Send
// never enqueues: on a Retryable outcome the caller decides.
func (c *Client) Send(ctx context.Context, eventType string, payload []byte, timestampISO string) Outcome {
	headers, ok := c.ingestHeaders(timestampISO)
	if !ok {
		c.logger.Error("missing device credentials; cannot send payload", "event_type", eventType)
		return NonRetryable
	}
	path, ok := ingestPaths[eventType]
	if !ok {
		c.logger.Error("unknown event type", "event_type", eventType)
		return NonRetryable
	}
	return c.post(ctx, path, payload, headers)
}

// Enqueue places a fully-formed request onto the retry queue without
// attempting a send. Used for messages that must never block the caller.
func (c *Client) Enqueue(eventType string, payload []byte, timestampISO string) {
	headers, ok := c.ingestHeaders(timestampISO)
	if !ok {
		return
	}
	path, ok := ingestPaths[eventType]
	if !ok {
		return
	}
	c.queue.put(queuedRequest{
		path:       path,
		payload:    payload,
		headers:    headers,
		eventType:  eventType,
		enqueuedAt: time.Now(),
	})
	c.logger.Debug("queued for retry", "event_type", eventType, "path", path, "depth", c.queue.len())
}

// post iterates backend candidates for a single delivery attempt.
func (c *Client) post(ctx context.Context, path string, payload []byte, headers map[string]string) Outcome {
	for _, base := range c.candidates() {
		url := base + path
		resp, err := c.do(ctx, url, payload, headers)
		if err != nil {
			c.logger.Warn("http request failed", "url", url, "error", err)
			continue
		}
		status := resp.StatusCode
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()

		c.logger.Debug("ingest post", "path", path, "status", status)
		switch {
		case status >= 200 && status < 300:
			return Success
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			c.logger.Warn("ingest rejected by auth; abandoning attempt", "url", url, "status", status)
			return NonRetryable
		default:
			c.logger.Warn("ingest failed; trying next backend", "url", url, "status", status)
		}
	}
	return Retryable
}

func (c *Client) do(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}

func (c *Client) ingestHeaders(timestampISO string) (map[string]string, bool) {
	id := c.Identity()
	if id.DeviceID == "" || id.DeviceToken == "" {
		return nil, false
	}
	return map[string]string{
		"Authorization":    "Bearer " + id.DeviceToken,
		"X-MUTE-TIMESTAMP": timestampISO,
		"X-MUTE-SIGNATURE": c.signer.Ingest(id.DeviceID, timestampISO),
	}, true
}
