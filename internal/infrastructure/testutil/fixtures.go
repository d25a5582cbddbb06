package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// Clock is a manually advanced time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Payload builds a JSON object payload with the given id and name.
func Payload(id any, name string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"id": id, "name": name})
	return data
}

// Payloads builds n patient-like payloads with ids 1..n.
func Payloads(n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Payload(i, fmt.Sprintf("patient-%d", i)))
	}
	return out
}

// NewQueuedRequest builds a pending POST to url.
func NewQueuedRequest(url, body string) *offline.QueuedRequest {
	return &offline.QueuedRequest{
		Method: http.MethodPost,
		URL:    url,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
	}
}
