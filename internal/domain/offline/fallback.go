package offline

import (
	"encoding/json"
	"net/http"
	"time"
)

// Fallback messages served when neither network nor cache can answer.
const (
	FallbackReadMessage     = "Offline mode - data may be outdated"
	FallbackMutationMessage = "Offline mode - request queued for when you come back online"
	FallbackErrorCode       = "offline"
	FallbackStatus          = http.StatusServiceUnavailable
)

// FallbackBody is the stable JSON contract of a synthesized offline response.
type FallbackBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewFallbackBody builds the fallback for a request with the given method.
func NewFallbackBody(method string, now time.Time) FallbackBody {
	msg := FallbackReadMessage
	if IsMutatingMethod(method) {
		msg = FallbackMutationMessage
	}
	return FallbackBody{
		Error:     FallbackErrorCode,
		Message:   msg,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Marshal encodes the body. The struct has only string fields so this cannot fail.
func (f FallbackBody) Marshal() []byte {
	data, _ := json.Marshal(f)
	return data
}

// CachedResponse is a stored HTTP response snapshot, keyed by request identity
// within a cache generation.
type CachedResponse struct {
	Generation string      `json:"generation"`
	Key        string      `json:"key"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Size approximates the stored bytes of the snapshot.
func (c *CachedResponse) Size() int64 {
	n := int64(len(c.Body) + len(c.URL) + len(c.Key))
	for k, vs := range c.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

// StoreSize reports the approximate footprint of the local store.
type StoreSize struct {
	Records      int64 `json:"records"`
	Requests     int64 `json:"requests"`
	SyncItems    int64 `json:"sync_items"`
	Responses    int64 `json:"responses"`
	PayloadBytes int64 `json:"payload_bytes"`
}

// Total returns the number of stored rows across all tables.
func (s StoreSize) Total() int64 {
	return s.Records + s.Requests + s.SyncItems + s.Responses
}
