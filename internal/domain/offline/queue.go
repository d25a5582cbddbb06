package offline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
)

// Action is the semantic kind of a deferred mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", domainErrors.Validation(fmt.Sprintf("unknown action %q", s), domainErrors.ErrInvalidAction)
	}
}

// QueueStatus is the lifecycle state of a queued item.
type QueueStatus string

const (
	// StatusPending items are attempted on every drain.
	StatusPending QueueStatus = "pending"
	// StatusDead items exhausted their retry budget and wait for an operator.
	StatusDead QueueStatus = "dead"
)

// RetryState is the retry bookkeeping shared by every queued item kind.
// Attempts only grows; the item is deleted on success.
type RetryState struct {
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// Due reports whether the item may be attempted at now.
func (r RetryState) Due(now time.Time) bool {
	return r.NextAttemptAt.IsZero() || !now.Before(r.NextAttemptAt)
}

// QueuedRequest is a raw HTTP mutation deferred while offline.
type QueuedRequest struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id,omitempty"`
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Header    http.Header `json:"header,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	DedupKey  string      `json:"dedup_key,omitempty"`
	Retry     RetryState  `json:"retry"`
	Status    QueueStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// RetryCount is the number of failed redelivery attempts.
func (q *QueuedRequest) RetryCount() int { return q.Retry.Attempts }

// Validate checks the request can be replayed.
func (q *QueuedRequest) Validate() error {
	if q.Method == "" || q.URL == "" {
		return domainErrors.Validation("queued request needs method and url", nil)
	}
	if !IsMutatingMethod(q.Method) {
		return domainErrors.Validation(fmt.Sprintf("method %s is not a mutation", q.Method), nil)
	}
	return nil
}

// SyncQueueItem is a semantic mutation intent awaiting reconciliation.
type SyncQueueItem struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Action    Action          `json:"action"`
	Entity    string          `json:"entity"`
	Data      json.RawMessage `json:"data"`
	Retry     RetryState      `json:"retry"`
	Status    QueueStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the item is reconcilable.
func (s *SyncQueueItem) Validate() error {
	if _, err := ParseAction(string(s.Action)); err != nil {
		return err
	}
	if err := ValidateScope(s.Entity, s.TenantID); err != nil {
		return err
	}
	if s.Action != ActionCreate {
		if _, err := ExtractEntityID(s.Data); err != nil {
			return err
		}
	}
	return nil
}

// DeadLetters lists items that exhausted their retry budget.
type DeadLetters struct {
	Requests  []*QueuedRequest `json:"requests"`
	SyncItems []*SyncQueueItem `json:"sync_items"`
}

// QueueCounts are the pending totals shown to the user.
type QueueCounts struct {
	Requests  int `json:"requests"`
	SyncItems int `json:"sync_items"`
}

// Total returns the combined pending count.
func (c QueueCounts) Total() int { return c.Requests + c.SyncItems }

// IsMutatingMethod reports whether method changes server state.
func IsMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
