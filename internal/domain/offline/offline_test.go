package offline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
)

func TestExtractEntityID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"numeric id", `{"id":1,"name":"A"}`, "1", false},
		{"string id", `{"id":"pat-42"}`, "pat-42", false},
		{"large numeric id", `{"id":12345678901}`, "12345678901", false},
		{"missing id", `{"name":"A"}`, "", true},
		{"null id", `{"id":null}`, "", true},
		{"empty string id", `{"id":""}`, "", true},
		{"object id", `{"id":{"x":1}}`, "", true},
		{"not an object", `[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractEntityID(json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractEntityID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !domainErrors.IsValidation(err) {
				t.Errorf("error %v should be a validation error", err)
			}
			if got != tt.want {
				t.Errorf("ExtractEntityID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCachedRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{"id":7,"name":"Dr. Lee"}`)

	rec, err := NewCachedRecord("acme", EntityEmployees, payload, now)
	if err != nil {
		t.Fatalf("NewCachedRecord() error = %v", err)
	}
	if rec.EntityID != "7" || rec.TenantID != "acme" || !rec.UpdatedAt.Equal(now) {
		t.Errorf("unexpected record %+v", rec)
	}

	payload[1] = 'X'
	if string(rec.Payload) != `{"id":7,"name":"Dr. Lee"}` {
		t.Error("record payload must not alias the caller's slice")
	}

	if _, err := NewCachedRecord("", EntityEmployees, payload, now); !errors.Is(err, domainErrors.ErrTenantRequired) {
		t.Errorf("missing tenant error = %v", err)
	}
}

func TestLatestUpdate(t *testing.T) {
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)
	if !LatestUpdate(nil).IsZero() {
		t.Error("LatestUpdate(nil) should be zero")
	}
	got := LatestUpdate([]CachedRecord{{UpdatedAt: t1}, {UpdatedAt: t0}})
	if !got.Equal(t1) {
		t.Errorf("LatestUpdate() = %v, want %v", got, t1)
	}
}

func TestParseAction(t *testing.T) {
	for _, in := range []string{"create", "UPDATE", " delete "} {
		if _, err := ParseAction(in); err != nil {
			t.Errorf("ParseAction(%q) error = %v", in, err)
		}
	}
	if _, err := ParseAction("upsert"); !errors.Is(err, domainErrors.ErrInvalidAction) {
		t.Errorf("ParseAction(upsert) error = %v", err)
	}
}

func TestSyncQueueItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    SyncQueueItem
		wantErr bool
	}{
		{"create without id", SyncQueueItem{TenantID: "acme", Action: ActionCreate, Entity: "patients", Data: json.RawMessage(`{"name":"A"}`)}, false},
		{"update with id", SyncQueueItem{TenantID: "acme", Action: ActionUpdate, Entity: "patients", Data: json.RawMessage(`{"id":1}`)}, false},
		{"delete without id", SyncQueueItem{TenantID: "acme", Action: ActionDelete, Entity: "patients", Data: json.RawMessage(`{}`)}, true},
		{"bad action", SyncQueueItem{TenantID: "acme", Action: "merge", Entity: "patients"}, true},
		{"no tenant", SyncQueueItem{Action: ActionCreate, Entity: "patients"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueuedRequest_Validate(t *testing.T) {
	ok := QueuedRequest{Method: "POST", URL: "http://api/api/patients"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	get := QueuedRequest{Method: "GET", URL: "http://api/api/patients"}
	if err := get.Validate(); err == nil {
		t.Error("GET requests are never queued")
	}
}

func TestRetryState_Due(t *testing.T) {
	now := time.Unix(5000, 0)
	if !(RetryState{}).Due(now) {
		t.Error("fresh item should be due")
	}
	if (RetryState{NextAttemptAt: now.Add(time.Second)}).Due(now) {
		t.Error("future attempt should not be due")
	}
	if !(RetryState{NextAttemptAt: now}).Due(now) {
		t.Error("attempt scheduled for now should be due")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	if p.Exhausted(2) || !p.Exhausted(3) {
		t.Error("Exhausted boundary wrong")
	}
	if (RetryPolicy{}).Exhausted(1000) {
		t.Error("zero MaxAttempts must retry forever")
	}
}

func TestNewFallbackBody(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	read := NewFallbackBody("GET", now)
	if read.Error != "offline" || read.Message != FallbackReadMessage {
		t.Errorf("read fallback = %+v", read)
	}
	if _, err := time.Parse(time.RFC3339, read.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", read.Timestamp, err)
	}

	write := NewFallbackBody("DELETE", now)
	if write.Message != FallbackMutationMessage {
		t.Errorf("mutation fallback message = %q", write.Message)
	}

	var decoded map[string]string
	if err := json.Unmarshal(read.Marshal(), &decoded); err != nil {
		t.Fatalf("Marshal() produced invalid JSON: %v", err)
	}
	if len(decoded) != 3 {
		t.Errorf("fallback has %d keys, want exactly error/message/timestamp", len(decoded))
	}
}

func TestConnectivityState_Transition(t *testing.T) {
	now := time.Unix(100, 0)
	s := ConnectivityState{}

	s, reconnected := s.Transition(true, now)
	if !reconnected || !s.LastOnlineAt.Equal(now) {
		t.Fatalf("offline->online should reconnect and stamp, got %+v", s)
	}

	later := now.Add(time.Minute)
	s, reconnected = s.Transition(true, later)
	if reconnected || !s.LastOnlineAt.Equal(now) {
		t.Errorf("online->online is not a transition, got %+v", s)
	}

	s, reconnected = s.Transition(false, later)
	if reconnected || s.IsOnline || !s.HasBeenOnline() {
		t.Errorf("online->offline keeps LastOnlineAt, got %+v", s)
	}
}
