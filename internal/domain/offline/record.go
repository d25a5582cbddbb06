// Package offline holds the domain model of the offline-resilience core:
// cached entity snapshots, deferred mutations and connectivity state.
package offline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
)

// Well-known entity types of the healthcare admin backend. The cache treats
// entity types as opaque strings; these exist for the CLI and tests.
const (
	EntityOrganizations = "organizations"
	EntityEmployees     = "employees"
	EntityPatients      = "patients"
	EntityAppointments  = "appointments"
	EntitySchedules     = "schedules"
	EntityDepartments   = "departments"
	EntityNotifications = "notifications"
)

// CachedRecord is a snapshot of a domain entity captured from a successful fetch.
// At most one record exists per (TenantID, EntityType, EntityID).
type CachedRecord struct {
	TenantID   string          `json:"tenant_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewCachedRecord builds a record from a raw payload, extracting its id.
func NewCachedRecord(tenantID, entityType string, payload json.RawMessage, now time.Time) (*CachedRecord, error) {
	if err := ValidateScope(entityType, tenantID); err != nil {
		return nil, err
	}
	id, err := ExtractEntityID(payload)
	if err != nil {
		return nil, err
	}
	return &CachedRecord{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   id,
		Payload:    append(json.RawMessage(nil), payload...),
		UpdatedAt:  now,
	}, nil
}

// ValidateScope checks the (entityType, tenantID) pair every store call is scoped by.
func ValidateScope(entityType, tenantID string) error {
	if entityType == "" {
		return domainErrors.Validation("invalid scope", domainErrors.ErrEntityRequired)
	}
	if tenantID == "" {
		return domainErrors.Validation("invalid scope", domainErrors.ErrTenantRequired)
	}
	return nil
}

// ExtractEntityID returns the top-level "id" of a JSON object payload.
// String and numeric ids are accepted; numbers keep their literal form.
func ExtractEntityID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", domainErrors.Validation("record payload is not a JSON object", err)
	}
	raw := bytes.TrimSpace(probe.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", domainErrors.Validation("invalid record", domainErrors.ErrMissingEntityID)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", domainErrors.Validation("invalid record", domainErrors.ErrMissingEntityID)
		}
		return s, nil
	default:
		if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
			return "", domainErrors.Validation(fmt.Sprintf("unsupported id %s", raw), domainErrors.ErrMissingEntityID)
		}
		return string(raw), nil
	}
}

// LatestUpdate returns the newest UpdatedAt across records, or the zero time.
func LatestUpdate(records []CachedRecord) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}

// Payloads returns the raw payloads of records in order.
func Payloads(records []CachedRecord) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		out = append(out, r.Payload)
	}
	return out
}
