package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// QueueRequest persists req, reusing a pending request of the same tenant
// with the same DedupKey.
func (s *Store) QueueRequest(ctx context.Context, req *offline.QueuedRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	db, err := s.db()
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", domainErrors.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if req.DedupKey != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM queued_requests WHERE tenant_id = ? AND dedup_key = ? AND status = 'pending'",
			req.TenantID, req.DedupKey).Scan(&existing)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return "", domainErrors.Storage("lookup dedup key", err)
		}
	}

	header, err := json.Marshal(req.Header)
	if err != nil {
		return "", domainErrors.Storage("encode request header", err)
	}
	body, err := s.seal(req.Body)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	createdAt := s.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO queued_requests (id, tenant_id, method, url, header, body, dedup_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)
	`, id, req.TenantID, req.Method, req.URL, string(header), body, req.DedupKey, createdAt.UnixNano())
	if err != nil {
		return "", domainErrors.Storage("insert queued request", err)
	}
	if err := tx.Commit(); err != nil {
		return "", domainErrors.Storage("commit queued request", err)
	}

	req.ID = id
	req.Status = offline.StatusPending
	req.CreatedAt = createdAt
	req.Retry = offline.RetryState{}
	return id, nil
}

// GetQueuedRequests returns pending requests in insertion order.
func (s *Store) GetQueuedRequests(ctx context.Context) ([]*offline.QueuedRequest, error) {
	return s.queryRequests(ctx, offline.StatusPending)
}

func (s *Store) queryRequests(ctx context.Context, status offline.QueueStatus) ([]*offline.QueuedRequest, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, method, url, header, body, dedup_key,
		       attempts, next_attempt_at, last_error, status, created_at
		FROM queued_requests
		WHERE status = ?
		ORDER BY rowid
	`, string(status))
	if err != nil {
		return nil, domainErrors.Storage("query queued requests", err)
	}
	defer rows.Close()

	var out []*offline.QueuedRequest
	for rows.Next() {
		var (
			req               offline.QueuedRequest
			header, st        string
			nextAt, createdAt int64
		)
		if err := rows.Scan(&req.ID, &req.TenantID, &req.Method, &req.URL, &header, &req.Body,
			&req.DedupKey, &req.Retry.Attempts, &nextAt, &req.Retry.LastError, &st, &createdAt); err != nil {
			return nil, domainErrors.Storage("scan queued request", err)
		}
		req.Header = http.Header{}
		if err := json.Unmarshal([]byte(header), &req.Header); err != nil {
			return nil, domainErrors.Storage(fmt.Sprintf("decode header of %s", req.ID), err)
		}
		if req.Body, err = s.open(req.Body); err != nil {
			return nil, err
		}
		req.Retry.NextAttemptAt = unixOrZero(nextAt)
		req.Status = offline.QueueStatus(st)
		req.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.Storage("iterate queued requests", err)
	}
	return out, nil
}

// RemoveQueuedRequest deletes a request in any status. Missing ids are not an error.
func (s *Store) RemoveQueuedRequest(ctx context.Context, id string) error {
	return s.execByID(ctx, "DELETE FROM queued_requests WHERE id = ?", id)
}

// IncrementRetryCount records a failed redelivery attempt.
func (s *Store) IncrementRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error) {
	return s.incrementRetry(ctx, "queued_requests", id, nextAttemptAt, lastErr)
}

// DeadLetterRequest moves a request to the dead-letter list.
func (s *Store) DeadLetterRequest(ctx context.Context, id string) error {
	return s.deadLetter(ctx, "queued_requests", id)
}

// AddToSyncQueue persists a semantic mutation intent.
func (s *Store) AddToSyncQueue(ctx context.Context, tenantID string, action offline.Action, entity string, data json.RawMessage) (string, error) {
	item := &offline.SyncQueueItem{TenantID: tenantID, Action: action, Entity: entity, Data: data}
	if err := item.Validate(); err != nil {
		return "", err
	}
	db, err := s.db()
	if err != nil {
		return "", err
	}
	sealed, err := s.seal(data)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, tenant_id, action, entity, data, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, id, tenantID, string(action), entity, sealed, s.now().UnixNano())
	if err != nil {
		return "", domainErrors.Storage("insert sync item", err)
	}
	return id, nil
}

// GetSyncQueue returns pending items in insertion order.
func (s *Store) GetSyncQueue(ctx context.Context) ([]*offline.SyncQueueItem, error) {
	return s.querySyncItems(ctx, offline.StatusPending)
}

func (s *Store) querySyncItems(ctx context.Context, status offline.QueueStatus) ([]*offline.SyncQueueItem, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, action, entity, data,
		       attempts, next_attempt_at, last_error, status, created_at
		FROM sync_queue
		WHERE status = ?
		ORDER BY rowid
	`, string(status))
	if err != nil {
		return nil, domainErrors.Storage("query sync queue", err)
	}
	defer rows.Close()

	var out []*offline.SyncQueueItem
	for rows.Next() {
		var (
			item              offline.SyncQueueItem
			action, st        string
			data              []byte
			nextAt, createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.TenantID, &action, &item.Entity, &data,
			&item.Retry.Attempts, &nextAt, &item.Retry.LastError, &st, &createdAt); err != nil {
			return nil, domainErrors.Storage("scan sync item", err)
		}
		item.Action = offline.Action(action)
		if data, err = s.open(data); err != nil {
			return nil, err
		}
		item.Data = json.RawMessage(data)
		item.Retry.NextAttemptAt = unixOrZero(nextAt)
		item.Status = offline.QueueStatus(st)
		item.CreatedAt = time.Unix(0, createdAt)
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.Storage("iterate sync queue", err)
	}
	return out, nil
}

// RemoveFromSyncQueue deletes an item in any status.
func (s *Store) RemoveFromSyncQueue(ctx context.Context, id string) error {
	return s.execByID(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
}

// IncrementSyncRetryCount records a failed reconciliation attempt.
func (s *Store) IncrementSyncRetryCount(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) (int, error) {
	return s.incrementRetry(ctx, "sync_queue", id, nextAttemptAt, lastErr)
}

// DeadLetterSyncItem moves an item to the dead-letter list.
func (s *Store) DeadLetterSyncItem(ctx context.Context, id string) error {
	return s.deadLetter(ctx, "sync_queue", id)
}

// ListDeadLetters returns every dead-lettered item of both queues.
func (s *Store) ListDeadLetters(ctx context.Context) (*offline.DeadLetters, error) {
	requests, err := s.queryRequests(ctx, offline.StatusDead)
	if err != nil {
		return nil, err
	}
	items, err := s.querySyncItems(ctx, offline.StatusDead)
	if err != nil {
		return nil, err
	}
	return &offline.DeadLetters{Requests: requests, SyncItems: items}, nil
}

// incrementRetry bumps attempts by one. table is one of the two queue tables.
func (s *Store) incrementRetry(ctx context.Context, table, id string, nextAttemptAt time.Time, lastErr string) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	var attempts int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ?
		RETURNING attempts
	`, table), zeroOrUnix(nextAttemptAt), lastErr, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domainErrors.NewError(domainErrors.CodeNotFound, id, domainErrors.ErrRecordNotFound)
	}
	if err != nil {
		return 0, domainErrors.Storage("increment retry count", err)
	}
	return attempts, nil
}

func (s *Store) deadLetter(ctx context.Context, table, id string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET status = 'dead' WHERE id = ?", table), id)
	if err != nil {
		return domainErrors.Storage("dead-letter item", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainErrors.NewError(domainErrors.CodeNotFound, id, domainErrors.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) execByID(ctx context.Context, query, id string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return domainErrors.Storage("delete item", err)
	}
	return nil
}
