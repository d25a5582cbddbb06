package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

// PutResponse stores a response snapshot, replacing any with the same key.
func (s *Store) PutResponse(ctx context.Context, resp *offline.CachedResponse) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return domainErrors.Storage("encode response header", err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = s.now()
	}
	body, err := s.seal(resp.Body)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cached_responses (generation, key, method, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (generation, key) DO UPDATE SET
			method = excluded.method, url = excluded.url, status = excluded.status,
			header = excluded.header, body = excluded.body, stored_at = excluded.stored_at
	`, resp.Generation, resp.Key, resp.Method, resp.URL, resp.Status, string(header), body, storedAt.UnixNano())
	if err != nil {
		return domainErrors.Storage("store response", err)
	}
	return nil
}

// GetResponse returns the snapshot for (generation, key).
func (s *Store) GetResponse(ctx context.Context, generation, key string) (*offline.CachedResponse, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	resp := &offline.CachedResponse{Generation: generation, Key: key}
	var header string
	var storedAt int64
	err = db.QueryRowContext(ctx, `
		SELECT method, url, status, header, body, stored_at
		FROM cached_responses
		WHERE generation = ? AND key = ?
	`, generation, key).Scan(&resp.Method, &resp.URL, &resp.Status, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErrors.ErrNoCachedResponse
	}
	if err != nil {
		return nil, domainErrors.Storage("load response", err)
	}
	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, domainErrors.Storage("decode response header", err)
	}
	if resp.Body, err = s.open(resp.Body); err != nil {
		return nil, err
	}
	resp.StoredAt = time.Unix(0, storedAt)
	return resp, nil
}

// ResponseGenerations lists the generations holding snapshots.
func (s *Store) ResponseGenerations(ctx context.Context) ([]string, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT DISTINCT generation FROM cached_responses ORDER BY generation")
	if err != nil {
		return nil, domainErrors.Storage("list generations", err)
	}
	defer rows.Close()

	var gens []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, domainErrors.Storage("scan generation", err)
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}

// DeleteResponseGenerations removes every generation not in keep.
func (s *Store) DeleteResponseGenerations(ctx context.Context, keep []string) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	query := "DELETE FROM cached_responses"
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		query += " WHERE generation NOT IN (?" + strings.Repeat(", ?", len(keep)-1) + ")"
		for _, g := range keep {
			args = append(args, g)
		}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domainErrors.Storage("purge generations", err)
	}
	return res.RowsAffected()
}
