package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/clinicsync/internal/domain/errors"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
)

var _ ports.LocalStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords caps the number of cached records; the oldest are evicted
// after a write that exceeds it. Zero disables the cap.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.maxRecords = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// PayloadCipher encrypts payload columns at rest.
type PayloadCipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// WithCipher encrypts record payloads, queued bodies and cached response
// bodies. A database written with one key cannot be read with another.
func WithCipher(c PayloadCipher) Option {
	return func(s *Store) { s.cipher = c }
}

// Store implements ports.LocalStore on SQLite.
type Store struct {
	conn       *Connection
	maxRecords int
	cipher     PayloadCipher
	now        func() time.Time
}

// NewStore creates a store for dbPath. Call Init before use.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	conn, err := NewConnection(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init opens the database and applies migrations.
func (s *Store) Init(ctx context.Context) error {
	if err := s.conn.Open(); err != nil {
		return domainErrors.Storage("open local store", err)
	}
	return nil
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.conn.Path()
}

func (s *Store) db() (*sql.DB, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, domainErrors.Storage(err.Error(), domainErrors.ErrStoreClosed)
	}
	return db, nil
}

// GetCachedData returns every record for (entityType, tenantID).
func (s *Store) GetCachedData(ctx context.Context, entityType, tenantID string) ([]offline.CachedRecord, error) {
	if err := offline.ValidateScope(entityType, tenantID); err != nil {
		return nil, err
	}
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT entity_id, payload, updated_at
		FROM cached_records
		WHERE tenant_id = ? AND entity_type = ?
		ORDER BY rowid
	`, tenantID, entityType)
	if err != nil {
		return nil, domainErrors.Storage("query cached records", err)
	}
	defer rows.Close()

	var records []offline.CachedRecord
	for rows.Next() {
		rec := offline.CachedRecord{TenantID: tenantID, EntityType: entityType}
		var payload []byte
		var updatedAt int64
		if err := rows.Scan(&rec.EntityID, &payload, &updatedAt); err != nil {
			return nil, domainErrors.Storage("scan cached record", err)
		}
		if payload, err = s.open(payload); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		rec.UpdatedAt = time.Unix(0, updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.Storage("iterate cached records", err)
	}
	return records, nil
}

// CacheData upserts records by id.
func (s *Store) CacheData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error {
	return s.writeRecords(ctx, entityType, tenantID, records, false)
}

// ReplaceData replaces the (entityType, tenantID) set in one transaction.
func (s *Store) ReplaceData(ctx context.Context, entityType, tenantID string, records []json.RawMessage) error {
	return s.writeRecords(ctx, entityType, tenantID, records, true)
}

func (s *Store) writeRecords(ctx context.Context, entityType, tenantID string, payloads []json.RawMessage, replace bool) error {
	if err := offline.ValidateScope(entityType, tenantID); err != nil {
		return err
	}
	now := s.now()
	records := make([]*offline.CachedRecord, 0, len(payloads))
	for _, p := range payloads {
		rec, err := offline.NewCachedRecord(tenantID, entityType, p, now)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	db, err := s.db()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domainErrors.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM cached_records WHERE tenant_id = ? AND entity_type = ?",
			tenantID, entityType); err != nil {
			return domainErrors.Storage("clear cached records", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_records (tenant_id, entity_type, entity_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_type, entity_id)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`)
	if err != nil {
		return domainErrors.Storage("prepare upsert", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		payload, err := s.seal(rec.Payload)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, tenantID, entityType, rec.EntityID, payload, rec.UpdatedAt.UnixNano()); err != nil {
			return domainErrors.Storage(fmt.Sprintf("upsert record %s", rec.EntityID), err)
		}
	}

	if err := s.evictOverflow(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domainErrors.Storage("commit cached records", err)
	}
	return nil
}

// evictOverflow removes the oldest records beyond maxRecords.
func (s *Store) evictOverflow(ctx context.Context, tx *sql.Tx) error {
	if s.maxRecords <= 0 {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM cached_records").Scan(&count); err != nil {
		return domainErrors.Storage("count cached records", err)
	}
	overflow := count - s.maxRecords
	if overflow <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM cached_records WHERE rowid IN (
			SELECT rowid FROM cached_records ORDER BY updated_at ASC, rowid ASC LIMIT ?
		)
	`, overflow)
	if err != nil {
		return domainErrors.Storage("evict cached records", err)
	}
	return nil
}

// ClearOldData deletes records older than now-maxAge.
func (s *Store) ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge).UnixNano()
	res, err := db.ExecContext(ctx, "DELETE FROM cached_records WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, domainErrors.Storage("clear old records", err)
	}
	return res.RowsAffected()
}

// GetDatabaseSize reports row counts per table and payload bytes as stored,
// so with a cipher the sealed sizes are counted.
func (s *Store) GetDatabaseSize(ctx context.Context) (offline.StoreSize, error) {
	var size offline.StoreSize
	db, err := s.db()
	if err != nil {
		return size, err
	}
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cached_records),
			(SELECT COUNT(*) FROM queued_requests),
			(SELECT COUNT(*) FROM sync_queue),
			(SELECT COUNT(*) FROM cached_responses),
			(SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM cached_records)
				+ (SELECT COALESCE(SUM(LENGTH(body)), 0) FROM queued_requests)
				+ (SELECT COALESCE(SUM(LENGTH(data)), 0) FROM sync_queue)
				+ (SELECT COALESCE(SUM(LENGTH(body)), 0) FROM cached_responses)
	`).Scan(&size.Records, &size.Requests, &size.SyncItems, &size.Responses, &size.PayloadBytes)
	if err != nil {
		return size, domainErrors.Storage("measure store", err)
	}
	return size, nil
}

// QueueCounts returns the pending totals of both queues.
func (s *Store) QueueCounts(ctx context.Context) (offline.QueueCounts, error) {
	var counts offline.QueueCounts
	db, err := s.db()
	if err != nil {
		return counts, err
	}
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM queued_requests WHERE status = 'pending'),
			(SELECT COUNT(*) FROM sync_queue WHERE status = 'pending')
	`).Scan(&counts.Requests, &counts.SyncItems)
	if err != nil {
		return counts, domainErrors.Storage("count queues", err)
	}
	return counts, nil
}

func (s *Store) seal(b []byte) ([]byte, error) {
	if s.cipher == nil {
		return b, nil
	}
	out, err := s.cipher.Seal(b)
	if err != nil {
		return nil, domainErrors.Storage("encrypt payload", err)
	}
	return out, nil
}

func (s *Store) open(b []byte) ([]byte, error) {
	if s.cipher == nil {
		return b, nil
	}
	out, err := s.cipher.Open(b)
	if err != nil {
		return nil, domainErrors.Storage("decrypt payload", err)
	}
	return out, nil
}

func unixOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func zeroOrUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
