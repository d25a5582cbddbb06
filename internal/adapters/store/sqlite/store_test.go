package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/adapters/store/storetest"
	"github.com/jbctechsolutions/clinicsync/internal/application/ports"
	"github.com/jbctechsolutions/clinicsync/internal/domain/offline"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/testutil"
)

func newTestStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(path, opts...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts storetest.Options) ports.LocalStore {
		var storeOpts []Option
		if opts.Now != nil {
			storeOpts = append(storeOpts, WithClock(opts.Now))
		}
		if opts.MaxRecords > 0 {
			storeOpts = append(storeOpts, WithMaxRecords(opts.MaxRecords))
		}
		return newTestStore(t, filepath.Join(t.TempDir(), "clinicsync.db"), storeOpts...)
	})
}

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher([]byte(strings.Repeat("k", crypto.KeySize)))
	testutil.AssertNoError(t, err)
	return c
}

func TestStoreConformance_Encrypted(t *testing.T) {
	overhead := testCipher(t).Overhead()
	storetest.Run(t, func(t *testing.T, opts storetest.Options) ports.LocalStore {
		storeOpts := []Option{WithCipher(testCipher(t))}
		if opts.Now != nil {
			storeOpts = append(storeOpts, WithClock(opts.Now))
		}
		if opts.MaxRecords > 0 {
			storeOpts = append(storeOpts, WithMaxRecords(opts.MaxRecords))
		}
		return newTestStore(t, filepath.Join(t.TempDir(), "clinicsync.db"), storeOpts...)
	}, storetest.WithPayloadOverhead(overhead))
}

func TestStore_EncryptsPayloadsAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sealed.db")
	s := newTestStore(t, path, WithCipher(testCipher(t)))

	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "Ada Lovelace")}))
	_, err := s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/patients", `{"name":"Ada Lovelace"}`))
	testutil.AssertNoError(t, err)
	_, err = s.AddToSyncQueue(ctx, "acme", offline.ActionCreate, "patients", json.RawMessage(`{"name":"Ada Lovelace"}`))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.PutResponse(ctx, &offline.CachedResponse{
		Generation: "v1", Key: "GET /api/patients", Method: "GET", URL: "/api/patients",
		Status: 200, Body: []byte(`[{"name":"Ada Lovelace"}]`),
	}))

	db, err := s.db()
	testutil.AssertNoError(t, err)
	for _, q := range []string{
		"SELECT payload FROM cached_records",
		"SELECT body FROM queued_requests",
		"SELECT data FROM sync_queue",
		"SELECT body FROM cached_responses",
	} {
		var raw []byte
		testutil.AssertNoError(t, db.QueryRowContext(ctx, q).Scan(&raw))
		if strings.Contains(string(raw), "Lovelace") {
			t.Errorf("%s stored plaintext %q", q, raw)
		}
	}

	records, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if len(records) != 1 || !strings.Contains(string(records[0].Payload), "Lovelace") {
		t.Errorf("decrypted records = %+v", records)
	}
	items, err := s.GetSyncQueue(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(items[0].Data), `{"name":"Ada Lovelace"}`)
	resp, err := s.GetResponse(ctx, "v1", "GET /api/patients")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(resp.Body), `[{"name":"Ada Lovelace"}]`)
}

func TestStore_WrongKeyFailsToRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sealed.db")

	s, err := NewStore(path, WithCipher(testCipher(t)))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Init(ctx))
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", testutil.Payloads(1)))
	testutil.AssertNoError(t, s.Close())

	other, err := crypto.NewCipher([]byte(strings.Repeat("x", crypto.KeySize)))
	testutil.AssertNoError(t, err)
	reopened := newTestStore(t, path, WithCipher(other))
	_, err = reopened.GetCachedData(ctx, "patients", "acme")
	testutil.AssertErrorIs(t, err, crypto.ErrInvalidCiphertext)
}

func TestStore_InMemory(t *testing.T) {
	s := newTestStore(t, MemoryPath)
	ctx := context.Background()
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", testutil.Payloads(2)))
	got, err := s.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(got), 2)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))

	s, err := NewStore(path, WithClock(clock.Now))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Init(ctx))
	testutil.AssertNoError(t, s.CacheData(ctx, "patients", "acme", []json.RawMessage{testutil.Payload(1, "A")}))
	reqID, err := s.QueueRequest(ctx, testutil.NewQueuedRequest("http://backend/api/patients", `{"name":"B"}`))
	testutil.AssertNoError(t, err)
	_, err = s.IncrementRetryCount(ctx, reqID, clock.Now().Add(time.Minute), "connection refused")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Close())

	reopened := newTestStore(t, path)
	records, err := reopened.GetCachedData(ctx, "patients", "acme")
	testutil.AssertNoError(t, err)
	if len(records) != 1 || !records[0].UpdatedAt.Equal(clock.Now()) {
		t.Errorf("records after reopen = %+v", records)
	}
	queued, err := reopened.GetQueuedRequests(ctx)
	testutil.AssertNoError(t, err)
	if len(queued) != 1 || queued[0].ID != reqID || queued[0].RetryCount() != 1 {
		t.Fatalf("queued after reopen = %+v", queued)
	}
	if queued[0].Retry.LastError != "connection refused" {
		t.Errorf("LastError = %q", queued[0].Retry.LastError)
	}
}

func TestNewConnection(t *testing.T) {
	t.Run("creates connection with custom path", func(t *testing.T) {
		conn, err := NewConnection("/tmp/test.db")
		if err != nil {
			t.Fatalf("NewConnection() error = %v", err)
		}
		if conn.Path() != "/tmp/test.db" {
			t.Errorf("Path() = %q, want %q", conn.Path(), "/tmp/test.db")
		}
	})

	t.Run("creates connection with default path", func(t *testing.T) {
		conn, err := NewConnection("")
		if err != nil {
			t.Fatalf("NewConnection() error = %v", err)
		}
		homeDir, _ := os.UserHomeDir()
		expectedPath := filepath.Join(homeDir, ".clinicsync", "clinicsync.db")
		if conn.Path() != expectedPath {
			t.Errorf("Path() = %q, want %q", conn.Path(), expectedPath)
		}
	})
}

func TestConnection_OpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	conn, err := NewConnection(dbPath)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}

	t.Run("open creates directory and database", func(t *testing.T) {
		if err := conn.Open(); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Open() did not create database file")
		}
		if err := conn.Ping(); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})

	t.Run("open on already open connection returns error", func(t *testing.T) {
		if err := conn.Open(); err == nil {
			t.Error("Open() on already open connection should return error")
		}
	})

	t.Run("close closes the connection", func(t *testing.T) {
		if err := conn.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if !conn.IsClosed() {
			t.Error("IsClosed() = false after Close")
		}
		if _, err := conn.DB(); err == nil {
			t.Error("DB() after Close should return error")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		if err := conn.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := applyMigrations(db); err != nil {
		t.Fatalf("first applyMigrations() error = %v", err)
	}
	if err := applyMigrations(db); err != nil {
		t.Fatalf("second applyMigrations() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if count != len(migrations) {
		t.Errorf("migrations count = %d, want %d", count, len(migrations))
	}

	for _, table := range []string{"cached_records", "queued_requests", "sync_queue", "cached_responses"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrations_RejectUnknownAction(t *testing.T) {
	db := openTestDB(t)
	if err := applyMigrations(db); err != nil {
		t.Fatalf("applyMigrations() error = %v", err)
	}
	_, err := db.Exec(`INSERT INTO sync_queue (id, tenant_id, action, entity, data, created_at)
		VALUES ('x', 'acme', 'merge', 'patients', '{}', 0)`)
	if err == nil {
		t.Error("CHECK constraint should reject unknown actions")
	}
}
