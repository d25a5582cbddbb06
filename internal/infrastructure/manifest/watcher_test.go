package manifest

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/clinicsync/internal/infrastructure/testutil"
)

func startWatcher(t *testing.T, path string, onChange ChangeFunc) context.CancelFunc {
	t.Helper()
	w, err := NewWatcher(path, onChange, WithDebounce(30*time.Millisecond))
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// Give Run a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func TestWatcher_ReportsEditsOnce(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "manifest.yaml", "- /\n")

	changed := make(chan string, 4)
	startWatcher(t, path, func(_ context.Context, p string) { changed <- p })

	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, os.WriteFile(path, []byte("- /\n- /offline.html\n"), 0o644))
	}

	select {
	case got := <-changed:
		want, _ := filepath.Abs(path)
		testutil.AssertEqual(t, got, want)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case <-changed:
		t.Error("burst of writes reported more than once")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "manifest.yaml", "- /\n")

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context, string) { calls.Add(1) })

	testutil.WriteFile(t, dir, "other.yaml", "x: 1\n")
	time.Sleep(150 * time.Millisecond)
	testutil.AssertEqual(t, calls.Load(), int32(0))
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "manifest.yaml"), func(context.Context, string) {})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Close())
	testutil.AssertNoError(t, w.Close())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "manifest.yaml"), func(context.Context, string) {})
	testutil.AssertNoError(t, err)
	defer w.Close()
	testutil.AssertErrorIs(t, w.Run(context.Background()), os.ErrNotExist)
}
