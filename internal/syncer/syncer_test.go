package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibemcp/vibemcp/internal/index"
	"github.com/vibemcp/vibemcp/internal/store"
)

func newTestSyncer(t *testing.T, interval time.Duration) (*Syncer, *index.Indexer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ix, err := index.New(root, st, logger)
	require.NoError(t, err)

	s, err := New(ix, interval, logger)
	require.NoError(t, err)
	return s, ix, root
}

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	_, ix, _ := newTestSyncer(t, time.Second)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, err := New(ix, 0, logger)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestSyncer(t, 50*time.Millisecond)

	s.Start()
	s.Start() // idempotent
	time.Sleep(120 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}

func TestPeriodicSyncPicksUpExternalEdit(t *testing.T) {
	s, ix, root := newTestSyncer(t, 50*time.Millisecond)

	s.Start()
	defer s.Stop()

	path := filepath.Join(root, "p", "tasks", "001-a.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("# Task: A\nStatus: pending\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := ix.GetDocument(context.Background(), "p/tasks/001-a.md")
		return err == nil
	}, 3*time.Second, 25*time.Millisecond)
}

func TestStopHaltsLoop(t *testing.T) {
	s, ix, root := newTestSyncer(t, 50*time.Millisecond)

	s.Start()
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	// Edits after Stop are not indexed.
	path := filepath.Join(root, "p", "status.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("# p\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	_, err := ix.GetDocument(context.Background(), "p/status.md")
	assert.Error(t, err)
}
