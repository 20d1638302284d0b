package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibemcp/vibemcp/internal/store"
)

func newTestIndexer(t *testing.T) (*Indexer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ix, err := New(root, st, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return ix, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedWorkspace(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "demo", "status.md"),
		"# demo\n\nStatus: setup\n\n## Current Status\n\nBuilding the indexer.\n")
	writeFile(t, filepath.Join(root, "demo", "tasks", "001-parser.md"),
		"# Task: Build parser\nStatus: pending\n\n## Objective\n\nParse frontmatter blocks.\n")
	writeFile(t, filepath.Join(root, "other", "plans", "execution-plan.md"),
		"# Plan\n\nShip the webhook engine.\n")
}

func TestReindex(t *testing.T) {
	ix, root := newTestIndexer(t)
	seedWorkspace(t, root)
	ctx := context.Background()

	count, err := ix.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	projects, err := ix.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "demo", projects[0].Name)
	assert.Equal(t, "other", projects[1].Name)

	doc, err := ix.GetDocument(ctx, "demo/tasks/001-parser.md")
	require.NoError(t, err)
	assert.Equal(t, "task", doc.Type)
	assert.Equal(t, "pending", doc.Status)

	chunks, err := ix.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestReindex_ClearsStaleRows(t *testing.T) {
	ix, root := newTestIndexer(t)
	seedWorkspace(t, root)
	ctx := context.Background()

	_, err := ix.Reindex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "other", "plans", "execution-plan.md")))

	count, err := ix.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = ix.GetDocument(ctx, "other/plans/execution-plan.md")
	assert.Error(t, err)
}

func TestSync_AddUpdateDelete(t *testing.T) {
	ix, root := newTestIndexer(t)
	seedWorkspace(t, root)
	ctx := context.Background()

	added, updated, deleted, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Zero(t, updated)
	assert.Zero(t, deleted)

	// No changes: everything zero.
	added, updated, deleted, err = ix.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added+updated+deleted)

	// Content change is detected through mtime then hash.
	taskPath := filepath.Join(root, "demo", "tasks", "001-parser.md")
	writeFile(t, taskPath, "# Task: Build parser\nStatus: done\n")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(taskPath, future, future))

	added, updated, deleted, err = ix.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 1, updated)
	assert.Zero(t, deleted)

	doc, err := ix.GetDocument(ctx, "demo/tasks/001-parser.md")
	require.NoError(t, err)
	assert.Equal(t, "done", doc.Status)

	// Deletion is picked up.
	require.NoError(t, os.Remove(taskPath))
	added, updated, deleted, err = ix.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Zero(t, updated)
	assert.Equal(t, 1, deleted)
}

func TestSync_MtimeOnlyChangeDoesNotRechunk(t *testing.T) {
	ix, root := newTestIndexer(t)
	writeFile(t, filepath.Join(root, "p", "status.md"), "# p\n\nStatus: setup\n")
	ctx := context.Background()

	_, _, _, err := ix.Sync(ctx)
	require.NoError(t, err)

	// Touch without changing content.
	path := filepath.Join(root, "p", "status.md")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	added, updated, deleted, err := ix.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added+updated+deleted)

	// The stored mtime caught up, so the next sync is quiet too.
	added, updated, deleted, err = ix.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, added+updated+deleted)
}

func TestSync_StoreErrorDoesNotLeakWalker(t *testing.T) {
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	ix, err := New(root, st, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	seedWorkspace(t, root)

	// Every store call fails from here on, so each sync aborts after the
	// first file while the walker still has more to send.
	require.NoError(t, st.Close())

	ctx := context.Background()
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		_, _, _, err := ix.Sync(ctx)
		require.Error(t, err)
	}

	// The aborted walks must wind down instead of blocking on their
	// channel forever.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
}

func TestIndexProject(t *testing.T) {
	ix, root := newTestIndexer(t)
	seedWorkspace(t, root)
	ctx := context.Background()

	count, err := ix.IndexProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	docs, err := ix.ListDocuments(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestIndexPath(t *testing.T) {
	ix, root := newTestIndexer(t)
	path := filepath.Join(root, "p", "tasks", "001-a.md")
	writeFile(t, path, "# Task: A\nStatus: pending\n")
	ctx := context.Background()

	require.NoError(t, ix.IndexPath(ctx, path))

	doc, err := ix.GetDocument(ctx, "p/tasks/001-a.md")
	require.NoError(t, err)
	assert.Equal(t, "pending", doc.Status)
}

func TestIndexFile_SymlinkEscapeSkipped(t *testing.T) {
	ix, root := newTestIndexer(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.md"), "# secret")

	linkDir := filepath.Join(root, "p", "tasks")
	require.NoError(t, os.MkdirAll(linkDir, 0o755))
	link := filepath.Join(linkDir, "escape.md")
	if err := os.Symlink(filepath.Join(outside, "secret.md"), link); err != nil {
		t.Skip("symlinks not supported")
	}

	ctx := context.Background()
	_, err := ix.Reindex(ctx)
	require.NoError(t, err)

	_, err = ix.GetDocument(ctx, "p/tasks/escape.md")
	assert.Error(t, err)
}

func TestIndexFile_InvalidUTF8Skipped(t *testing.T) {
	ix, root := newTestIndexer(t)
	path := filepath.Join(root, "p", "notes.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0xfd}, 0o644))

	ctx := context.Background()
	_, err := ix.Reindex(ctx)
	require.NoError(t, err)

	docs, err := ix.ListDocuments(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearch_CacheInvalidatedByWrites(t *testing.T) {
	ix, root := newTestIndexer(t)
	writeFile(t, filepath.Join(root, "p", "tasks", "001-a.md"),
		"# Task: A\n\nLookup the golden keyword.\n")
	ctx := context.Background()

	_, err := ix.Reindex(ctx)
	require.NoError(t, err)

	results, err := ix.Search(ctx, "golden", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Served from cache.
	again, err := ix.Search(ctx, "golden", "", 10)
	require.NoError(t, err)
	assert.Equal(t, results, again)

	// A write invalidates.
	path := filepath.Join(root, "p", "tasks", "001-a.md")
	writeFile(t, path, "# Task: A\n\nNothing to see.\n")
	require.NoError(t, ix.IndexPath(ctx, path))

	results, err = ix.Search(ctx, "golden", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
