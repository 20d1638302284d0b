package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibemcp/vibemcp/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nowMtime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func indexDocument(t *testing.T, s *Store, project, path, folder, status, content string) int64 {
	t.Helper()
	ctx := context.Background()

	projectID, err := s.GetOrCreateProject(ctx, project, "/root/"+project)
	require.NoError(t, err)

	docID, err := s.UpsertDocument(ctx, &Document{
		ProjectID:   projectID,
		Path:        path,
		Folder:      folder,
		Filename:    filepath.Base(path),
		Status:      status,
		ContentHash: "hash-" + path,
		Mtime:       nowMtime(),
	})
	require.NoError(t, err)

	require.NoError(t, s.InsertChunks(ctx, docID, []Chunk{
		{Content: content, ChunkOrder: 0},
	}))
	return docID
}

func TestOpen_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "index.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProjects_GetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.GetOrCreateProject(ctx, "demo", "/root/demo")
	require.NoError(t, err)
	id2, err := s.GetOrCreateProject(ctx, "demo", "/elsewhere/demo")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/demo", p.Path)

	_, err = s.GetProject(ctx, "missing")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestProjects_ListOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateProject(ctx, "beta", "/r/beta")
	require.NoError(t, err)
	_, err = s.GetOrCreateProject(ctx, "alpha", "/r/alpha")
	require.NoError(t, err)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "beta", projects[1].Name)

	n, err := s.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDocuments_UpsertAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, err := s.GetOrCreateProject(ctx, "demo", "/r/demo")
	require.NoError(t, err)

	doc := &Document{
		ProjectID:   projectID,
		Path:        "demo/tasks/001-x.md",
		Folder:      "tasks",
		Filename:    "001-x.md",
		Type:        "task",
		Status:      "pending",
		Owner:       "kim",
		Tags:        []string{"a", "b"},
		ContentHash: "h1",
		Mtime:       1234.5,
		Updated:     "2026-08-20",
	}
	id1, err := s.UpsertDocument(ctx, doc)
	require.NoError(t, err)

	got, err := s.GetDocumentByPath(ctx, "demo/tasks/001-x.md")
	require.NoError(t, err)
	assert.Equal(t, id1, got.ID)
	assert.Equal(t, "task", got.Type)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Equal(t, "2026-08-20", got.Updated)

	// Upsert by path keeps the id and refreshes fields.
	doc.Status = "done"
	doc.ContentHash = "h2"
	id2, err := s.UpsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	hash, ok, err := s.GetDocumentHash(ctx, doc.Path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h2", hash)

	mtime, ok, err := s.GetDocumentMtime(ctx, doc.Path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1234.5, mtime, 0.0001)

	_, ok, err = s.GetDocumentHash(ctx, "demo/missing.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocuments_ListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	indexDocument(t, s, "p1", "p1/tasks/001-a.md", "tasks", "pending", "alpha")
	indexDocument(t, s, "p1", "p1/plans/plan.md", "plans", "", "beta")
	indexDocument(t, s, "p2", "p2/tasks/001-b.md", "tasks", "pending", "gamma")

	all, err := s.ListDocuments(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	p1, err := s.ListDocuments(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	p1tasks, err := s.ListDocuments(ctx, "p1", "tasks")
	require.NoError(t, err)
	require.Len(t, p1tasks, 1)
	assert.Equal(t, "p1/tasks/001-a.md", p1tasks[0].Path)

	paths, err := s.IndexedPaths(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Contains(t, paths, "p1/plans/plan.md")
}

func TestListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	indexDocument(t, s, "p1", "p1/tasks/001-a.md", "tasks", "pending", "alpha")
	indexDocument(t, s, "p1", "p1/tasks/002-b.md", "tasks", "done", "beta")
	indexDocument(t, s, "p1", "p1/plans/plan.md", "plans", "", "gamma")
	indexDocument(t, s, "p2", "p2/tasks/001-c.md", "tasks", "pending", "delta")

	all, err := s.ListTasks(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p1/tasks/001-a.md", all[0].Path)
	assert.Equal(t, "p1", all[0].ProjectName)

	pending, err := s.ListTasks(ctx, "", "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	p2, err := s.ListTasks(ctx, "p2", "")
	require.NoError(t, err)
	require.Len(t, p2, 1)
	assert.Equal(t, "001-c.md", p2[0].Filename)

	none, err := s.ListTasks(ctx, "p2", "done")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDocuments_DeleteCascadesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := indexDocument(t, s, "p", "p/tasks/001-a.md", "tasks", "pending", "findme content")

	require.NoError(t, s.DeleteDocument(ctx, "p/tasks/001-a.md"))

	chunks, err := s.GetChunks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// The FTS shadow must not return rows for deleted documents.
	results, err := s.Search(ctx, "findme", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunks_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, err := s.GetOrCreateProject(ctx, "p", "/r/p")
	require.NoError(t, err)
	docID, err := s.UpsertDocument(ctx, &Document{
		ProjectID: projectID, Path: "p/status.md", Folder: "",
		Filename: "status.md", ContentHash: "h", Mtime: nowMtime(),
	})
	require.NoError(t, err)

	require.NoError(t, s.InsertChunks(ctx, docID, []Chunk{
		{Heading: "## Current Status", HeadingLevel: 2, Content: "working", ChunkOrder: 0, IsPriorityHeading: true},
		{Content: "overflow", ChunkOrder: 1, CharOffset: 20},
	}))

	chunks, err := s.GetChunks(ctx, docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "## Current Status", chunks[0].Heading)
	assert.True(t, chunks[0].IsPriorityHeading)
	assert.Equal(t, "", chunks[1].Heading)
	assert.Equal(t, 1, chunks[1].ChunkOrder)

	require.NoError(t, s.DeleteChunksForDocument(ctx, docID))
	chunks, err = s.GetChunks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	indexDocument(t, s, "p", "p/tasks/001-a.md", "tasks", "pending", "searchable text")

	require.NoError(t, s.Clear(ctx))

	n, err := s.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	results, err := s.Search(ctx, "searchable", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClose_FurtherCallsFail(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	_, err = s.ListProjects(context.Background())
	assert.Error(t, err)
}
