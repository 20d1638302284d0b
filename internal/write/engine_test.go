package write

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibemcp/vibemcp/internal/auth"
	"github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/index"
	"github.com/vibemcp/vibemcp/internal/store"
)

type recordedEvent struct {
	eventType string
	project   string
	data      map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) FireEvent(eventType, project string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, project, data})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func newTestEngine(t *testing.T) (*Engine, *eventRecorder, *index.Indexer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ix, err := index.New(root, st, logger)
	require.NoError(t, err)

	events := &eventRecorder{}
	gate := auth.New("", false, logger)
	return New(root, gate, ix, events, logger), events, ix, root
}

func TestInitProject(t *testing.T) {
	e, events, ix, root := newTestEngine(t)
	ctx := context.Background()

	result, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "initialized", result.Status)
	assert.Equal(t, StandardFolders, result.Folders)

	for _, folder := range StandardFolders {
		info, err := os.Stat(filepath.Join(root, "demo", folder))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	content, err := os.ReadFile(filepath.Join(root, "demo", "status.md"))
	require.NoError(t, err)
	assert.Equal(t, "# demo\n\nStatus: setup\n", string(content))

	// The seeded status file is indexed immediately.
	doc, err := ix.GetDocument(ctx, "demo/status.md")
	require.NoError(t, err)
	assert.Equal(t, "status", doc.Type)

	fired := events.all()
	require.Len(t, fired, 1)
	assert.Equal(t, "project.initialized", fired[0].eventType)
	assert.Equal(t, "demo", fired[0].project)

	// Re-init fails.
	_, err = e.InitProject(ctx, "demo")
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))
}

func TestInitProject_RejectsTraversal(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"../escape", "a/b", `a\b`, ".."} {
		_, err := e.InitProject(ctx, name)
		assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err), "name %q", name)
	}
}

func TestWrites_RejectSymlinkedProjectEscape(t *testing.T) {
	e, _, _, root := newTestEngine(t)
	ctx := context.Background()

	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "evil")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := e.CreateDoc(ctx, "evil", "scratch", "x.md", "payload")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	_, err = e.CreateTask(ctx, "evil", "escape", "", nil, "")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	_, err = e.CreatePlan(ctx, "evil", "# plan", "")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	// Nothing may land outside the workspace root.
	entries, readErr := os.ReadDir(outside)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestWrites_RejectSymlinkedFolderEscape(t *testing.T) {
	e, _, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	outside := t.TempDir()
	scratch := filepath.Join(root, "demo", "scratch")
	require.NoError(t, os.RemoveAll(scratch))
	if err := os.Symlink(outside, scratch); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err = e.CreateDoc(ctx, "demo", "scratch", "x.md", "payload")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	entries, readErr := os.ReadDir(outside)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestCreateTask_NumberingAndFormat(t *testing.T) {
	e, events, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r1, err := e.CreateTask(ctx, "demo", "Build the Parser!", "Parse headers.",
		[]string{"write code", "write tests"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.TaskNumber)
	assert.Equal(t, "001-build-the-parser.md", r1.Filename)

	content, err := os.ReadFile(filepath.Join(root, "demo", "tasks", r1.Filename))
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "# Task: Build the Parser!")
	assert.Contains(t, text, "Status: pending")
	assert.Contains(t, text, "## Objective\nParse headers.")
	assert.Contains(t, text, "1. [ ] write code")
	assert.Contains(t, text, "2. [ ] write tests")
	assert.NotContains(t, text, "---")

	r2, err := e.CreateTask(ctx, "demo", "Second", "More work.", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.TaskNumber)

	var created []recordedEvent
	for _, ev := range events.all() {
		if ev.eventType == "task.created" {
			created = append(created, ev)
		}
	}
	require.Len(t, created, 2)
	assert.Equal(t, 1, created[0].data["task_number"])
}

func TestCreateTask_FeatureFrontmatter(t *testing.T) {
	e, _, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r, err := e.CreateTask(ctx, "demo", "Auth flow", "Do auth.", nil, "auth")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, "demo", "tasks", r.Filename))
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "---\ntype: task\nstatus: pending\nfeature: auth\n---\n"))
	// No duplicate status line outside the frontmatter.
	assert.Equal(t, 1, strings.Count(text, "status: pending")+strings.Count(text, "Status: pending"))
}

func TestCreateTask_NumberContinuesFromExisting(t *testing.T) {
	e, _, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "demo", "tasks", "041-old.md"), []byte("# Task: Old"), 0o644))

	r, err := e.CreateTask(ctx, "demo", "New", "Obj.", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 42, r.TaskNumber)
}

func TestLogSession_CreateThenAppend(t *testing.T) {
	e, events, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r1, err := e.LogSession(ctx, "demo", "Started work.")
	require.NoError(t, err)
	assert.Equal(t, "created", r1.Status)
	assert.Equal(t, time.Now().Format("2006-01-02"), r1.Date)

	r2, err := e.LogSession(ctx, "demo", "More progress.")
	require.NoError(t, err)
	assert.Equal(t, "appended", r2.Status)

	content, err := os.ReadFile(filepath.Join(root, "demo", "sessions", r1.Date+".md"))
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "# Session Log - "+r1.Date+"\n\nStarted work.\n"))
	assert.Contains(t, text, "\n\n---\n**")
	assert.Contains(t, text, "More progress.")

	var actions []string
	for _, ev := range events.all() {
		if ev.eventType == "session.logged" {
			actions = append(actions, ev.data["action"].(string))
		}
	}
	assert.Equal(t, []string{"created", "appended"}, actions)
}

func TestUpdateTaskStatus(t *testing.T) {
	e, _, ix, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)
	r, err := e.CreateTask(ctx, "demo", "Work", "Do it.", nil, "")
	require.NoError(t, err)

	res, err := e.UpdateTaskStatus(ctx, "demo", r.Filename, "in-progress")
	require.NoError(t, err)
	assert.Equal(t, "in-progress", res.NewStatus)

	content, err := os.ReadFile(filepath.Join(root, "demo", "tasks", r.Filename))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Status: in-progress")
	assert.NotContains(t, string(content), "Status: pending")

	doc, err := ix.GetDocument(ctx, "demo/tasks/"+r.Filename)
	require.NoError(t, err)
	assert.Equal(t, "in-progress", doc.Status)
}

func TestUpdateTaskStatus_InsertsWhenMissing(t *testing.T) {
	e, _, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)
	path := filepath.Join(root, "demo", "tasks", "001-bare.md")
	require.NoError(t, os.WriteFile(path, []byte("# Task: Bare\n\nNo status here.\n"), 0o644))

	_, err = e.UpdateTaskStatus(ctx, "demo", "001-bare.md", "blocked")
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(content), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "# Task: Bare", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "Status: blocked", lines[2])
}

func TestUpdateTaskStatus_Validation(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	_, err = e.UpdateTaskStatus(ctx, "demo", "001-x.md", "wontfix")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	_, err = e.UpdateTaskStatus(ctx, "demo", "001-x.md", "done")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	_, err = e.UpdateTaskStatus(ctx, "demo", "../status.md", "done")
	assert.Error(t, err)
}

func TestCreateDoc(t *testing.T) {
	e, events, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r, err := e.CreateDoc(ctx, "demo", "references", "api-notes", "# API\n")
	require.NoError(t, err)
	assert.Equal(t, "demo/references/api-notes.md", r.Path)

	_, err = os.Stat(filepath.Join(root, "demo", "references", "api-notes.md"))
	require.NoError(t, err)

	// Creating the same doc again conflicts.
	_, err = e.CreateDoc(ctx, "demo", "references", "api-notes.md", "dup")
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))

	// Traversal rejected.
	_, err = e.CreateDoc(ctx, "demo", "..", "escape", "x")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))
	_, err = e.CreateDoc(ctx, "demo", "refs", "a/b", "x")
	assert.Equal(t, errors.KindInputInvalid, errors.KindOf(err))

	fired := events.all()
	assert.Equal(t, "doc.created", fired[len(fired)-1].eventType)
}

func TestCreatePlan_CreateThenOverwrite(t *testing.T) {
	e, events, _, root := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r1, err := e.CreatePlan(ctx, "demo", "# Plan v1\n", "")
	require.NoError(t, err)
	assert.Equal(t, "created", r1.Status)
	assert.Equal(t, "execution-plan.md", r1.Filename)

	r2, err := e.CreatePlan(ctx, "demo", "# Plan v2\n", "execution-plan")
	require.NoError(t, err)
	assert.Equal(t, "updated", r2.Status)

	content, err := os.ReadFile(filepath.Join(root, "demo", "plans", "execution-plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Plan v2\n", string(content))

	var types []string
	for _, ev := range events.all() {
		if strings.HasPrefix(ev.eventType, "plan.") {
			types = append(types, ev.eventType)
		}
	}
	assert.Equal(t, []string{"plan.created", "plan.updated"}, types)
}

func TestReindex_EmitsGlobalEvent(t *testing.T) {
	e, events, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo")
	require.NoError(t, err)

	r, err := e.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reindexed", r.Status)
	assert.Equal(t, 1, r.DocumentCount)

	fired := events.all()
	last := fired[len(fired)-1]
	assert.Equal(t, "index.reindexed", last.eventType)
	assert.Equal(t, "", last.project)
}

func TestReadOnlyMode_DeniesWrites(t *testing.T) {
	root := t.TempDir()
	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ix, err := index.New(root, st, logger)
	require.NoError(t, err)

	e := New(root, auth.New("", true, logger), ix, nil, logger)
	ctx := context.Background()

	_, err = e.InitProject(ctx, "demo")
	assert.Equal(t, errors.KindAuthDenied, errors.KindOf(err))
	_, err = e.CreateTask(ctx, "demo", "t", "o", nil, "")
	assert.Equal(t, errors.KindAuthDenied, errors.KindOf(err))
	_, err = e.Reindex(ctx)
	assert.Equal(t, errors.KindAuthDenied, errors.KindOf(err))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "build-the-parser", slugify("Build the Parser!"))
	assert.Equal(t, "fix-bug-42", slugify("  Fix   Bug #42 "))
	assert.Equal(t, "a-b", slugify("a---b"))
}
