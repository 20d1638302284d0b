package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalk_Layout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "p1", "status.md"), "# p1")
	writeFile(t, filepath.Join(root, "p1", "tasks", "001-a.md"), "# a")
	writeFile(t, filepath.Join(root, "p1", ".hidden", "x.md"), "hidden")
	writeFile(t, filepath.Join(root, "p2", "plans", "p.md"), "# plan")
	writeFile(t, filepath.Join(root, ".dotproj", "x.md"), "hidden project")
	writeFile(t, filepath.Join(root, "p1", "notes.txt"), "not markdown")

	files := Collect(context.Background(), root)
	require.Len(t, files, 3)

	byPath := map[string]FileInfo{}
	for _, f := range files {
		byPath[f.RelPath] = f
	}

	status, ok := byPath["p1/status.md"]
	require.True(t, ok)
	assert.Equal(t, "p1", status.Project)
	assert.Equal(t, "", status.Folder)
	assert.Equal(t, "status.md", status.Filename)

	task, ok := byPath["p1/tasks/001-a.md"]
	require.True(t, ok)
	assert.Equal(t, "tasks", task.Folder)

	plan, ok := byPath["p2/plans/p.md"]
	require.True(t, ok)
	assert.Equal(t, "p2", plan.Project)
	assert.Equal(t, "plans", plan.Folder)
}

func TestWalk_ProjectOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "beta", "status.md"), "b")
	writeFile(t, filepath.Join(root, "alpha", "status.md"), "a")

	files := Collect(context.Background(), root)
	require.Len(t, files, 2)
	assert.Equal(t, "alpha", files[0].Project)
	assert.Equal(t, "beta", files[1].Project)
}

func TestWalk_MissingRoot(t *testing.T) {
	files := Collect(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, files)
}

func TestWalk_HashAndMtime(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "p", "status.md")
	writeFile(t, path, "hello")

	files := Collect(context.Background(), root)
	require.Len(t, files, 1)

	assert.Equal(t, ComputeHash([]byte("hello")), files[0].ContentHash)
	assert.Len(t, files[0].ContentHash, 64)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.InDelta(t, float64(info.ModTime().UnixNano())/1e9, files[0].Mtime, 0.001)
}

func TestWalk_SkipsDotFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "p", ".draft.md"), "dot file")
	writeFile(t, filepath.Join(root, "p", "real.md"), "real")

	files := Collect(context.Background(), root)
	require.Len(t, files, 1)
	assert.Equal(t, "p/real.md", files[0].RelPath)
}

func TestWalk_Cancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "p", "tasks", string(rune('a'+i))+".md"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := Walk(ctx, root)
	<-ch
	cancel()

	// The stream must terminate after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("walker did not stop after cancellation")
		}
	}
}
