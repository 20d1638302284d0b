// Package write implements the file-creating operations of the server.
// Every operation validates paths, touches the filesystem, reindexes
// the written file, and hands an event to the webhook engine.
package write

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vibemcp/vibemcp/internal/auth"
	"github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/index"
)

// StandardFolders is the directory skeleton of a new project.
var StandardFolders = []string{
	"tasks", "plans", "sessions", "reports",
	"changelog", "references", "scratch", "assets",
}

// ValidStatuses are the accepted task statuses.
var ValidStatuses = map[string]struct{}{
	"pending": {}, "in-progress": {}, "done": {}, "blocked": {},
}

var (
	taskNumberPattern = regexp.MustCompile(`^(\d{3})-.*\.md$`)
	unsafeCharPattern = regexp.MustCompile(`[^\w\s-]`)
	dashRunPattern    = regexp.MustCompile(`[-\s]+`)
	statusLinePattern = regexp.MustCompile(`(?m)^Status:.*$`)
)

// EventSink receives events from completed writes. Delivery failures
// must never surface to the writer.
type EventSink interface {
	FireEvent(eventType, project string, data map[string]any)
}

// Engine performs all mutating workspace operations. taskMu serializes
// task-number assignment so concurrent creates never collide.
type Engine struct {
	root    string
	gate    *auth.Gate
	indexer *index.Indexer
	events  EventSink
	logger  *slog.Logger
	taskMu  sync.Mutex
}

// New creates a write engine over the workspace root. events may be nil
// when webhooks are disabled.
func New(root string, gate *auth.Gate, ix *index.Indexer, events EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		root:    root,
		gate:    gate,
		indexer: ix,
		events:  events,
		logger:  logger,
	}
}

// InitResult reports a project initialization.
type InitResult struct {
	Status       string   `json:"status"`
	Project      string   `json:"project"`
	Path         string   `json:"path"`
	AbsolutePath string   `json:"absolute_path"`
	Folders      []string `json:"folders"`
}

// InitProject creates a project directory with the standard folder
// skeleton and a seeded status.md.
func (e *Engine) InitProject(ctx context.Context, project string) (*InitResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(projectPath); err == nil {
		return nil, errors.Conflict("project already exists: " + project)
	}

	for _, folder := range StandardFolders {
		if err := os.MkdirAll(filepath.Join(projectPath, folder), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindIOTransient, "cannot create project folders", err)
		}
	}

	statusPath := filepath.Join(projectPath, "status.md")
	content := fmt.Sprintf("# %s\n\nStatus: setup\n", project)
	if err := os.WriteFile(statusPath, []byte(content), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write status.md", err)
	}

	e.reindexFile(ctx, statusPath)
	e.logger.Info("initialized project", slog.String("project", project))

	result := &InitResult{
		Status:       "initialized",
		Project:      project,
		Path:         project,
		AbsolutePath: projectPath,
		Folders:      StandardFolders,
	}
	e.fire("project.initialized", project, map[string]any{
		"project": project,
		"path":    result.Path,
		"folders": StandardFolders,
	})
	return result, nil
}

// TaskResult reports a created task.
type TaskResult struct {
	Status       string `json:"status"`
	TaskNumber   int    `json:"task_number"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path"`
	Feature      string `json:"feature,omitempty"`
}

// CreateTask creates a numbered task file in <project>/tasks/.
func (e *Engine) CreateTask(ctx context.Context, project, title, objective string, steps []string, feature string) (*TaskResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}

	e.taskMu.Lock()
	defer e.taskMu.Unlock()

	taskNum := nextTaskNumber(projectPath)
	filename := fmt.Sprintf("%03d-%s.md", taskNum, slugify(title))

	var b strings.Builder
	if feature != "" {
		b.WriteString("---\n")
		b.WriteString("type: task\n")
		b.WriteString("status: pending\n")
		b.WriteString("feature: " + feature + "\n")
		b.WriteString("---\n\n")
	}
	b.WriteString("# Task: " + title + "\n\n")
	if feature == "" {
		// The frontmatter already carries the status.
		b.WriteString("Status: pending\n\n")
	}
	b.WriteString("## Objective\n" + objective + "\n")
	if len(steps) > 0 {
		b.WriteString("\n## Steps\n")
		for i, step := range steps {
			b.WriteString(strconv.Itoa(i+1) + ". [ ] " + step + "\n")
		}
	}

	tasksDir := filepath.Join(projectPath, "tasks")
	if err := os.MkdirAll(tasksDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot create tasks directory", err)
	}

	filePath := filepath.Join(tasksDir, filename)
	if err := e.ensureInsideRoot(filePath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err == nil {
		return nil, errors.Conflict("task file already exists: " + filename)
	}
	if err := os.WriteFile(filePath, []byte(b.String()), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write task file", err)
	}

	relPath := e.relPath(filePath)
	e.reindexFile(ctx, filePath)
	e.logger.Info("created task", slog.String("path", relPath))

	result := &TaskResult{
		Status:       "created",
		TaskNumber:   taskNum,
		Filename:     filename,
		Path:         relPath,
		AbsolutePath: filePath,
		Feature:      feature,
	}
	data := map[string]any{
		"task_number": taskNum,
		"title":       title,
		"filename":    filename,
		"path":        relPath,
		"status":      "pending",
	}
	if feature != "" {
		data["feature"] = feature
	}
	e.fire("task.created", project, data)
	return result, nil
}

// SessionResult reports a session log write.
type SessionResult struct {
	Status       string `json:"status"`
	Date         string `json:"date"`
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path"`
}

// LogSession creates or appends to today's session log.
func (e *Engine) LogSession(ctx context.Context, project, content string) (*SessionResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}

	sessionsDir := filepath.Join(projectPath, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot create sessions directory", err)
	}

	now := time.Now()
	today := now.Format("2006-01-02")
	filePath := filepath.Join(sessionsDir, today+".md")
	if err := e.ensureInsideRoot(filePath); err != nil {
		return nil, err
	}

	var action, fileContent string
	if existing, err := os.ReadFile(filePath); err == nil {
		action = "appended"
		timestamp := now.Format("15:04:05")
		fileContent = string(existing) + "\n\n---\n**" + timestamp + "**\n\n" + content + "\n"
	} else {
		action = "created"
		fileContent = "# Session Log - " + today + "\n\n" + content + "\n"
	}

	if err := os.WriteFile(filePath, []byte(fileContent), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write session log", err)
	}

	relPath := e.relPath(filePath)
	e.reindexFile(ctx, filePath)
	e.logger.Info("session log "+action, slog.String("path", relPath))

	result := &SessionResult{
		Status:       action,
		Date:         today,
		Path:         relPath,
		AbsolutePath: filePath,
	}
	e.fire("session.logged", project, map[string]any{
		"date":   today,
		"path":   relPath,
		"action": action,
	})
	return result, nil
}

// StatusResult reports a task status update.
type StatusResult struct {
	Status       string `json:"status"`
	NewStatus    string `json:"new_status"`
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path"`
}

// UpdateTaskStatus rewrites the first Status line of a task file, or
// inserts one after the title when no Status line exists.
func (e *Engine) UpdateTaskStatus(ctx context.Context, project, taskFile, newStatus string) (*StatusResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}
	if _, ok := ValidStatuses[newStatus]; !ok {
		return nil, errors.InputInvalid("invalid status: " + newStatus +
			". Must be one of: pending, in-progress, done, blocked")
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}
	if strings.Contains(taskFile, "..") || strings.ContainsAny(taskFile, "/\\") {
		return nil, errors.InputInvalid("invalid task filename: " + taskFile)
	}

	filePath := filepath.Join(projectPath, "tasks", taskFile)
	if err := e.ensureInsideRoot(filePath); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("task file not found: " + taskFile)
		}
		return nil, errors.Wrap(errors.KindIOTransient, "cannot read task file", err)
	}

	text := string(content)
	replaced := false
	updated := statusLinePattern.ReplaceAllStringFunc(text, func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		return "Status: " + newStatus
	})

	if !replaced {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			if strings.HasPrefix(line, "#") {
				rest := append([]string{"", "Status: " + newStatus}, lines[i+1:]...)
				lines = append(lines[:i+1:i+1], rest...)
				updated = strings.Join(lines, "\n")
				break
			}
		}
	}

	if err := os.WriteFile(filePath, []byte(updated), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write task file", err)
	}

	relPath := e.relPath(filePath)
	e.reindexFile(ctx, filePath)
	e.logger.Info("updated task status",
		slog.String("path", relPath),
		slog.String("status", newStatus))

	result := &StatusResult{
		Status:       "updated",
		NewStatus:    newStatus,
		Path:         relPath,
		AbsolutePath: filePath,
	}
	e.fire("task.updated", project, map[string]any{
		"filename":   taskFile,
		"path":       relPath,
		"new_status": newStatus,
	})
	return result, nil
}

// DocResult reports a created document.
type DocResult struct {
	Status       string `json:"status"`
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path"`
}

// CreateDoc creates a new document in a project folder. Fails if the
// target already exists.
func (e *Engine) CreateDoc(ctx context.Context, project, folder, filename, content string) (*DocResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}
	filePath, err := e.validateFilePath(projectPath, folder, filename)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); err == nil {
		return nil, errors.Conflict("file already exists: " + e.relPath(filePath))
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot create folder", err)
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write document", err)
	}

	relPath := e.relPath(filePath)
	e.reindexFile(ctx, filePath)
	e.logger.Info("created document", slog.String("path", relPath))

	result := &DocResult{
		Status:       "created",
		Path:         relPath,
		AbsolutePath: filePath,
	}
	e.fire("doc.created", project, map[string]any{
		"folder":   folder,
		"filename": filepath.Base(filePath),
		"path":     relPath,
	})
	return result, nil
}

// PlanResult reports a plan write.
type PlanResult struct {
	Status       string `json:"status"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	AbsolutePath string `json:"absolute_path"`
}

// CreatePlan creates or overwrites a plan file in <project>/plans/.
func (e *Engine) CreatePlan(ctx context.Context, project, content, filename string) (*PlanResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	projectPath, err := e.validateProjectPath(project)
	if err != nil {
		return nil, err
	}

	if filename == "" {
		filename = "execution-plan.md"
	}
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return nil, errors.InputInvalid("invalid filename: cannot contain path separators")
	}

	plansDir := filepath.Join(projectPath, "plans")
	if err := os.MkdirAll(plansDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot create plans directory", err)
	}

	filePath := filepath.Join(plansDir, filename)
	if err := e.ensureInsideRoot(filePath); err != nil {
		return nil, err
	}
	action := "created"
	if _, err := os.Stat(filePath); err == nil {
		action = "updated"
	}

	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return nil, errors.Wrap(errors.KindIOTransient, "cannot write plan", err)
	}

	relPath := e.relPath(filePath)
	e.reindexFile(ctx, filePath)
	e.logger.Info(action+" plan", slog.String("path", relPath))

	result := &PlanResult{
		Status:       action,
		Filename:     filename,
		Path:         relPath,
		AbsolutePath: filePath,
	}
	eventType := "plan.created"
	if action == "updated" {
		eventType = "plan.updated"
	}
	e.fire(eventType, project, map[string]any{
		"filename": filename,
		"path":     relPath,
	})
	return result, nil
}

// ReindexResult reports a full reindex.
type ReindexResult struct {
	Status        string `json:"status"`
	DocumentCount int    `json:"document_count"`
}

// Reindex rebuilds the whole index.
func (e *Engine) Reindex(ctx context.Context) (*ReindexResult, error) {
	if err := e.gate.CheckWrite(); err != nil {
		return nil, err
	}

	count, err := e.indexer.Reindex(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Info("full reindex complete", slog.Int("documents", count))

	// Global event: no project scope.
	e.fire("index.reindexed", "", map[string]any{
		"document_count": count,
	})
	return &ReindexResult{Status: "reindexed", DocumentCount: count}, nil
}

// validateProjectPath rejects traversal in a project name and resolves
// it under the workspace root.
func (e *Engine) validateProjectPath(project string) (string, error) {
	if project == "" || strings.Contains(project, "..") ||
		strings.ContainsAny(project, "/\\") {
		return "", errors.InputInvalid("invalid project name: " + project)
	}

	root, err := filepath.Abs(e.root)
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "cannot resolve workspace root", err)
	}

	projectPath := filepath.Join(root, project)
	if !strings.HasPrefix(projectPath, root+string(filepath.Separator)) {
		return "", errors.InputInvalid("project path outside workspace root: " + project)
	}
	if err := e.ensureInsideRoot(projectPath); err != nil {
		return "", err
	}
	return projectPath, nil
}

// validateFilePath rejects traversal in folder and filename and
// resolves the target under the project, appending .md if missing.
func (e *Engine) validateFilePath(projectPath, folder, filename string) (string, error) {
	if strings.Contains(folder, "..") || strings.Contains(filename, "..") {
		return "", errors.InputInvalid("path traversal not allowed")
	}
	if strings.ContainsAny(filename, "/\\") {
		return "", errors.InputInvalid("filename cannot contain path separators")
	}
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}

	var filePath string
	if folder != "" {
		filePath = filepath.Join(projectPath, folder, filename)
	} else {
		filePath = filepath.Join(projectPath, filename)
	}
	if !strings.HasPrefix(filepath.Clean(filePath), projectPath+string(filepath.Separator)) {
		return "", errors.InputInvalid("file path outside project")
	}
	if err := e.ensureInsideRoot(filePath); err != nil {
		return "", err
	}
	return filePath, nil
}

// resolveSymlinks resolves symlinks along the longest existing prefix
// of path. Components that do not exist yet are rejoined unresolved,
// matching where the filesystem will place them once created.
func resolveSymlinks(path string) (string, error) {
	existing := path
	var pending []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			for i := len(pending) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, pending[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return path, nil
		}
		pending = append(pending, filepath.Base(existing))
		existing = parent
	}
}

// ensureInsideRoot rejects a path whose symlink-resolved location falls
// outside the resolved workspace root. A project or folder that is a
// symlink pointing elsewhere must never receive writes.
func (e *Engine) ensureInsideRoot(path string) error {
	root, err := filepath.Abs(e.root)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "cannot resolve workspace root", err)
	}
	resolvedRoot, err := resolveSymlinks(root)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "cannot resolve workspace root", err)
	}
	resolved, err := resolveSymlinks(path)
	if err != nil {
		return errors.Wrap(errors.KindIOTransient, "cannot resolve path", err)
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return errors.InputInvalid("path escapes workspace root")
	}
	return nil
}

// nextTaskNumber scans tasks/ for NNN-*.md prefixes and returns max+1,
// or 1 when none exist.
func nextTaskNumber(projectPath string) int {
	entries, err := os.ReadDir(filepath.Join(projectPath, "tasks"))
	if err != nil {
		return 1
	}

	maxNum := 0
	for _, entry := range entries {
		m := taskNumberPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxNum {
			maxNum = n
		}
	}
	return maxNum + 1
}

// slugify derives a filename-safe slug from a task title.
func slugify(title string) string {
	s := unsafeCharPattern.ReplaceAllString(strings.ToLower(title), "")
	s = dashRunPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// reindexFile indexes the written path. An indexing error is logged but
// never fails the write: the next sync pass will repair the index.
func (e *Engine) reindexFile(ctx context.Context, path string) {
	if err := e.indexer.IndexPath(ctx, path); err != nil {
		e.logger.Warn("cannot reindex written file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// fire hands an event to the webhook engine. Never propagates failures.
func (e *Engine) fire(eventType, project string, data map[string]any) {
	if e.events == nil {
		return
	}
	e.events.FireEvent(eventType, project, data)
}

// relPath converts an absolute path to a workspace-relative one with
// forward slashes.
func (e *Engine) relPath(path string) string {
	root, err := filepath.Abs(e.root)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
