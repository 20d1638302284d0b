package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	viberrors "github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/write"
)

// openTaskScanBytes bounds how much of a task file is read when
// classifying its status. A status line sits at the top of the file.
const openTaskScanBytes = 1000

// registerResources exposes the workspace structure as read-only
// vibe:// URIs: a projects overview, per-project detail, and raw file
// access.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "projects",
			URI:         "vibe://projects",
			Description: "All projects with open-task counts, last session dates, and per-folder file counts",
			MIMEType:    "text/markdown",
		},
		s.makeProjectsHandler(),
	)

	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "project_detail",
			URITemplate: "vibe://projects/{name}",
			Description: "Folder structure and task status breakdown for one project",
			MIMEType:    "text/markdown",
		},
		s.makeProjectResourceHandler(),
	)

	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "project_file",
			URITemplate: "vibe://projects/{name}/{folder}/{file}",
			Description: "A single file from a project folder with a metadata header",
			MIMEType:    "text/markdown",
		},
		s.makeProjectResourceHandler(),
	)

	s.logger.Info("MCP resources registered", slog.Int("count", 3))
}

func (s *Server) makeProjectsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text, err := s.projectsOverview(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return markdownResource("vibe://projects", text), nil
	}
}

// makeProjectResourceHandler serves both templated URIs. The segment
// count after vibe://projects/ decides between project detail and file
// access.
func (s *Server) makeProjectResourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		rest, ok := strings.CutPrefix(req.Params.URI, "vibe://projects/")
		if !ok || rest == "" {
			return nil, NewInvalidParamsError("unsupported resource URI: " + req.Params.URI)
		}

		var text string
		var err error
		switch parts := strings.Split(rest, "/"); len(parts) {
		case 1:
			text, err = s.projectDetail(ctx, parts[0])
		case 3:
			text, err = s.projectFile(ctx, parts[0], parts[1], parts[2])
		default:
			return nil, NewInvalidParamsError("unsupported resource URI: " + req.Params.URI)
		}
		if err != nil {
			return nil, MapError(err)
		}
		return markdownResource(req.Params.URI, text), nil
	}
}

func markdownResource(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "text/markdown", Text: text},
		},
	}
}

// projectsOverview renders the vibe://projects listing.
func (s *Server) projectsOverview(ctx context.Context) (string, error) {
	projects, err := s.indexer.ListProjects(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Vibe Projects\n")
	b.WriteString("Total projects: " + strconv.Itoa(len(projects)) + "\n")
	b.WriteString("\n")

	for _, project := range projects {
		projectPath := project.Path

		b.WriteString("## " + project.Name + "\n")
		b.WriteString("- Path: `" + projectPath + "`\n")
		updated := project.UpdatedAt
		if updated == "" {
			updated = "unknown"
		}
		b.WriteString("- Last updated: " + updated + "\n")
		b.WriteString("- Open tasks: " + strconv.Itoa(countOpenTasks(projectPath)) + "\n")
		if last := lastSessionDate(projectPath); last != "" {
			b.WriteString("- Last session: " + last + "\n")
		}
		b.WriteString(fmt.Sprintf("- Files: tasks=%d, plans=%d, sessions=%d, reports=%d\n",
			countFolderFiles(projectPath, "tasks"),
			countFolderFiles(projectPath, "plans"),
			countFolderFiles(projectPath, "sessions"),
			countFolderFiles(projectPath, "reports")))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// projectDetail renders vibe://projects/{name}.
func (s *Server) projectDetail(ctx context.Context, name string) (string, error) {
	project, err := s.indexer.GetProject(ctx, name)
	if err != nil {
		return "", err
	}
	projectPath := project.Path

	var b strings.Builder
	b.WriteString("# Project: " + project.Name + "\n\n")
	b.WriteString("**Path:** `" + projectPath + "`\n")
	b.WriteString("**Created:** " + orUnknown(project.CreatedAt) + "\n")
	b.WriteString("**Updated:** " + orUnknown(project.UpdatedAt) + "\n\n")

	b.WriteString("## Available Folders\n\n")
	for _, folder := range write.StandardFolders {
		folderPath := filepath.Join(projectPath, folder)
		info, err := os.Stat(folderPath)
		if err != nil || !info.IsDir() {
			continue
		}
		count := countFolderFiles(projectPath, folder)
		word := "files"
		if count == 1 {
			word = "file"
		}
		b.WriteString(fmt.Sprintf("- `%s/` (%d %s)\n", folder, count, word))
	}

	b.WriteString("\n## Task Status\n\n")
	tasksPath := filepath.Join(projectPath, "tasks")
	if info, err := os.Stat(tasksPath); err == nil && info.IsDir() {
		counts := taskStatusCounts(tasksPath)
		for _, status := range []string{"pending", "in-progress", "blocked", "done", "unknown"} {
			if counts[status] > 0 {
				b.WriteString(fmt.Sprintf("- %s: %d\n", status, counts[status]))
			}
		}
	} else {
		b.WriteString("No tasks folder found.\n")
	}
	return b.String(), nil
}

// projectFile renders vibe://projects/{name}/{folder}/{file}: the raw
// content prefixed with a metadata header.
func (s *Server) projectFile(ctx context.Context, name, folder, file string) (string, error) {
	if _, err := s.indexer.GetProject(ctx, name); err != nil {
		return "", err
	}

	fullPath, ok := s.resolveWorkspacePath(name, folder, file)
	if !ok {
		return "", viberrors.InputInvalid("path is outside the workspace root")
	}
	projectPath, err := filepath.Abs(filepath.Join(s.indexer.Root(), name))
	if err != nil || !strings.HasPrefix(fullPath, projectPath+string(filepath.Separator)) {
		return "", viberrors.InputInvalid("path is outside the project")
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", viberrors.NotFound("file not found: " + folder + "/" + file)
	}
	if info.IsDir() {
		return "", viberrors.InputInvalid("path is not a file: " + folder + "/" + file)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", viberrors.Wrap(viberrors.KindIOTransient, "cannot read file", err)
	}

	var b strings.Builder
	b.WriteString("# " + file + "\n\n")
	b.WriteString("**Project:** " + name + "\n")
	b.WriteString("**Folder:** " + folder + "\n")
	b.WriteString("**Path:** `" + name + "/" + folder + "/" + file + "`\n\n")
	b.WriteString("---\n\n")
	b.Write(content)
	return b.String(), nil
}

// countOpenTasks counts task files whose leading content does not mark
// them done. A status heuristic, not a full parse: the indexer owns the
// authoritative status.
func countOpenTasks(projectPath string) int {
	entries, err := os.ReadDir(filepath.Join(projectPath, "tasks"))
	if err != nil {
		return 0
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		head, err := readHead(filepath.Join(projectPath, "tasks", entry.Name()), openTaskScanBytes)
		if err != nil {
			continue
		}
		lower := strings.ToLower(head)
		if !strings.Contains(lower, "status: done") && !strings.Contains(lower, "status:done") {
			count++
		}
	}
	return count
}

// taskStatusCounts classifies each task file by the first status line
// found in its leading content.
func taskStatusCounts(tasksPath string) map[string]int {
	counts := map[string]int{}
	entries, err := os.ReadDir(tasksPath)
	if err != nil {
		return counts
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		head, err := readHead(filepath.Join(tasksPath, entry.Name()), openTaskScanBytes)
		if err != nil {
			counts["unknown"]++
			continue
		}
		lower := strings.ToLower(head)
		switch {
		case strings.Contains(lower, "status: done") || strings.Contains(lower, "status:done"):
			counts["done"]++
		case strings.Contains(lower, "status: in-progress") || strings.Contains(lower, "status:in-progress"):
			counts["in-progress"]++
		case strings.Contains(lower, "status: blocked") || strings.Contains(lower, "status:blocked"):
			counts["blocked"]++
		case strings.Contains(lower, "status: pending") || strings.Contains(lower, "status:pending"):
			counts["pending"]++
		default:
			counts["unknown"]++
		}
	}
	return counts
}

// lastSessionDate returns the mtime of the most recent session log in
// ISO-8601 form, or "" when the project has none.
func lastSessionDate(projectPath string) string {
	entries, err := os.ReadDir(filepath.Join(projectPath, "sessions"))
	if err != nil {
		return ""
	}

	var latest time.Time
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !found || info.ModTime().After(latest) {
			latest = info.ModTime()
			found = true
		}
	}
	if !found {
		return ""
	}
	return latest.Format("2006-01-02T15:04:05")
}

// countFolderFiles counts markdown files directly inside a project
// folder.
func countFolderFiles(projectPath, folder string) int {
	entries, err := os.ReadDir(filepath.Join(projectPath, folder))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			count++
		}
	}
	return count
}

// readHead reads at most n bytes from the start of a file.
func readHead(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return "", err
	}
	return string(buf[:read]), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
