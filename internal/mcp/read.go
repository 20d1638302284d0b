package mcp

import (
	"context"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vibemcp/vibemcp/internal/parser"
)

const defaultSearchLimit = 20

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"the search query (FTS5 syntax supported)"`
	Project string `json:"project,omitempty" jsonschema:"optional project name to filter results"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
}

// SearchHit is a single ranked search result.
type SearchHit struct {
	ProjectName  string  `json:"project_name" jsonschema:"name of the project"`
	DocumentPath string  `json:"document_path" jsonschema:"workspace-relative path to the document"`
	Folder       string  `json:"folder" jsonschema:"folder containing the document"`
	Heading      string  `json:"heading,omitempty" jsonschema:"section heading where the match was found"`
	Snippet      string  `json:"snippet" jsonschema:"contextual snippet with matches delimited by >>> and <<<"`
	Score        float64 `json:"score" jsonschema:"relevance score, higher is better"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchHit `json:"results" jsonschema:"ranked search results, best first"`
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.indexer.Search(ctx, input.Query, input.Project, limit)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			ProjectName:  r.ProjectName,
			DocumentPath: r.DocumentPath,
			Folder:       r.Folder,
			Heading:      r.Heading,
			Snippet:      r.Snippet,
			Score:        math.Round(r.FinalScore*100) / 100,
		})
	}
	return nil, SearchOutput{Results: hits}, nil
}

// ReadDocInput defines the input schema for the read_doc tool.
type ReadDocInput struct {
	Project  string `json:"project" jsonschema:"name of the project"`
	Folder   string `json:"folder" jsonschema:"folder containing the document (tasks, plans, sessions, etc.)"`
	Filename string `json:"filename" jsonschema:"name of the file, e.g. 001-setup.md"`
}

// DocMetadata is the parsed frontmatter of a document as exposed to
// clients.
type DocMetadata struct {
	Type    string   `json:"type,omitempty"`
	Status  string   `json:"status,omitempty"`
	Updated string   `json:"updated,omitempty"`
	Tags    []string `json:"tags"`
	Owner   string   `json:"owner,omitempty"`
}

// ReadDocOutput defines the output schema for the read_doc tool.
// Missing or unreadable documents come back as a record with Exists
// false and an error message, never a protocol error.
type ReadDocOutput struct {
	Project  string       `json:"project"`
	Folder   string       `json:"folder"`
	Filename string       `json:"filename"`
	Path     string       `json:"path"`
	Metadata *DocMetadata `json:"metadata"`
	Content  string       `json:"content,omitempty"`
	Exists   bool         `json:"exists"`
	Error    string       `json:"error,omitempty"`
}

func (s *Server) mcpReadDocHandler(_ context.Context, _ *mcp.CallToolRequest, input ReadDocInput) (
	*mcp.CallToolResult,
	ReadDocOutput,
	error,
) {
	if input.Project == "" || input.Filename == "" {
		return nil, ReadDocOutput{}, NewInvalidParamsError("project and filename parameters are required")
	}

	relPath := path.Join(input.Project, input.Folder, input.Filename)
	out := ReadDocOutput{
		Project:  input.Project,
		Folder:   input.Folder,
		Filename: input.Filename,
		Path:     relPath,
	}

	fullPath, ok := s.resolveWorkspacePath(input.Project, input.Folder, input.Filename)
	if !ok {
		out.Error = "path is outside the workspace root"
		return nil, out, nil
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		out.Error = "document not found"
		return nil, out, nil
	}
	if info.IsDir() {
		out.Error = "path is not a file"
		return nil, out, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		out.Exists = true
		out.Error = "error reading file: " + err.Error()
		return nil, out, nil
	}

	meta, _ := parser.Parse(string(content), relPath)
	updated := meta.Updated
	if updated == "" {
		updated = info.ModTime().Format("2006-01-02")
	}
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}

	out.Metadata = &DocMetadata{
		Type:    meta.Type,
		Status:  meta.Status,
		Updated: updated,
		Tags:    tags,
		Owner:   meta.Owner,
	}
	out.Content = string(content)
	out.Exists = true
	return nil, out, nil
}

// ListTasksInput defines the input schema for the list_tasks tool.
type ListTasksInput struct {
	Project string `json:"project,omitempty" jsonschema:"optional project name to filter tasks"`
	Status  string `json:"status,omitempty" jsonschema:"optional status filter: pending, in-progress, done, blocked"`
}

// TaskItem is one task in a listing.
type TaskItem struct {
	ProjectName string `json:"project_name"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Status      string `json:"status,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// ListTasksOutput defines the output schema for the list_tasks tool.
type ListTasksOutput struct {
	Tasks []TaskItem `json:"tasks" jsonschema:"tasks ordered by path"`
}

func (s *Server) mcpListTasksHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListTasksInput) (
	*mcp.CallToolResult,
	ListTasksOutput,
	error,
) {
	rows, err := s.indexer.ListTasks(ctx, input.Project, input.Status)
	if err != nil {
		return nil, ListTasksOutput{}, MapError(err)
	}

	tasks := make([]TaskItem, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, TaskItem{
			ProjectName: row.ProjectName,
			Path:        row.Path,
			Filename:    row.Filename,
			Status:      row.Status,
			Owner:       row.Owner,
			Updated:     row.Updated,
		})
	}
	return nil, ListTasksOutput{Tasks: tasks}, nil
}

// GetPlanInput defines the input schema for the get_plan tool.
type GetPlanInput struct {
	Project  string `json:"project" jsonschema:"name of the project"`
	Filename string `json:"filename,omitempty" jsonschema:"plan filename, default execution-plan.md"`
}

// PlanMetadata is plan frontmatter as exposed to clients.
type PlanMetadata struct {
	Type    string `json:"type"`
	Updated string `json:"updated"`
}

// GetPlanOutput defines the output schema for the get_plan tool.
type GetPlanOutput struct {
	Project  string        `json:"project"`
	Filename string        `json:"filename"`
	Path     string        `json:"path"`
	Exists   bool          `json:"exists"`
	Metadata *PlanMetadata `json:"metadata"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (s *Server) mcpGetPlanHandler(_ context.Context, _ *mcp.CallToolRequest, input GetPlanInput) (
	*mcp.CallToolResult,
	GetPlanOutput,
	error,
) {
	if input.Project == "" {
		return nil, GetPlanOutput{}, NewInvalidParamsError("project parameter is required")
	}
	filename := input.Filename
	if filename == "" {
		filename = "execution-plan.md"
	}

	relPath := path.Join(input.Project, "plans", filename)
	out := GetPlanOutput{
		Project:  input.Project,
		Filename: filename,
		Path:     relPath,
	}

	fullPath, ok := s.resolveWorkspacePath(input.Project, "plans", filename)
	if !ok {
		out.Error = "path is outside the workspace root"
		return nil, out, nil
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return nil, out, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		out.Error = "error reading plan: " + err.Error()
		return nil, out, nil
	}

	meta, _ := parser.Parse(string(content), relPath)
	planType := meta.Type
	if planType == "" {
		planType = "plan"
	}
	updated := meta.Updated
	if updated == "" {
		updated = info.ModTime().Format("2006-01-02")
	}

	out.Exists = true
	out.Metadata = &PlanMetadata{Type: planType, Updated: updated}
	out.Content = string(content)
	return nil, out, nil
}

// resolveWorkspacePath joins path components under the workspace root
// and reports whether the result stays inside it.
func (s *Server) resolveWorkspacePath(parts ...string) (string, bool) {
	root, err := filepath.Abs(s.indexer.Root())
	if err != nil {
		return "", false
	}
	full, err := filepath.Abs(filepath.Join(append([]string{root}, parts...)...))
	if err != nil {
		return "", false
	}
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
