package mcp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vibemcp/vibemcp/internal/store"
)

// registerPrompts registers the context-assembly prompts. Both combine
// status, tasks, and session logs into one document an agent can read
// before touching a project.
func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        "project_briefing",
			Description: "Concise briefing of a project's current state: status, active tasks, recent sessions.",
			Arguments: []*mcp.PromptArgument{
				{Name: "project", Description: "Name of the project to brief", Required: true},
			},
		},
		s.makePromptHandler("Project Briefing", s.projectBriefing),
	)

	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        "session_start",
			Description: "Complete working context for a project: status, execution plan, tasks by status, latest session.",
			Arguments: []*mcp.PromptArgument{
				{Name: "project", Description: "Name of the project to start a session for", Required: true},
			},
		},
		s.makePromptHandler("Session Start", s.sessionStart),
	)

	s.logger.Info("MCP prompts registered", slog.Int("count", 2))
}

// makePromptHandler wraps a text builder into a prompt handler. A
// missing project comes back as an explanatory message, never a
// protocol error.
func (s *Server) makePromptHandler(title string, build func(ctx context.Context, project string) (string, error)) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		project := req.Params.Arguments["project"]
		if project == "" {
			return nil, NewInvalidParamsError("project argument is required")
		}

		if _, err := s.indexer.GetProject(ctx, project); err != nil {
			text := "# " + title + ": " + project + "\n\n" +
				"Project '" + project + "' not found in index.\n\n" +
				"The project may not exist or hasn't been indexed yet."
			return promptResult(title+" for "+project, text), nil
		}

		text, err := build(ctx, project)
		if err != nil {
			return nil, MapError(err)
		}
		return promptResult(title+" for "+project, text), nil
	}
}

func promptResult(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text}},
		},
	}
}

// projectBriefing assembles the short-form project summary.
func (s *Server) projectBriefing(ctx context.Context, project string) (string, error) {
	projectPath := filepath.Join(s.indexer.Root(), project)

	var b strings.Builder
	b.WriteString("# Project Briefing: " + project + "\n")
	b.WriteString(statusSection(projectPath))

	tasks, err := s.indexer.ListDocuments(ctx, project, "tasks")
	if err != nil {
		return "", err
	}

	b.WriteString("## Active Tasks\n\n")
	active := false
	for _, status := range []string{"in-progress", "blocked", "pending"} {
		for _, task := range filterByStatus(tasks, status) {
			active = true
			objective := taskObjective(filepath.Join(s.indexer.Root(), task.Path))
			b.WriteString("- **[" + status + "]** " + task.Filename + ": " + objective + "\n")
		}
	}
	if active {
		b.WriteString("\n")
	} else {
		b.WriteString("_No active tasks_\n\n")
	}

	sessions, err := s.indexer.ListDocuments(ctx, project, "sessions")
	if err != nil {
		return "", err
	}
	recent := sortSessionsDesc(sessions)
	if len(recent) > 3 {
		recent = recent[:3]
	}

	b.WriteString("## Recent Sessions\n\n")
	if len(recent) == 0 {
		b.WriteString("_No recent sessions_\n\n")
		return b.String(), nil
	}
	for _, session := range recent {
		date := strings.TrimSuffix(session.Filename, ".md")
		b.WriteString("### " + date + "\n\n")

		content, err := os.ReadFile(filepath.Join(s.indexer.Root(), session.Path))
		if err != nil {
			b.WriteString("_" + session.Filename + ": could not read_\n\n")
			continue
		}
		text := string(content)
		if done := extractSection(text, "## Done"); done != "" {
			b.WriteString("**Done:** " + done + "\n\n")
		}
		if blockedBy := extractSection(text, "## Blocked By"); blockedBy != "" {
			b.WriteString("**Blocked by:** " + blockedBy + "\n\n")
		}
		if next := extractSection(text, "## Next Steps"); next != "" {
			b.WriteString("**Next:** " + next + "\n\n")
		}
	}
	return b.String(), nil
}

// sessionStart assembles the full working context for a project.
func (s *Server) sessionStart(ctx context.Context, project string) (string, error) {
	projectPath := filepath.Join(s.indexer.Root(), project)

	var b strings.Builder
	b.WriteString("# Session Start: " + project + "\n\n")
	b.WriteString(statusSection(projectPath))

	if plan, err := os.ReadFile(filepath.Join(projectPath, "plans", "execution-plan.md")); err == nil {
		b.WriteString("## Execution Plan\n\n")
		b.WriteString(strings.TrimSpace(string(plan)))
		b.WriteString("\n\n")
	}

	tasks, err := s.indexer.ListDocuments(ctx, project, "tasks")
	if err != nil {
		return "", err
	}

	// In-progress and blocked tasks carry their full content; pending
	// tasks only their objective.
	b.WriteString("## In-Progress Tasks\n\n")
	b.WriteString(fullTaskSections(s.indexer.Root(), filterByStatus(tasks, "in-progress"), "_No tasks in progress_\n\n"))
	b.WriteString("## Blocked Tasks\n\n")
	b.WriteString(fullTaskSections(s.indexer.Root(), filterByStatus(tasks, "blocked"), "_No blocked tasks_\n\n"))

	b.WriteString("## Pending Tasks\n\n")
	pending := filterByStatus(tasks, "pending")
	if len(pending) == 0 {
		b.WriteString("_No pending tasks_\n\n")
	} else {
		shown := pending
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for _, task := range shown {
			objective := taskObjective(filepath.Join(s.indexer.Root(), task.Path))
			if objective == "" {
				objective = "_No objective found_"
			}
			b.WriteString("- **" + task.Filename + "**: " + objective + "\n")
		}
		if len(pending) > 5 {
			b.WriteString("\n_...and " + strconv.Itoa(len(pending)-5) + " more pending tasks_")
		}
		b.WriteString("\n\n")
	}

	sessions, err := s.indexer.ListDocuments(ctx, project, "sessions")
	if err != nil {
		return "", err
	}
	if sorted := sortSessionsDesc(sessions); len(sorted) > 0 {
		latest := sorted[0]
		date := strings.TrimSuffix(latest.Filename, ".md")
		if content, err := os.ReadFile(filepath.Join(s.indexer.Root(), latest.Path)); err == nil {
			b.WriteString("## Latest Session (" + date + ")\n\n")
			b.Write(content)
			b.WriteString("\n\n")
		} else {
			b.WriteString("## Latest Session\n\n_Could not read latest session_\n\n")
		}
	}

	b.WriteString("---\n\n")
	b.WriteString("**Ready to work!** The context above should help you ")
	b.WriteString("understand where the project is and what needs to be done next.\n")
	return b.String(), nil
}

// statusSection renders the Current Status block from status.md.
func statusSection(projectPath string) string {
	content, err := os.ReadFile(filepath.Join(projectPath, "status.md"))
	if err != nil {
		return "## Current Status\n\n_No status file found_\n\n"
	}
	return "## Current Status\n\n" + strings.TrimSpace(string(content)) + "\n\n"
}

// taskObjective extracts the Objective section of a task file, or ""
// when the file cannot be read.
func taskObjective(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return "_(could not read)_"
	}
	return extractSection(string(content), "## Objective")
}

// fullTaskSections renders each task's complete content under its
// filename heading.
func fullTaskSections(root string, tasks []store.Document, empty string) string {
	if len(tasks) == 0 {
		return empty
	}
	var b strings.Builder
	for _, task := range tasks {
		b.WriteString("### " + task.Filename + "\n\n")
		content, err := os.ReadFile(filepath.Join(root, task.Path))
		if err != nil {
			b.WriteString("_Could not read task_\n\n")
			continue
		}
		b.Write(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func filterByStatus(docs []store.Document, status string) []store.Document {
	var out []store.Document
	for _, d := range docs {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

// sortSessionsDesc orders session documents newest first. Session
// filenames are ISO dates, so lexical order is date order.
func sortSessionsDesc(sessions []store.Document) []store.Document {
	sorted := append([]store.Document(nil), sessions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Filename > sorted[j].Filename })
	return sorted
}

// extractSection returns the content under a heading up to the next
// heading, with runs of blank lines collapsed.
func extractSection(content, heading string) string {
	lines := strings.Split(content, "\n")
	var section []string
	in := false

	for _, line := range lines {
		if strings.TrimSpace(line) == heading {
			in = true
			continue
		}
		if in {
			if strings.HasPrefix(line, "#") {
				break
			}
			section = append(section, line)
		}
	}

	text := strings.TrimSpace(strings.Join(section, "\n"))
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}
