package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vibemcp/vibemcp/internal/write"
)

// InitProjectInput defines the input schema for the init_project tool.
type InitProjectInput struct {
	Project string `json:"project" jsonschema:"name of the project to create"`
}

func (s *Server) mcpInitProjectHandler(ctx context.Context, _ *mcp.CallToolRequest, input InitProjectInput) (
	*mcp.CallToolResult,
	write.InitResult,
	error,
) {
	result, err := s.writer.InitProject(ctx, input.Project)
	if err != nil {
		return nil, write.InitResult{}, MapError(err)
	}
	return nil, *result, nil
}

// CreateTaskInput defines the input schema for the create_task tool.
type CreateTaskInput struct {
	Project   string   `json:"project" jsonschema:"name of the project"`
	Title     string   `json:"title" jsonschema:"task title, slugified into the filename"`
	Objective string   `json:"objective,omitempty" jsonschema:"what the task should accomplish"`
	Steps     []string `json:"steps,omitempty" jsonschema:"ordered list of steps"`
	Feature   string   `json:"feature,omitempty" jsonschema:"feature this task belongs to"`
}

func (s *Server) mcpCreateTaskHandler(ctx context.Context, _ *mcp.CallToolRequest, input CreateTaskInput) (
	*mcp.CallToolResult,
	write.TaskResult,
	error,
) {
	result, err := s.writer.CreateTask(ctx, input.Project, input.Title, input.Objective, input.Steps, input.Feature)
	if err != nil {
		return nil, write.TaskResult{}, MapError(err)
	}
	return nil, *result, nil
}

// LogSessionInput defines the input schema for the log_session tool.
type LogSessionInput struct {
	Project string `json:"project" jsonschema:"name of the project"`
	Content string `json:"content" jsonschema:"session notes to record"`
}

func (s *Server) mcpLogSessionHandler(ctx context.Context, _ *mcp.CallToolRequest, input LogSessionInput) (
	*mcp.CallToolResult,
	write.SessionResult,
	error,
) {
	result, err := s.writer.LogSession(ctx, input.Project, input.Content)
	if err != nil {
		return nil, write.SessionResult{}, MapError(err)
	}
	return nil, *result, nil
}

// UpdateTaskStatusInput defines the input schema for the
// update_task_status tool.
type UpdateTaskStatusInput struct {
	Project   string `json:"project" jsonschema:"name of the project"`
	TaskFile  string `json:"task_file" jsonschema:"task filename within the tasks folder, e.g. 001-setup.md"`
	NewStatus string `json:"new_status" jsonschema:"new status: pending, in-progress, done, or blocked"`
}

func (s *Server) mcpUpdateTaskStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input UpdateTaskStatusInput) (
	*mcp.CallToolResult,
	write.StatusResult,
	error,
) {
	result, err := s.writer.UpdateTaskStatus(ctx, input.Project, input.TaskFile, input.NewStatus)
	if err != nil {
		return nil, write.StatusResult{}, MapError(err)
	}
	return nil, *result, nil
}

// CreateDocInput defines the input schema for the create_doc tool.
type CreateDocInput struct {
	Project  string `json:"project" jsonschema:"name of the project"`
	Folder   string `json:"folder" jsonschema:"target folder: tasks, plans, sessions, reports, changelog, references, scratch, or assets"`
	Filename string `json:"filename" jsonschema:"name of the new file"`
	Content  string `json:"content" jsonschema:"document content"`
}

func (s *Server) mcpCreateDocHandler(ctx context.Context, _ *mcp.CallToolRequest, input CreateDocInput) (
	*mcp.CallToolResult,
	write.DocResult,
	error,
) {
	result, err := s.writer.CreateDoc(ctx, input.Project, input.Folder, input.Filename, input.Content)
	if err != nil {
		return nil, write.DocResult{}, MapError(err)
	}
	return nil, *result, nil
}

// CreatePlanInput defines the input schema for the create_plan tool.
type CreatePlanInput struct {
	Project  string `json:"project" jsonschema:"name of the project"`
	Content  string `json:"content" jsonschema:"plan content"`
	Filename string `json:"filename,omitempty" jsonschema:"plan filename, default execution-plan.md"`
}

func (s *Server) mcpCreatePlanHandler(ctx context.Context, _ *mcp.CallToolRequest, input CreatePlanInput) (
	*mcp.CallToolResult,
	write.PlanResult,
	error,
) {
	result, err := s.writer.CreatePlan(ctx, input.Project, input.Content, input.Filename)
	if err != nil {
		return nil, write.PlanResult{}, MapError(err)
	}
	return nil, *result, nil
}

// ReindexInput defines the input schema for the reindex tool.
type ReindexInput struct{}

func (s *Server) mcpReindexHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ReindexInput) (
	*mcp.CallToolResult,
	write.ReindexResult,
	error,
) {
	result, err := s.writer.Reindex(ctx)
	if err != nil {
		return nil, write.ReindexResult{}, MapError(err)
	}
	return nil, *result, nil
}
