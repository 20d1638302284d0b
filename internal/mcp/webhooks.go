package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vibemcp/vibemcp/internal/webhook"
)

// RegisterWebhookInput defines the input schema for the
// register_webhook tool.
type RegisterWebhookInput struct {
	URL         string   `json:"url" jsonschema:"webhook endpoint URL (http or https, public hosts only)"`
	Secret      string   `json:"secret" jsonschema:"shared secret for HMAC signing, at least 32 characters"`
	EventTypes  []string `json:"event_types" jsonschema:"event types to deliver, or * for all"`
	Project     *string  `json:"project,omitempty" jsonschema:"optional project scope; omit for a global subscription"`
	Description string   `json:"description,omitempty" jsonschema:"free-form description of the subscription"`
}

func (s *Server) mcpRegisterWebhookHandler(ctx context.Context, _ *mcp.CallToolRequest, input RegisterWebhookInput) (
	*mcp.CallToolResult,
	webhook.RegisterResult,
	error,
) {
	result, err := s.hooks.Register(ctx, input.URL, input.Secret, input.EventTypes, input.Project, input.Description)
	if err != nil {
		return nil, webhook.RegisterResult{}, MapError(err)
	}
	return nil, *result, nil
}

// UnregisterWebhookInput defines the input schema for the
// unregister_webhook tool.
type UnregisterWebhookInput struct {
	SubscriptionID int64 `json:"subscription_id" jsonschema:"id of the subscription to remove"`
}

func (s *Server) mcpUnregisterWebhookHandler(ctx context.Context, _ *mcp.CallToolRequest, input UnregisterWebhookInput) (
	*mcp.CallToolResult,
	webhook.UnregisterResult,
	error,
) {
	result, err := s.hooks.Unregister(ctx, input.SubscriptionID)
	if err != nil {
		return nil, webhook.UnregisterResult{}, MapError(err)
	}
	return nil, *result, nil
}

// ListWebhooksInput defines the input schema for the list_webhooks
// tool.
type ListWebhooksInput struct {
	Project string `json:"project,omitempty" jsonschema:"optional project filter; global subscriptions are always included"`
}

// ListWebhooksOutput defines the output schema for the list_webhooks
// tool.
type ListWebhooksOutput struct {
	Webhooks []webhook.SubscriptionInfo `json:"webhooks" jsonschema:"subscriptions without secrets"`
}

func (s *Server) mcpListWebhooksHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListWebhooksInput) (
	*mcp.CallToolResult,
	ListWebhooksOutput,
	error,
) {
	infos, err := s.hooks.List(ctx, input.Project)
	if err != nil {
		return nil, ListWebhooksOutput{}, MapError(err)
	}
	return nil, ListWebhooksOutput{Webhooks: infos}, nil
}
