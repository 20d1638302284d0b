// Package webhook manages outgoing webhook subscriptions and event
// delivery: subscription CRUD with SSRF-safe URL validation, wildcard
// and project-scoped matching, and bounded-concurrency signed HTTP
// fan-out with an audit trail.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/store"
)

const (
	// DeliveryTimeout bounds one HTTP POST end to end.
	DeliveryTimeout = 10 * time.Second

	// MaxConcurrentDeliveries is the fan-out worker pool size.
	MaxConcurrentDeliveries = 10

	// Subscription limits (anti-spam/DoS protection).
	MaxSubscriptionsPerProject = 50
	MaxSubscriptionsGlobal     = 200
)

// EventTypes is the closed set of deliverable event types.
var EventTypes = map[string]struct{}{
	"task.created":        {},
	"task.updated":        {},
	"doc.created":         {},
	"doc.updated":         {},
	"session.logged":      {},
	"plan.created":        {},
	"plan.updated":        {},
	"project.initialized": {},
	"index.reindexed":     {},
	"*":                   {},
}

// Engine delivers events to registered subscriptions.
//
// Payload format sent to webhook endpoints:
//
//	{
//	  "event_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "event_type": "task.created",
//	  "project": "my-project",
//	  "timestamp": "2026-08-24T12:34:56.789Z",
//	  "data": {...}
//	}
type Engine struct {
	store   *store.Store
	enabled bool
	logger  *slog.Logger
	client  *http.Client

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// New creates a webhook engine backed by st. When enabled is false,
// FireEvent is a no-op but subscription management still works.
func New(st *store.Store, enabled bool, logger *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		enabled: enabled,
		logger:  logger,
		client:  &http.Client{Timeout: DeliveryTimeout},
		sem:     semaphore.NewWeighted(MaxConcurrentDeliveries),
	}
}

// RegisterResult reports a successful registration.
type RegisterResult struct {
	Status         string   `json:"status"`
	SubscriptionID int64    `json:"subscription_id"`
	URL            string   `json:"url"`
	EventTypes     []string `json:"event_types"`
	Project        *string  `json:"project"`
}

// Register validates and persists a new subscription.
func (e *Engine) Register(ctx context.Context, url, secret string, eventTypes []string, project *string, description string) (*RegisterResult, error) {
	if err := validateURL(url); err != nil {
		return nil, err
	}
	if len(secret) < 32 {
		return nil, errors.InputInvalid("secret must be at least 32 characters")
	}
	if len(eventTypes) == 0 {
		return nil, errors.InputInvalid("at least one event type is required")
	}
	var invalid []string
	for _, et := range eventTypes {
		if _, ok := EventTypes[et]; !ok {
			invalid = append(invalid, et)
		}
	}
	if len(invalid) > 0 {
		return nil, errors.InputInvalid("invalid event types: " + strings.Join(invalid, ", "))
	}

	count, err := e.store.CountActiveSubscriptions(ctx, project)
	if err != nil {
		return nil, err
	}
	if project != nil && count >= MaxSubscriptionsPerProject {
		return nil, errors.Newf(errors.KindInputInvalid,
			"Maximum subscriptions (%d) reached for project: %s",
			MaxSubscriptionsPerProject, *project)
	}
	if project == nil && count >= MaxSubscriptionsGlobal {
		return nil, errors.Newf(errors.KindInputInvalid,
			"Maximum global subscriptions (%d) reached", MaxSubscriptionsGlobal)
	}

	id, err := e.store.CreateSubscription(ctx, &store.Subscription{
		URL:         url,
		Secret:      secret,
		EventTypes:  eventTypes,
		Project:     project,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	// Partial secret only, for correlating with the caller's records.
	e.logger.Info("registered webhook subscription",
		slog.Int64("subscription_id", id),
		slog.String("url", url),
		slog.String("secret", secret[:4]+"..."+secret[len(secret)-4:]))

	return &RegisterResult{
		Status:         "registered",
		SubscriptionID: id,
		URL:            url,
		EventTypes:     eventTypes,
		Project:        project,
	}, nil
}

// UnregisterResult reports a removed subscription.
type UnregisterResult struct {
	Status         string `json:"status"`
	SubscriptionID int64  `json:"subscription_id"`
}

// Unregister deletes a subscription by id; delivery logs cascade.
func (e *Engine) Unregister(ctx context.Context, id int64) (*UnregisterResult, error) {
	deleted, err := e.store.DeleteSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, errors.NotFound(fmt.Sprintf("subscription not found: %d", id))
	}

	e.logger.Info("unregistered webhook subscription", slog.Int64("subscription_id", id))
	return &UnregisterResult{Status: "unregistered", SubscriptionID: id}, nil
}

// SubscriptionInfo is a subscription as exposed to callers: the shared
// secret is never included.
type SubscriptionInfo struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Project     *string  `json:"project"`
	Description string   `json:"description,omitempty"`
	Active      bool     `json:"active"`
	CreatedAt   string   `json:"created_at"`
}

// List returns subscriptions without secrets, optionally filtered to a
// project (global subscriptions are always included for a concrete
// project).
func (e *Engine) List(ctx context.Context, project string) ([]SubscriptionInfo, error) {
	subs, err := e.store.ListSubscriptions(ctx, project)
	if err != nil {
		return nil, err
	}

	infos := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, SubscriptionInfo{
			ID:          sub.ID,
			URL:         sub.URL,
			EventTypes:  sub.EventTypes,
			Project:     sub.Project,
			Description: sub.Description,
			Active:      sub.Active,
			CreatedAt:   sub.CreatedAt,
		})
	}
	return infos, nil
}

// FireEvent schedules deliveries for an event and returns immediately.
// project is "" for global events. A no-op when webhooks are disabled
// or shutdown has been signalled.
func (e *Engine) FireEvent(eventType, project string, data map[string]any) {
	if !e.enabled {
		e.logger.Debug("webhooks disabled, skipping event", slog.String("event", eventType))
		return
	}
	if e.shutdown.Load() {
		e.logger.Warn("webhook engine shutting down, skipping event", slog.String("event", eventType))
		return
	}

	subs, err := e.store.ActiveSubscriptionsForEvent(context.Background(), eventType, project)
	if err != nil {
		e.logger.Error("cannot look up subscriptions",
			slog.String("event", eventType),
			slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		e.logger.Debug("no subscriptions for event",
			slog.String("event", eventType),
			slog.String("project", project))
		return
	}

	eventID := uuid.NewString()

	var projectField any
	if project != "" {
		projectField = project
	}
	payload, err := json.Marshal(map[string]any{
		"event_id":   eventID,
		"event_type": eventType,
		"project":    projectField,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"data":       data,
	})
	if err != nil {
		e.logger.Error("cannot encode event payload", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		sub := sub
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer e.sem.Release(1)
			e.deliver(eventID, eventType, payload, sub)
		}()
	}
}

// deliver makes exactly one signed POST attempt and appends an audit
// row regardless of outcome.
func (e *Engine) deliver(eventID, eventType string, payload []byte, sub store.Subscription) {
	signature := Sign(payload, sub.Secret)

	var statusCode *int
	success := false
	errorMessage := ""

	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		errorMessage = err.Error()
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Vibe-Signature", "sha256="+signature)
		req.Header.Set("X-Vibe-Event", eventType)
		req.Header.Set("X-Vibe-Event-ID", eventID)

		resp, err := e.client.Do(req)
		switch {
		case err != nil:
			if isTimeout(err) {
				errorMessage = "request timed out"
				e.logger.Warn("webhook delivery timed out",
					slog.Int64("subscription_id", sub.ID),
					slog.String("url", sub.URL))
			} else {
				errorMessage = err.Error()
				e.logger.Warn("webhook delivery error",
					slog.Int64("subscription_id", sub.ID),
					slog.String("error", errorMessage))
			}
		default:
			code := resp.StatusCode
			statusCode = &code
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			_ = resp.Body.Close()

			success = code >= 200 && code < 300
			if success {
				e.logger.Info("webhook delivered",
					slog.String("event_id", eventID),
					slog.Int64("subscription_id", sub.ID),
					slog.String("url", sub.URL))
			} else {
				errorMessage = fmt.Sprintf("HTTP %d: %s", code, body)
				e.logger.Warn("webhook delivery failed",
					slog.Int64("subscription_id", sub.ID),
					slog.String("error", errorMessage))
			}
		}
	}

	if err := e.store.LogDelivery(context.Background(), &store.Delivery{
		SubscriptionID: sub.ID,
		EventType:      eventType,
		EventID:        eventID,
		Payload:        string(payload),
		StatusCode:     statusCode,
		Success:        success,
		ErrorMessage:   errorMessage,
	}); err != nil {
		e.logger.Error("cannot log webhook delivery",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()))
	}
}

// Shutdown makes subsequent FireEvent calls no-ops and waits up to
// timeout for in-flight deliveries to finish.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.shutdown.Store(true)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("webhook engine shutdown complete")
	case <-time.After(timeout):
		e.logger.Warn("webhook engine shutdown timed out with deliveries in flight")
	}
}

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}
