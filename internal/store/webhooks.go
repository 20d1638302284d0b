package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// CreateSubscription persists a webhook subscription and returns its id.
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	events, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return 0, fmt.Errorf("cannot encode event types: %w", err)
	}

	var project any
	if sub.Project != nil {
		project = *sub.Project
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions (url, secret, event_types, project, description)
		VALUES (?, ?, ?, ?, ?)`,
		sub.URL, sub.Secret, string(events), project, nullString(sub.Description))
	if err != nil {
		return 0, fmt.Errorf("cannot create subscription: %w", err)
	}
	return res.LastInsertId()
}

// DeleteSubscription removes a subscription by id; delivery logs
// cascade. Returns false if no such subscription exists.
func (s *Store) DeleteSubscription(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM webhook_subscriptions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("cannot delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSubscriptions lists subscriptions in id order. An empty project
// returns everything; a concrete project returns global subscriptions
// plus those scoped to it.
func (s *Store) ListSubscriptions(ctx context.Context, project string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, url, secret, event_types, project, description, active, created_at
		FROM webhook_subscriptions`
	var params []any
	if project != "" {
		query += " WHERE project IS NULL OR project = ?"
		params = append(params, project)
	}
	query += " ORDER BY id"

	return s.querySubscriptions(ctx, query, params...)
}

// CountActiveSubscriptions counts active subscriptions scoped to a
// project, or global ones when project is nil.
func (s *Store) CountActiveSubscriptions(ctx context.Context, project *string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	var err error
	if project == nil {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM webhook_subscriptions WHERE active = 1 AND project IS NULL").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM webhook_subscriptions WHERE active = 1 AND project = ?",
			*project).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("cannot count subscriptions: %w", err)
	}
	return n, nil
}

// ActiveSubscriptionsForEvent returns the active subscriptions whose
// event-type list contains eventType or the wildcard, and whose project
// filter is null or equals project.
func (s *Store) ActiveSubscriptionsForEvent(ctx context.Context, eventType, project string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	subs, err := s.querySubscriptions(ctx,
		`SELECT id, url, secret, event_types, project, description, active, created_at
		FROM webhook_subscriptions
		WHERE active = 1 AND (project IS NULL OR project = ?)
		ORDER BY id`, project)
	if err != nil {
		return nil, err
	}

	// Event-type lists are small JSON arrays; match them here rather
	// than in SQL.
	var matched []Subscription
	for _, sub := range subs {
		for _, et := range sub.EventTypes {
			if et == eventType || et == "*" {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

// LogDelivery appends a delivery audit row.
func (s *Store) LogDelivery(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	var statusCode any
	if d.StatusCode != nil {
		statusCode = *d.StatusCode
	}
	success := 0
	if d.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries
		(subscription_id, event_type, event_id, payload, status_code, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.SubscriptionID, d.EventType, d.EventID, d.Payload,
		statusCode, success, nullString(d.ErrorMessage))
	if err != nil {
		return fmt.Errorf("cannot log delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns delivery rows, newest first, optionally
// filtered by subscription (0 = all).
func (s *Store) ListDeliveries(ctx context.Context, subscriptionID int64) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, subscription_id, event_type, event_id, payload, status_code, success, error_message, delivered_at
		FROM webhook_deliveries`
	var params []any
	if subscriptionID != 0 {
		query += " WHERE subscription_id = ?"
		params = append(params, subscriptionID)
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("cannot list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var statusCode sql.NullInt64
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID,
			&d.Payload, &statusCode, &success, &errMsg, &d.DeliveredAt); err != nil {
			return nil, err
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			d.StatusCode = &code
		}
		d.Success = success != 0
		d.ErrorMessage = errMsg.String
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *Store) querySubscriptions(ctx context.Context, query string, params ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("cannot list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var events string
		var project, description sql.NullString
		var active int
		if err := rows.Scan(&sub.ID, &sub.URL, &sub.Secret, &events,
			&project, &description, &active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &sub.EventTypes); err != nil {
			return nil, errors.Wrap(errors.KindInternal,
				"corrupt event_types for subscription "+strconv.FormatInt(sub.ID, 10), err)
		}
		if project.Valid {
			p := project.String
			sub.Project = &p
		}
		sub.Description = description.String
		sub.Active = active != 0
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
