// Package auditlog writes the append-only audit trail of approval decisions,
// executions and denied requests.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Event is one audit row. CompanyID is empty for events outside a tenant.
type Event struct {
	OccurredAt   time.Time
	CompanyID    string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// normalized trims every text field and moves the timestamp to UTC, so the
// stored row and its digest agree.
func (e Event) normalized() Event {
	e.OccurredAt = e.OccurredAt.UTC()
	for _, field := range []*string{&e.CompanyID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &e.RequestID, &e.UserAgent} {
		*field = strings.TrimSpace(*field)
	}
	return e
}

func (e Event) Validate() error {
	e = e.normalized()
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	required := []struct {
		name  string
		value string
	}{
		{"Actor", e.Actor},
		{"Action", e.Action},
		{"ResourceType", e.ResourceType},
		{"ResourceID", e.ResourceID},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at, company_id, actor, action, resource_type, resource_id,
	request_id, ip, user_agent, payload, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING event_id`

// Insert stores event with its integrity digest and returns the row id.
// A zero OccurredAt is stamped with the current time.
func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event = event.normalized()
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payloadJSON, err := marshalPayload(event.Payload)
	if err != nil {
		return 0, err
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, insertEventQuery,
		event.OccurredAt,
		nullString(event.CompanyID),
		event.Actor,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		nullString(event.RequestID),
		nullString(ipString(event.IP)),
		nullString(event.UserAgent),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte(`{}`), nil
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return blob, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON form of an event. A row
// whose recomputed digest differs has been edited after insert.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	event = event.normalized()
	blob, err := json.Marshal(struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		CompanyID    string          `json:"company_id,omitempty"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		RequestID    string          `json:"request_id,omitempty"`
		IP           string          `json:"ip,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}{
		OccurredAt:   event.OccurredAt,
		CompanyID:    event.CompanyID,
		Actor:        event.Actor,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		RequestID:    event.RequestID,
		IP:           ipString(event.IP),
		UserAgent:    event.UserAgent,
		Payload:      payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if len(ip) == 0 {
		return ""
	}
	return ip.String()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
