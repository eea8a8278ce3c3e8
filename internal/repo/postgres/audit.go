package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/autopilot/internal/platform/auditlog"
)

// AuditAppender writes lifecycle events to audit_events.
type AuditAppender struct {
	db    auditlog.QueryRower
	clock func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower) *AuditAppender {
	return &AuditAppender{db: db, clock: time.Now}
}

func (a *AuditAppender) Append(ctx context.Context, event auditlog.Event) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender has no database")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.clock()
	}
	id, err := auditlog.Insert(ctx, a.db, event)
	if err != nil {
		return 0, fmt.Errorf("append %s for %s %s: %w", event.Action, event.ResourceType, event.ResourceID, err)
	}
	return id, nil
}
