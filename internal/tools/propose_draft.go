package tools

import (
	"context"
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

const (
	DraftResourceType  = "drafts"
	DraftPendingReview = "pending_review"
	DraftCancelled     = "cancelled"
)

// ProposeDraft stores the proposed values as a draft artifact for a human to
// review in the external system. It never touches the target record.
type ProposeDraft struct{}

func (ProposeDraft) Name() string               { return "propose_draft" }
func (ProposeDraft) Kind() Kind                 { return KindDraft }
func (ProposeDraft) Baseline() domain.RiskLevel { return domain.RiskLow }

func (ProposeDraft) Validate(p Params) error {
	return p.requireValues()
}

func (t ProposeDraft) Simulate(p Params) Preview {
	return previewFor(t.Name(), "draft", p)
}

func (ProposeDraft) Preflight(context.Context, gateway.Conn, Params) (domain.Metadata, error) {
	return domain.Metadata{}, nil
}

func (ProposeDraft) Execute(ctx context.Context, conn gateway.Conn, p Params) (Outcome, error) {
	id, err := conn.Write(ctx, DraftResourceType, "", map[string]any{
		"state":         DraftPendingReview,
		"resource_type": p.ResourceType,
		"record_id":     p.RecordID,
		"values":        p.Values,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create draft: %w", err)
	}
	return Outcome{
		Result:   domain.Metadata{SnapshotDraftID: id, "state": DraftPendingReview},
		Rollback: domain.Metadata{SnapshotDraftID: id},
	}, nil
}

// Rollback marks the draft cancelled.
func (ProposeDraft) Rollback(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error) {
	id := snapshot.String(SnapshotDraftID)
	if id == "" {
		return false, nil
	}
	if _, err := conn.Write(ctx, DraftResourceType, id, map[string]any{"state": DraftCancelled}); err != nil {
		return false, fmt.Errorf("cancel draft %s: %w", id, err)
	}
	return true, nil
}
