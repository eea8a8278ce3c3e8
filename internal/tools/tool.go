// Package tools defines the closed set of action variants the executor can run.
// Each variant knows how to validate its params, preview itself, capture a
// pre-image, apply the write and undo it.
package tools

import (
	"context"
	"errors"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

var ErrInvalidParams = errors.New("invalid tool params")

type Kind string

const (
	// KindWrite mutates external records directly.
	KindWrite Kind = "write"
	// KindDraft creates an artifact that waits for separate human review.
	KindDraft Kind = "draft"
)

// Outcome is what Execute reports. Rollback entries are merged into the
// action's rollback metadata even when Execute fails.
type Outcome struct {
	Result   domain.Metadata
	Rollback domain.Metadata
}

type Tool interface {
	Name() string
	Kind() Kind
	Baseline() domain.RiskLevel
	Validate(p Params) error
	Simulate(p Params) Preview
	// Preflight reads the state about to change and returns it as rollback metadata.
	Preflight(ctx context.Context, conn gateway.Conn, p Params) (domain.Metadata, error)
	Execute(ctx context.Context, conn gateway.Conn, p Params) (Outcome, error)
	// Rollback reports whether an undo write was issued.
	Rollback(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error)
}
