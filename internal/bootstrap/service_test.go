package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
	"github.com/animus-labs/autopilot/internal/repo/memory"
	"github.com/animus-labs/autopilot/internal/risk"
)

type mutablePolicies struct {
	mu        sync.Mutex
	protected map[string]domain.ProtectedResource
}

func (m *mutablePolicies) ProtectedResource(_ context.Context, _ string, resourceType string) (domain.ProtectedResource, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.protected[resourceType]
	return r, ok, nil
}

func (m *mutablePolicies) Policies(context.Context, string, string) ([]domain.RiskPolicy, error) {
	return nil, nil
}

func (m *mutablePolicies) protect(resourceType string, level domain.RiskLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.protected == nil {
		m.protected = map[string]domain.ProtectedResource{}
	}
	m.protected[resourceType] = domain.ProtectedResource{ResourceType: resourceType, MinimumLevel: level}
}

func TestExecutorReadsUncachedPolicies(t *testing.T) {
	store := memory.New()
	// stale stands in for a cache entry written before the policy changed.
	stale := &mutablePolicies{}
	source := &mutablePolicies{}
	svc := newService(serviceDeps{
		runs:             store,
		actions:          store,
		members:          store,
		audit:            store,
		proposalPolicies: stale,
		sourcePolicies:   source,
		fallback:         risk.DefaultFallbackTable(),
		gateway:          gateway.NewMemoryGateway(),
	})

	ctx := context.Background()
	params := domain.Metadata{"resource_type": "customer", "record_id": "c-1", "values": map[string]any{"name": "New"}}
	caller := autopilot.Caller{Subject: "bob", Roles: []string{"editor"}, Companies: []string{"acme"}}
	run, err := svc.ProposeRun(ctx, caller, "acme", []autopilot.Proposal{{ToolName: "update_record", ToolParams: params}})
	if err != nil {
		t.Fatalf("ProposeRun() err=%v", err)
	}
	if got := run.Actions[0].RiskLevel; got == domain.RiskCritical {
		t.Fatalf("proposal risk=%s before the policy change", got)
	}

	source.protect("customer", domain.RiskCritical)

	if got := svc.Evaluator.Evaluate(ctx, "acme", "update_record", params).RiskLevel; got == domain.RiskCritical {
		t.Fatalf("proposal evaluator is expected to read the cached view, got %s", got)
	}
	assessment := svc.Executor.Evaluator.Evaluate(ctx, "acme", "update_record", params)
	if assessment.RiskLevel != domain.RiskCritical || !assessment.RequiresApproval {
		t.Fatalf("execution re-check missed the raised policy: %+v", assessment)
	}
}

func TestNewServiceWiresPassTimeout(t *testing.T) {
	store := memory.New()
	policies := &mutablePolicies{}
	svc := newService(serviceDeps{
		runs:             store,
		actions:          store,
		members:          store,
		audit:            store,
		proposalPolicies: policies,
		sourcePolicies:   policies,
		fallback:         risk.DefaultFallbackTable(),
		gateway:          gateway.NewMemoryGateway(),
		passTimeout:      90 * time.Second,
	})
	if svc.Executor.PassTimeout != 90*time.Second {
		t.Fatalf("pass timeout=%s", svc.Executor.PassTimeout)
	}
}
