package autopilot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
	"github.com/animus-labs/autopilot/internal/repo/memory"
	"github.com/animus-labs/autopilot/internal/risk"
	"github.com/animus-labs/autopilot/internal/tools"
)

const company = "acme"

var (
	admin  = Caller{Subject: "alice", Roles: []string{"admin"}, Companies: []string{company}}
	editor = Caller{Subject: "bob", Roles: []string{"editor"}, Companies: []string{company}}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePolicies struct {
	mu        sync.Mutex
	protected map[string]domain.ProtectedResource
	policies  map[string][]domain.RiskPolicy
	err       error
}

func (f *fakePolicies) ProtectedResource(_ context.Context, _ string, resourceType string) (domain.ProtectedResource, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ProtectedResource{}, false, f.err
	}
	r, ok := f.protected[resourceType]
	return r, ok, nil
}

func (f *fakePolicies) Policies(_ context.Context, _ string, toolName string) ([]domain.RiskPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.policies[toolName], nil
}

func (f *fakePolicies) addPolicy(p domain.RiskPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policies == nil {
		f.policies = map[string][]domain.RiskPolicy{}
	}
	f.policies[p.ToolName] = append(f.policies[p.ToolName], p)
}

// recordingGateway wraps the in-memory gateway with write accounting and
// failure injection.
type recordingGateway struct {
	*gateway.MemoryGateway

	mu        sync.Mutex
	writes    []map[string]any
	authCalls int
	authErr   error
	// failWrite returns a non-nil error to fail a write. When applyOnFail is
	// set the write still lands before the error is returned.
	failWrite   func(resourceType, id string, values map[string]any) error
	applyOnFail bool

	authEntered chan struct{}
	authRelease chan struct{}
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{MemoryGateway: gateway.NewMemoryGateway()}
}

func (g *recordingGateway) Authenticate(ctx context.Context) (gateway.Session, error) {
	g.mu.Lock()
	g.authCalls++
	err := g.authErr
	entered, release := g.authEntered, g.authRelease
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return gateway.Session{}, err
	}
	return g.MemoryGateway.Authenticate(ctx)
}

func (g *recordingGateway) Write(ctx context.Context, s gateway.Session, resourceType, id string, values map[string]any) (string, error) {
	g.mu.Lock()
	g.writes = append(g.writes, values)
	fail := g.failWrite
	apply := g.applyOnFail
	g.mu.Unlock()
	if fail != nil {
		if err := fail(resourceType, id, values); err != nil {
			if apply {
				_, _ = g.MemoryGateway.Write(ctx, s, resourceType, id, values)
			}
			return "", err
		}
	}
	return g.MemoryGateway.Write(ctx, s, resourceType, id, values)
}

func (g *recordingGateway) writeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.writes)
}

func (g *recordingGateway) authCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authCalls
}

type fakeSink struct {
	mu      sync.Mutex
	reports []ExecutionReport
}

func (f *fakeSink) Archive(_ context.Context, report ExecutionReport) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return "reports/" + report.CompanyID + "/" + report.RunID + ".json", nil
}

type fixture struct {
	store    *memory.Store
	gw       *recordingGateway
	policies *fakePolicies
	clock    *testClock
	sink     *fakeSink
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		gw:       newRecordingGateway(),
		policies: &fakePolicies{},
		clock:    &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		sink:     &fakeSink{},
	}
	f.store.SetClock(f.clock.Now)
	registry := tools.DefaultRegistry()
	evaluator := risk.NewEvaluator(f.policies, registry, risk.DefaultFallbackTable(), nil)
	f.svc = &Service{
		Runs:      f.store,
		Actions:   f.store,
		Admins:    RoleAdminChecker{},
		Audit:     f.store,
		Evaluator: evaluator,
		Tools:     registry,
		Now:       f.clock.Now,
		Executor: &Executor{
			Runs:      f.store,
			Actions:   f.store,
			Locks:     &LockManager{Runs: f.store, StaleTTL: 30 * time.Minute, Now: f.clock.Now},
			Evaluator: evaluator,
			Tools:     registry,
			Gateway:   f.gw,
			Reports:   f.sink,
			Now:       f.clock.Now,
		},
	}
	return f
}

func updateProposal(resourceType, id string, values map[string]any) Proposal {
	return Proposal{
		ToolName: "update_record",
		ToolParams: domain.Metadata{
			"resource_type": resourceType,
			"record_id":     id,
			"values":        values,
			"confirm_write": true,
		},
	}
}

func (f *fixture) propose(t *testing.T, proposals ...Proposal) domain.Run {
	t.Helper()
	run, err := f.svc.ProposeRun(context.Background(), editor, company, proposals)
	if err != nil {
		t.Fatalf("ProposeRun() err=%v", err)
	}
	return run
}

func (f *fixture) proposeApproved(t *testing.T, proposals ...Proposal) domain.Run {
	t.Helper()
	run := f.propose(t, proposals...)
	approved, err := f.svc.ApproveRun(context.Background(), admin, company, run.ID, "ok")
	if err != nil {
		t.Fatalf("ApproveRun() err=%v", err)
	}
	return approved
}

// seedRun stores a run with the given actions as-is, bypassing proposal.
func (f *fixture) seedRun(t *testing.T, status domain.RunStatus, actions ...domain.Action) domain.Run {
	t.Helper()
	run := domain.Run{
		ID:        "run-seeded",
		CompanyID: company,
		Status:    status,
		Phase:     domain.PhaseExecution,
		CreatedBy: "seed",
		CreatedAt: f.clock.Now(),
	}
	for i := range actions {
		actions[i].RunID = run.ID
		actions[i].CompanyID = company
		if actions[i].StepOrder == 0 {
			actions[i].StepOrder = i + 1
		}
	}
	if err := f.store.CreateRun(context.Background(), run, actions); err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	return run
}

func (f *fixture) action(t *testing.T, id string) domain.Action {
	t.Helper()
	a, err := f.store.GetAction(context.Background(), company, id)
	if err != nil {
		t.Fatalf("GetAction(%s) err=%v", id, err)
	}
	return a
}

func (f *fixture) run(t *testing.T, id string) domain.Run {
	t.Helper()
	r, err := f.store.GetRun(context.Background(), company, id)
	if err != nil {
		t.Fatalf("GetRun(%s) err=%v", id, err)
	}
	return r
}
