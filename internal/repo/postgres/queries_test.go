package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/repo"
)

func TestRunQueriesCompanyScoped(t *testing.T) {
	queries := map[string]string{
		"select":   selectRunQuery,
		"acquire":  acquireLockQuery,
		"release":  releaseLockQuery,
		"refresh":  refreshLockQuery,
		"finalize": finalizeRunQuery,
		"decide":   decideRunQuery,
		"cascade":  cascadeActionsQuery,
		"actions":  listActionsQuery,
		"action":   selectActionQuery,
		"update":   updateActionQuery,
		"override": decideActionQuery,
	}
	for name, query := range queries {
		if !strings.Contains(query, "company_id = $1") {
			t.Fatalf("%s query missing company_id predicate", name)
		}
	}
}

func TestAcquireLockQueryIsConditional(t *testing.T) {
	if !strings.Contains(acquireLockQuery, "execution_lock_uuid IS NULL") {
		t.Fatalf("expected free-lock predicate in acquire query")
	}
	if !strings.Contains(acquireLockQuery, "execution_locked_at < $5") {
		t.Fatalf("expected stale takeover predicate in acquire query")
	}
}

func TestDecisionQueriesGuardState(t *testing.T) {
	if !strings.Contains(decideRunQuery, "status = ANY($9::text[])") {
		t.Fatalf("expected from-status guard in run decision")
	}
	if !strings.Contains(decideRunQuery, "execution_lock_uuid IS NULL") {
		t.Fatalf("expected lock guard in run decision")
	}
	if !strings.Contains(decideActionQuery, "status = ANY($7::text[])") {
		t.Fatalf("expected from-status guard in action decision")
	}
	for name, query := range map[string]string{
		"finalize": finalizeRunQuery,
		"refresh":  refreshLockQuery,
		"release":  releaseLockQuery,
	} {
		if !strings.Contains(query, "execution_lock_uuid = $3::uuid") {
			t.Fatalf("expected lock holder guard in %s", name)
		}
	}
}

// CASE branches made only of parameters resolve to text unless cast, which
// Postgres refuses to assign to a timestamptz column.
func TestDecisionQueriesCastCaseParameters(t *testing.T) {
	for name, tc := range map[string]struct {
		query string
		want  []string
	}{
		"run":      {decideRunQuery, []string{"$6::text", "$7::timestamptz", "$5::boolean"}},
		"cascade":  {cascadeActionsQuery, []string{"$6::text", "$7::timestamptz", "$5::boolean"}},
		"override": {decideActionQuery, []string{"$5::text", "$6::timestamptz", "$4::boolean"}},
	} {
		for _, want := range tc.want {
			if !strings.Contains(tc.query, want) {
				t.Fatalf("%s query missing %s", name, want)
			}
		}
	}
}

func TestListActionsOrderedByStep(t *testing.T) {
	if !strings.Contains(listActionsQuery, "ORDER BY step_order ASC") {
		t.Fatalf("expected step order in list actions query")
	}
}

func TestBuildListRunsQuery(t *testing.T) {
	query, args, err := buildListRunsQuery(repo.RunFilter{CompanyID: "acme", Status: domain.RunApproved, Limit: 10})
	if err != nil {
		t.Fatalf("buildListRunsQuery() err=%v", err)
	}
	if !strings.Contains(query, "company_id = $1 AND status = $2") {
		t.Fatalf("unexpected where clause: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT $3") {
		t.Fatalf("expected limit placeholder: %s", query)
	}
	if len(args) != 3 || args[0] != "acme" || args[1] != "approved" || args[2] != 10 {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, _, err := buildListRunsQuery(repo.RunFilter{}); err == nil {
		t.Fatalf("expected error without company")
	}
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"autopilot_runs", "autopilot_actions", "autopilot_risk_policies", "autopilot_protected_resources", "company_memberships", "audit_events"} {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schema missing table %s", table)
		}
	}
}

func TestNilStoresReportNotInitialized(t *testing.T) {
	ctx := context.Background()
	var runs *RunStore
	if _, err := runs.GetRun(ctx, "acme", "run-1"); err == nil {
		t.Fatalf("expected error from nil run store")
	}
	var actions *ActionStore
	if _, err := actions.ListActions(ctx, "acme", "run-1"); err == nil {
		t.Fatalf("expected error from nil action store")
	}
	if NewRunStore(nil) != nil || NewActionStore(nil) != nil || NewPolicyStore(nil) != nil {
		t.Fatalf("expected nil stores for nil db")
	}
	if err := Migrate(ctx, nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
