package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

func memoryConn(g *gateway.MemoryGateway) gateway.Conn {
	return gateway.Conn{Gateway: g, Session: gateway.Session{Token: "t"}}
}

func TestParseParams(t *testing.T) {
	p := ParseParams(domain.Metadata{
		"resource_type": "deal",
		"record_id":     "d-1",
		"values":        map[string]any{"stage": "won", "amount": 5},
		"confirm_write": true,
	})
	if p.ResourceType != "deal" || p.RecordID != "d-1" || !p.ConfirmWrite {
		t.Fatalf("unexpected params: %+v", p)
	}
	if got := strings.Join(p.Fields(), ","); got != "amount,stage" {
		t.Fatalf("Fields()=%s", got)
	}
}

func TestUpdateRecordPreflightExecuteRollback(t *testing.T) {
	g := gateway.NewMemoryGateway()
	g.Put("deal", "d-1", gateway.Record{"stage": "open", "owner": "bob"})
	conn := memoryConn(g)
	ctx := context.Background()
	p := Params{ResourceType: "deal", RecordID: "d-1", Values: map[string]any{"stage": "won", "note": "x"}}
	tool := UpdateRecord{}

	snapshot, err := tool.Preflight(ctx, conn, p)
	if err != nil {
		t.Fatalf("Preflight() err=%v", err)
	}
	if _, err := tool.Execute(ctx, conn, p); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	record, _ := g.Get("deal", "d-1")
	if record["stage"] != "won" {
		t.Fatalf("update not applied: %v", record)
	}

	rolled, err := tool.Rollback(ctx, conn, snapshot)
	if err != nil || !rolled {
		t.Fatalf("Rollback() rolled=%v err=%v", rolled, err)
	}
	record, _ = g.Get("deal", "d-1")
	if record["stage"] != "open" || record["note"] != nil || record["owner"] != "bob" {
		t.Fatalf("pre-image not restored: %v", record)
	}
}

func TestUpdateRecordPreflightMissingRecord(t *testing.T) {
	g := gateway.NewMemoryGateway()
	_, err := UpdateRecord{}.Preflight(context.Background(), memoryConn(g), Params{ResourceType: "deal", RecordID: "nope", Values: map[string]any{"a": 1}})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCreateRecordRollbackArchivesCreated(t *testing.T) {
	g := gateway.NewMemoryGateway()
	conn := memoryConn(g)
	ctx := context.Background()
	p := Params{ResourceType: "contact", Values: map[string]any{"name": "Ada"}}
	tool := CreateRecord{}

	snapshot, _ := tool.Preflight(ctx, conn, p)
	out, err := tool.Execute(ctx, conn, p)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	id := out.Result.String(SnapshotCreatedID)
	if id == "" {
		t.Fatalf("expected created id")
	}
	rolled, err := tool.Rollback(ctx, conn, snapshot.Merge(out.Rollback))
	if err != nil || !rolled {
		t.Fatalf("Rollback() rolled=%v err=%v", rolled, err)
	}
	record, _ := g.Get("contact", id)
	if record["active"] != false {
		t.Fatalf("created record not archived: %v", record)
	}
}

func TestCreateRecordRollbackWithoutIDIsNoop(t *testing.T) {
	rolled, err := CreateRecord{}.Rollback(context.Background(), gateway.Conn{}, domain.Metadata{"resource_type": "contact"})
	if err != nil || rolled {
		t.Fatalf("Rollback() rolled=%v err=%v", rolled, err)
	}
}

func TestArchiveRecordRollbackRestoresActive(t *testing.T) {
	g := gateway.NewMemoryGateway()
	g.Put("vendor", "v-1", gateway.Record{"active": true})
	conn := memoryConn(g)
	ctx := context.Background()
	p := Params{ResourceType: "vendor", RecordID: "v-1"}
	tool := ArchiveRecord{}

	snapshot, err := tool.Preflight(ctx, conn, p)
	if err != nil {
		t.Fatalf("Preflight() err=%v", err)
	}
	if _, err := tool.Execute(ctx, conn, p); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if record, _ := g.Get("vendor", "v-1"); record["active"] != false {
		t.Fatalf("record not archived")
	}
	if rolled, err := tool.Rollback(ctx, conn, snapshot); err != nil || !rolled {
		t.Fatalf("Rollback() rolled=%v err=%v", rolled, err)
	}
	if record, _ := g.Get("vendor", "v-1"); record["active"] != true {
		t.Fatalf("active not restored")
	}
}

func TestProposeDraftLifecycle(t *testing.T) {
	g := gateway.NewMemoryGateway()
	conn := memoryConn(g)
	ctx := context.Background()
	tool := ProposeDraft{}
	if tool.Baseline() != domain.RiskLow || tool.Kind() != KindDraft {
		t.Fatalf("draft tool must be a low-risk draft")
	}
	out, err := tool.Execute(ctx, conn, Params{ResourceType: "email", Values: map[string]any{"body": "hi"}})
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	id := out.Rollback.String(SnapshotDraftID)
	if record, _ := g.Get(DraftResourceType, id); record["state"] != DraftPendingReview {
		t.Fatalf("draft state=%v", record["state"])
	}
	if rolled, err := tool.Rollback(ctx, conn, out.Rollback); err != nil || !rolled {
		t.Fatalf("Rollback() rolled=%v err=%v", rolled, err)
	}
	if record, _ := g.Get(DraftResourceType, id); record["state"] != DraftCancelled {
		t.Fatalf("draft not cancelled: %v", record)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		tool Tool
		p    Params
		ok   bool
	}{
		{UpdateRecord{}, Params{ResourceType: "deal", RecordID: "d", Values: map[string]any{"a": 1}}, true},
		{UpdateRecord{}, Params{ResourceType: "deal", Values: map[string]any{"a": 1}}, false},
		{CreateRecord{}, Params{ResourceType: "deal"}, false},
		{ArchiveRecord{}, Params{ResourceType: "deal", RecordID: "d"}, true},
		{ProposeDraft{}, Params{}, false},
	}
	for _, tc := range cases {
		err := tc.tool.Validate(tc.p)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err=%v", tc.tool.Name(), err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: expected ErrInvalidParams, got %v", tc.tool.Name(), err)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	if got := strings.Join(r.Names(), ","); got != "archive_record,create_record,propose_draft,update_record" {
		t.Fatalf("Names()=%s", got)
	}
	if err := r.Register(UpdateRecord{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, ok := r.Lookup("delete_everything"); ok {
		t.Fatalf("unexpected tool")
	}
}

func TestSimulatorWarnings(t *testing.T) {
	sim := Simulator{Registry: DefaultRegistry()}

	out := sim.Simulate("update_record", domain.Metadata{
		"resource_type": "invoice",
		"record_id":     "inv-1",
		"values":        map[string]any{"status": "paid"},
	})
	if out.Preview.Operation != "update" || len(out.Preview.Fields) != 1 || out.Preview.Fields[0].Proposed != "paid" {
		t.Fatalf("unexpected preview: %+v", out.Preview)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "confirm_write") {
		t.Fatalf("expected confirm_write warning, got %v", out.Warnings)
	}

	out = sim.Simulate("propose_draft", domain.Metadata{"values": map[string]any{"body": "x"}})
	if len(out.Warnings) != 0 {
		t.Fatalf("draft needs no confirm_write, got %v", out.Warnings)
	}

	out = sim.Simulate("mystery", domain.Metadata{"resource_type": "deal"})
	if out.Preview.Operation != "unknown" || len(out.Warnings) != 1 {
		t.Fatalf("unexpected unknown-tool simulation: %+v", out)
	}
}
