package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/autopilot/internal/domain"
)

func TestEvaluateFallbackHeuristics(t *testing.T) {
	table := DefaultFallbackTable()
	cases := []struct {
		name string
		in   FallbackInput
		want domain.RiskLevel
	}{
		{"protected write", FallbackInput{ToolName: "update_record", KnownTool: true, Write: true, ResourceType: "Invoice"}, domain.RiskCritical},
		{"state field write", FallbackInput{ToolName: "update_record", KnownTool: true, Write: true, ResourceType: "deal", Fields: []string{"stage"}}, domain.RiskHigh},
		{"plain write", FallbackInput{ToolName: "update_record", KnownTool: true, Write: true, ResourceType: "deal", Fields: []string{"name"}}, domain.RiskLow},
		{"draft of protected", FallbackInput{ToolName: "propose_draft", KnownTool: true, ResourceType: "invoice", Fields: []string{"status"}}, domain.RiskLow},
		{"unknown tool", FallbackInput{ToolName: "x"}, domain.RiskMedium},
	}
	for _, tc := range cases {
		got, _ := table.EvaluateFallback(tc.in)
		if got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseFallbackTable(t *testing.T) {
	table, err := ParseFallbackTable([]byte(`
protected_resource_types: [payroll]
protected_level: high
state_fields: [phase]
`))
	if err != nil {
		t.Fatalf("ParseFallbackTable() err=%v", err)
	}
	if table.ProtectedLevel != domain.RiskHigh || table.StateFieldLevel != domain.RiskHigh || table.UnknownToolLevel != domain.RiskMedium {
		t.Fatalf("unexpected levels: %+v", table)
	}
	level, _ := table.EvaluateFallback(FallbackInput{KnownTool: true, Write: true, ResourceType: "invoice"})
	if level != domain.RiskLow {
		t.Fatalf("replaced table should drop the default protected types, got %v", level)
	}

	if _, err := ParseFallbackTable([]byte("protected_level: extreme\n")); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestLoadFallbackTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.yaml")
	if err := os.WriteFile(path, []byte("protected_resource_types: [invoice]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadFallbackTable(path)
	if err != nil {
		t.Fatalf("LoadFallbackTable() err=%v", err)
	}
	if len(table.ProtectedResourceTypes) != 1 {
		t.Fatalf("unexpected table: %+v", table)
	}
}
