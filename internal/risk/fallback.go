package risk

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/autopilot/internal/domain"
)

// FallbackTable holds the fixed heuristics used when the policy store is
// unavailable or has no rule for an action.
type FallbackTable struct {
	ProtectedResourceTypes []string         `yaml:"protected_resource_types"`
	ProtectedLevel         domain.RiskLevel `yaml:"protected_level"`
	StateFields            []string         `yaml:"state_fields"`
	StateFieldLevel        domain.RiskLevel `yaml:"state_field_level"`
	UnknownToolLevel       domain.RiskLevel `yaml:"unknown_tool_level"`
}

func DefaultFallbackTable() FallbackTable {
	return FallbackTable{
		ProtectedResourceTypes: []string{"invoice", "payment", "journal_entry", "bank_account", "tax_rate", "employee"},
		ProtectedLevel:         domain.RiskCritical,
		StateFields:            []string{"status", "state", "stage", "active", "archived", "deleted"},
		StateFieldLevel:        domain.RiskHigh,
		UnknownToolLevel:       domain.RiskMedium,
	}
}

// ParseFallbackTable decodes a YAML table; omitted levels keep their defaults.
func ParseFallbackTable(input []byte) (FallbackTable, error) {
	table := DefaultFallbackTable()
	table.ProtectedResourceTypes = nil
	table.StateFields = nil
	if err := yaml.Unmarshal(input, &table); err != nil {
		return FallbackTable{}, fmt.Errorf("decode fallback table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return FallbackTable{}, err
	}
	return table, nil
}

func LoadFallbackTable(path string) (FallbackTable, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return FallbackTable{}, fmt.Errorf("read fallback table: %w", err)
	}
	return ParseFallbackTable(blob)
}

func (t FallbackTable) Validate() error {
	if !t.ProtectedLevel.Valid() {
		return fmt.Errorf("fallback protected_level is invalid")
	}
	if !t.StateFieldLevel.Valid() {
		return fmt.Errorf("fallback state_field_level is invalid")
	}
	if !t.UnknownToolLevel.Valid() {
		return fmt.Errorf("fallback unknown_tool_level is invalid")
	}
	return nil
}

// FallbackInput describes an action for the fallback heuristics.
type FallbackInput struct {
	ToolName     string
	KnownTool    bool
	Write        bool
	ResourceType string
	Fields       []string
}

// EvaluateFallback returns the minimum level the heuristics require, and the
// warnings explaining each raise. It never returns a level below low.
func (t FallbackTable) EvaluateFallback(in FallbackInput) (domain.RiskLevel, []string) {
	level := domain.RiskLow
	var warnings []string
	if !in.KnownTool {
		level = level.Max(t.UnknownToolLevel)
		warnings = append(warnings, fmt.Sprintf("unknown tool %q: defaulting to %s risk", in.ToolName, t.UnknownToolLevel))
	}
	if !in.Write {
		return level, warnings
	}
	if containsFold(t.ProtectedResourceTypes, in.ResourceType) {
		level = level.Max(t.ProtectedLevel)
		warnings = append(warnings, fmt.Sprintf("write to protected resource type %q", in.ResourceType))
	}
	for _, field := range in.Fields {
		if containsFold(t.StateFields, field) {
			level = level.Max(t.StateFieldLevel)
			warnings = append(warnings, fmt.Sprintf("write changes state field %q", field))
			break
		}
	}
	return level, warnings
}

func containsFold(list []string, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	return slices.ContainsFunc(list, func(item string) bool {
		return strings.ToLower(strings.TrimSpace(item)) == value
	})
}
