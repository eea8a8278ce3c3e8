package tools

import (
	"fmt"
	"strings"
)

type FieldChange struct {
	Field    string `json:"field"`
	Proposed any    `json:"proposed"`
}

// Preview is a human-readable description of what an action would do.
type Preview struct {
	Tool         string        `json:"tool"`
	Operation    string        `json:"operation"`
	ResourceType string        `json:"resource_type,omitempty"`
	RecordID     string        `json:"record_id,omitempty"`
	Fields       []FieldChange `json:"fields,omitempty"`
	ConfirmWrite bool          `json:"confirm_write"`
	Summary      string        `json:"summary"`
}

func previewFor(tool, operation string, p Params) Preview {
	fields := p.Fields()
	changes := make([]FieldChange, 0, len(fields))
	for _, f := range fields {
		changes = append(changes, FieldChange{Field: f, Proposed: p.Values[f]})
	}
	return Preview{
		Tool:         tool,
		Operation:    operation,
		ResourceType: p.ResourceType,
		RecordID:     p.RecordID,
		Fields:       changes,
		ConfirmWrite: p.ConfirmWrite,
		Summary:      summarize(operation, p, fields),
	}
}

func summarize(operation string, p Params, fields []string) string {
	target := orUnknown(p.ResourceType)
	if p.RecordID != "" {
		target += " " + p.RecordID
	}
	switch operation {
	case "update":
		return fmt.Sprintf("Update %s: set %s", target, joinFields(fields))
	case "create":
		return fmt.Sprintf("Create %s with %s", target, joinFields(fields))
	case "archive":
		return fmt.Sprintf("Archive %s", target)
	case "draft":
		return fmt.Sprintf("Draft changes to %s for review: %s", target, joinFields(fields))
	default:
		return fmt.Sprintf("%s %s", operation, target)
	}
}

func joinFields(fields []string) string {
	if len(fields) == 0 {
		return "no fields"
	}
	return strings.Join(fields, ", ")
}

func orUnknown(v string) string {
	if v == "" {
		return "<unknown>"
	}
	return v
}
