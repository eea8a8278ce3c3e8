package tools

import (
	"fmt"
	"sort"

	"github.com/animus-labs/autopilot/internal/domain"
)

const (
	ParamResourceType = "resource_type"
	ParamRecordID     = "record_id"
	ParamValues       = "values"
	ParamConfirmWrite = "confirm_write"
)

// Params is the typed view of an action's tool_params.
type Params struct {
	ResourceType string
	RecordID     string
	Values       map[string]any
	ConfirmWrite bool
}

func ParseParams(raw domain.Metadata) Params {
	p := Params{
		ResourceType: raw.String(ParamResourceType),
		RecordID:     raw.String(ParamRecordID),
		ConfirmWrite: raw.Bool(ParamConfirmWrite),
	}
	if values, ok := raw.Map(ParamValues); ok {
		p.Values = values
	}
	return p
}

// Fields returns the sorted keys of Values.
func (p Params) Fields() []string {
	fields := make([]string, 0, len(p.Values))
	for k := range p.Values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func (p Params) requireResourceType() error {
	if p.ResourceType == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidParams, ParamResourceType)
	}
	return nil
}

func (p Params) requireRecordID() error {
	if p.RecordID == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidParams, ParamRecordID)
	}
	return nil
}

func (p Params) requireValues() error {
	if len(p.Values) == 0 {
		return fmt.Errorf("%w: %s must be a non-empty object", ErrInvalidParams, ParamValues)
	}
	return nil
}
