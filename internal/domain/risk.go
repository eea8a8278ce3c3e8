package domain

import (
	"fmt"
	"strings"
)

// RiskLevel is an ordered severity. The zero value is invalid.
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

// RiskLevels lists every valid level in ascending order.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

func (l RiskLevel) Valid() bool {
	return l >= RiskLow && l <= RiskCritical
}

func (l RiskLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("RiskLevel(%d)", uint8(l))
	}
	return riskNames[l]
}

// Compare returns -1, 0 or 1.
func (l RiskLevel) Compare(other RiskLevel) int {
	switch {
	case l < other:
		return -1
	case l > other:
		return 1
	default:
		return 0
	}
}

func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l >= other
}

// Max returns the higher of two levels; an invalid level never wins.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if !other.Valid() {
		return l
	}
	if !l.Valid() || other > l {
		return other
	}
	return l
}

func ParseRiskLevel(value string) (RiskLevel, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, level := range RiskLevels() {
		if riskNames[level] == v {
			return level, nil
		}
	}
	return 0, fmt.Errorf("invalid risk level %q", value)
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// RiskPolicy raises the risk of a tool, optionally narrowed to a resource type
// and to payloads that touch a given field.
type RiskPolicy struct {
	ID           string    `json:"id,omitempty" yaml:"id,omitempty"`
	CompanyID    string    `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	ToolName     string    `json:"tool_name" yaml:"tool_name"`
	ResourceType string    `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	Field        string    `json:"field,omitempty" yaml:"field,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level" yaml:"risk_level"`
	Note         string    `json:"note,omitempty" yaml:"note,omitempty"`
}

// ProtectedResource sets a minimum risk for any mutation of a resource type.
type ProtectedResource struct {
	CompanyID    string    `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	ResourceType string    `json:"resource_type" yaml:"resource_type"`
	MinimumLevel RiskLevel `json:"minimum_level" yaml:"minimum_level"`
	Note         string    `json:"note,omitempty" yaml:"note,omitempty"`
}
