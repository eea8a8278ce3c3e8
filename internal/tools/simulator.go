package tools

import (
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
)

type Simulation struct {
	Preview  Preview  `json:"preview"`
	Warnings []string `json:"warnings"`
}

// Simulator previews actions without contacting the external system.
type Simulator struct {
	Registry *Registry
}

func (s Simulator) Simulate(toolName string, raw domain.Metadata) Simulation {
	p := ParseParams(raw)
	tool, ok := s.Registry.Lookup(toolName)
	if !ok {
		return Simulation{
			Preview: Preview{
				Tool:         toolName,
				Operation:    "unknown",
				ResourceType: p.ResourceType,
				RecordID:     p.RecordID,
				ConfirmWrite: p.ConfirmWrite,
				Summary:      fmt.Sprintf("Unknown tool %q", toolName),
			},
			Warnings: []string{fmt.Sprintf("unknown tool %q: no preview available", toolName)},
		}
	}
	sim := Simulation{Preview: tool.Simulate(p), Warnings: []string{}}
	if err := tool.Validate(p); err != nil {
		sim.Warnings = append(sim.Warnings, err.Error())
	}
	if tool.Kind() == KindWrite && !p.ConfirmWrite {
		sim.Warnings = append(sim.Warnings, "write action without confirm_write: true")
	}
	return sim
}
