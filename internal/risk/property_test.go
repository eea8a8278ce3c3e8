package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/animus-labs/autopilot/internal/domain"
)

func genLevel() gopter.Gen {
	return gen.IntRange(int(domain.RiskLow), int(domain.RiskCritical)).Map(func(v int) domain.RiskLevel {
		return domain.RiskLevel(v)
	})
}

func TestEvaluateNeverLowersRisk(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	toolNames := gen.OneConstOf("update_record", "create_record", "archive_record", "propose_draft", "unknown_tool")
	resourceTypes := gen.OneConstOf("deal", "invoice", "contact")

	properties.Property("result is at least every matching rule and protected minimum", prop.ForAll(
		func(tool string, resourceType string, protected domain.RiskLevel, rule domain.RiskLevel, fail bool) bool {
			store := &fakePolicyStore{
				protected: map[string]domain.ProtectedResource{
					resourceType: {ResourceType: resourceType, MinimumLevel: protected},
				},
				policies: map[string][]domain.RiskPolicy{
					tool: {{ToolName: tool, RiskLevel: rule}},
				},
			}
			if fail {
				store.err = errors.New("down")
			}
			e := newTestEvaluator(store)
			got := e.Evaluate(context.Background(), "acme", tool, domain.Metadata{
				"resource_type": resourceType,
				"record_id":     "r-1",
				"values":        map[string]any{"name": "x"},
			})

			baseline := domain.RiskMedium
			if tl, ok := e.Tools.Lookup(tool); ok {
				baseline = tl.Baseline()
			}
			if !got.RiskLevel.AtLeast(baseline) {
				return false
			}
			if !fail && (!got.RiskLevel.AtLeast(protected) || !got.RiskLevel.AtLeast(rule)) {
				return false
			}
			return got.RequiresApproval == (got.RiskLevel != domain.RiskLow) && got.RiskLevel.Valid()
		},
		toolNames, resourceTypes, genLevel(), genLevel(), gen.Bool(),
	))

	properties.Property("adding a rule never lowers the result", prop.ForAll(
		func(base domain.RiskLevel, extra domain.RiskLevel) bool {
			one := &fakePolicyStore{policies: map[string][]domain.RiskPolicy{
				"update_record": {{ToolName: "update_record", RiskLevel: base}},
			}}
			two := &fakePolicyStore{policies: map[string][]domain.RiskPolicy{
				"update_record": {{ToolName: "update_record", RiskLevel: base}, {ToolName: "update_record", RiskLevel: extra}},
			}}
			in := updateParams("deal", map[string]any{"name": "x"})
			a := newTestEvaluator(one).Evaluate(context.Background(), "acme", "update_record", in)
			b := newTestEvaluator(two).Evaluate(context.Background(), "acme", "update_record", in)
			return b.RiskLevel.AtLeast(a.RiskLevel)
		},
		genLevel(), genLevel(),
	))

	properties.TestingRun(t)
}
