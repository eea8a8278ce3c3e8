package risk

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/autopilot/internal/domain"
)

// AllCompanies keys the section of a policy file that applies to every company.
const AllCompanies = "*"

type companyPolicies struct {
	ProtectedResources []domain.ProtectedResource `yaml:"protected_resources"`
	Policies           []domain.RiskPolicy        `yaml:"policies"`
}

type policyFile struct {
	Companies map[string]companyPolicies `yaml:"companies"`
}

// FilePolicyStore serves policies from a YAML document loaded once at startup.
//
//	companies:
//	  "*":
//	    protected_resources:
//	      - {resource_type: invoice, minimum_level: critical}
//	  acme:
//	    policies:
//	      - {tool_name: update_record, resource_type: deal, field: stage, risk_level: high, note: "..."}
type FilePolicyStore struct {
	companies map[string]companyPolicies
}

func ParseFilePolicies(input []byte) (*FilePolicyStore, error) {
	var doc policyFile
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	for company, section := range doc.Companies {
		for i, p := range section.Policies {
			if strings.TrimSpace(p.ToolName) == "" {
				return nil, fmt.Errorf("companies.%s.policies[%d].tool_name is required", company, i)
			}
			if !p.RiskLevel.Valid() {
				return nil, fmt.Errorf("companies.%s.policies[%d].risk_level is required", company, i)
			}
		}
		for i, r := range section.ProtectedResources {
			if strings.TrimSpace(r.ResourceType) == "" || !r.MinimumLevel.Valid() {
				return nil, fmt.Errorf("companies.%s.protected_resources[%d] needs resource_type and minimum_level", company, i)
			}
		}
	}
	if doc.Companies == nil {
		doc.Companies = map[string]companyPolicies{}
	}
	return &FilePolicyStore{companies: doc.Companies}, nil
}

func LoadFilePolicies(path string) (*FilePolicyStore, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseFilePolicies(blob)
}

// ProtectedResource prefers the company's own declaration over the shared one.
func (s *FilePolicyStore) ProtectedResource(_ context.Context, companyID, resourceType string) (domain.ProtectedResource, bool, error) {
	for _, key := range []string{companyID, AllCompanies} {
		for _, r := range s.companies[key].ProtectedResources {
			if strings.EqualFold(r.ResourceType, resourceType) {
				r.CompanyID = companyID
				return r, true, nil
			}
		}
	}
	return domain.ProtectedResource{}, false, nil
}

func (s *FilePolicyStore) Policies(_ context.Context, companyID, toolName string) ([]domain.RiskPolicy, error) {
	out := make([]domain.RiskPolicy, 0)
	keys := []string{companyID}
	if companyID != AllCompanies {
		keys = append(keys, AllCompanies)
	}
	for _, key := range keys {
		for _, p := range s.companies[key].Policies {
			if p.ToolName == toolName {
				p.CompanyID = companyID
				out = append(out, p)
			}
		}
	}
	return out, nil
}
