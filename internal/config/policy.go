package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the workflow authorization policy. It is data, not code, so
// deployments can remap roles without a release.
type Policy struct {
	// OverrideRoles may act on any approval stage in place of the resolved approver.
	OverrideRoles []string `yaml:"overrideRoles"`
	// HiringRole runs post-approval manpower actions and closes separations.
	HiringRole string          `yaml:"hiringRole"`
	Clearance  ClearancePolicy `yaml:"clearance"`
}

// ClearancePolicy configures the separation clearance board.
type ClearancePolicy struct {
	// OverrideRoles may update items in every lane and add items.
	OverrideRoles []string `yaml:"overrideRoles"`
	// LaneAccess maps an actor role to the lanes it may act on.
	LaneAccess map[string][]string `yaml:"laneAccess"`
	// Template is seeded onto a separation when it is approved.
	Template []TemplateItem `yaml:"template"`
}

// TemplateItem is one default checklist item.
type TemplateItem struct {
	Lane        string `yaml:"lane"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	DueInDays   int    `yaml:"dueInDays"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		OverrideRoles: []string{"ADMIN"},
		HiringRole:    "HR",
		Clearance: ClearancePolicy{
			OverrideRoles: []string{"HR", "ADMIN"},
			LaneAccess: map[string][]string{
				"IT":         {"IT"},
				"FINANCE":    {"FINANCE"},
				"ADMIN":      {"ADMIN_ASSETS"},
				"INSURANCE":  {"INSURANCE"},
				"USED_CARS":  {"USED_CARS"},
				"PAYROLL":    {"HR_PAYROLL"},
				"OPERATIONS": {"OPERATIONS"},
			},
			Template: []TemplateItem{
				{Lane: "IT", Title: "Return laptop and peripherals", Required: true, DueInDays: 7},
				{Lane: "IT", Title: "Revoke system and email access", Required: true, DueInDays: 1},
				{Lane: "FINANCE", Title: "Settle outstanding advances", Required: true, DueInDays: 14},
				{Lane: "ADMIN_ASSETS", Title: "Return access card and keys", Required: true, DueInDays: 7},
				{Lane: "INSURANCE", Title: "Terminate group medical coverage", Required: true, DueInDays: 30},
				{Lane: "USED_CARS", Title: "Return company vehicle", Required: false, DueInDays: 7},
				{Lane: "HR_PAYROLL", Title: "Compute final settlement", Required: true, DueInDays: 30},
				{Lane: "OPERATIONS", Title: "Complete handover", Required: true, DueInDays: 7},
			},
		},
	}
}

// LoadPolicyFile parses a YAML policy. Fields absent from the file keep
// their default values.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML over the default policy.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// Validate checks structural consistency. Lane names are validated by the
// clearance engine when the access table is built.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.HiringRole) == "" {
		return fmt.Errorf("policy: hiringRole is required")
	}
	for role, lanes := range p.Clearance.LaneAccess {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("policy: empty role in clearance.laneAccess")
		}
		if len(lanes) == 0 {
			return fmt.Errorf("policy: role %s maps to no lanes", role)
		}
	}
	for i, item := range p.Clearance.Template {
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("policy: clearance.template[%d] has no title", i)
		}
		if item.DueInDays < 0 {
			return fmt.Errorf("policy: clearance.template[%d] has negative dueInDays", i)
		}
	}
	return nil
}
