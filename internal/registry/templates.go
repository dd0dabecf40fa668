package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/mtzanidakis/swarmbot/internal/agent"
	"github.com/mtzanidakis/swarmbot/internal/config"
)

// Template is a named agent recipe: a body type plus the role and
// capability bundle agents built from it start with.
type Template struct {
	Name         string
	Type         string
	AgentName    string
	Role         agent.Role
	Description  string
	Capabilities []agent.Capability
	Settings     map[string]any
}

// Params are caller overrides applied on top of a template. Capabilities
// replace the template's bundle when non-nil; settings are merged per key.
type Params struct {
	ID           string
	Name         string
	Role         agent.Role
	Capabilities []agent.Capability
	Settings     map[string]any
}

// Spec is the fully merged description handed to a type factory.
type Spec struct {
	Type         string
	Template     string
	Name         string
	Role         agent.Role
	Capabilities []agent.Capability
	Settings     map[string]any
}

func (t Template) apply(p Params) Spec {
	s := Spec{
		Type:         t.Type,
		Template:     t.Name,
		Name:         t.AgentName,
		Role:         t.Role,
		Capabilities: slices.Clone(t.Capabilities),
		Settings:     maps.Clone(t.Settings),
	}
	if p.Name != "" {
		s.Name = p.Name
	}
	if p.Role != "" {
		s.Role = p.Role
	}
	if p.Capabilities != nil {
		s.Capabilities = slices.Clone(p.Capabilities)
	}
	if len(p.Settings) > 0 {
		if s.Settings == nil {
			s.Settings = make(map[string]any, len(p.Settings))
		}
		maps.Copy(s.Settings, p.Settings)
	}
	return s
}

func DefaultTemplates() []Template {
	return []Template{
		{
			Name:        "research_assistant",
			Type:        "echo",
			AgentName:   "Research Assistant",
			Role:        agent.RoleResearcher,
			Description: "Searches, summarizes and fact-checks information",
			Capabilities: []agent.Capability{
				{Name: "web_search", Description: "Search the web", RequiredTools: []string{"web_search"}, Confidence: 0.9},
				{Name: "summarize", Description: "Condense documents", Confidence: 0.85},
				{Name: "fact_check", Description: "Verify claims against sources", RequiredTools: []string{"web_search"}, Confidence: 0.8},
			},
		},
		{
			Name:        "code_reviewer",
			Type:        "echo",
			AgentName:   "Code Reviewer",
			Role:        agent.RoleSpecialist,
			Description: "Reviews code for defects, style and security issues",
			Capabilities: []agent.Capability{
				{Name: "code_review", Description: "Review a change", RequiredTools: []string{"git"}, Confidence: 0.9},
				{Name: "security_audit", Description: "Look for vulnerabilities", RequiredTools: []string{"git"}, Confidence: 0.8},
				{Name: "style_check", Description: "Check formatting and lint", Confidence: 0.85},
			},
		},
		{
			Name:        "task_coordinator",
			Type:        "echo",
			AgentName:   "Task Coordinator",
			Role:        agent.RoleCoordinator,
			Description: "Breaks down work and delegates it",
			Capabilities: []agent.Capability{
				{Name: "task_planning", Description: "Plan multi-step work", Confidence: 0.9},
				{Name: "delegation", Description: "Hand work to other agents", Confidence: 0.85},
			},
		},
		{
			Name:        "system_monitor",
			Type:        "echo",
			AgentName:   "System Monitor",
			Role:        agent.RoleMonitor,
			Description: "Watches system health",
			Capabilities: []agent.Capability{
				{Name: "health_check", Description: "Probe services", Confidence: 0.95},
				{Name: "metrics_collection", Description: "Gather runtime metrics", Confidence: 0.9},
			},
		},
		{
			Name:        "data_validator",
			Type:        "echo",
			AgentName:   "Data Validator",
			Role:        agent.RoleValidator,
			Description: "Validates records against schemas",
			Capabilities: []agent.Capability{
				{Name: "data_validation", Description: "Check record consistency", Confidence: 0.9},
				{Name: "schema_check", Description: "Validate against a schema", Confidence: 0.9},
			},
		},
	}
}

// TemplateFromConfig converts a YAML template entry.
func TemplateFromConfig(name string, tc config.TemplateConfig) (Template, error) {
	t := Template{
		Name:         name,
		Type:         tc.Type,
		AgentName:    tc.Name,
		Description:  tc.Description,
		Capabilities: CapabilitiesFromConfig(tc.Capabilities),
		Settings:     maps.Clone(tc.Params),
	}
	if t.Type == "" {
		return Template{}, fmt.Errorf("template %s: missing type", name)
	}
	if tc.Role != "" {
		role, err := agent.ParseRole(tc.Role)
		if err != nil {
			return Template{}, fmt.Errorf("template %s: %w", name, err)
		}
		t.Role = role
	}
	return t, nil
}

func CapabilitiesFromConfig(cc []config.CapabilityConfig) []agent.Capability {
	if cc == nil {
		return nil
	}
	caps := make([]agent.Capability, 0, len(cc))
	for _, c := range cc {
		conf := c.Confidence
		if conf == 0 {
			conf = 1.0
		}
		caps = append(caps, agent.Capability{
			Name:          c.Name,
			Description:   c.Description,
			RequiredTools: slices.Clone(c.Tools),
			Confidence:    conf,
		})
	}
	return caps
}
