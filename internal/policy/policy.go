// Package policy centralises the per-entity reconciliation rules: natural
// keys, compared fields, create allow-lists and preserved destination
// fields. The built-in policy is embedded and may be overridden by a YAML
// file.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// Entity is the policy for one entity type.
type Entity struct {
	Key      []string       `yaml:"key"`
	Compare  []string       `yaml:"compare"`
	Create   []string       `yaml:"create"`
	Preserve []string       `yaml:"preserve"`
	Defaults map[string]any `yaml:"defaults"`
}

// Updatable reports whether matched records are compared and updated.
func (e Entity) Updatable() bool {
	return len(e.Compare) > 0
}

// Placeholder describes the temporary application used while replacing the
// destination's applications.
type Placeholder struct {
	Name   string `yaml:"name"`
	AppURL string `yaml:"app_url"`
}

// Policy is the complete rule set.
type Policy struct {
	Entities            map[string]Entity `yaml:"entities"`
	SecurityRuleTypes   map[string]string `yaml:"security_rule_types"`
	EmailTemplateTypes  []string          `yaml:"email_template_types"`
	PermissionBatchSize int               `yaml:"permission_batch_size"`
	Placeholder         Placeholder       `yaml:"placeholder_application"`
}

// Default returns the embedded policy.
func Default() *Policy {
	p, err := parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("embedded policy is invalid: %v", err))
	}
	return p
}

// Load returns the embedded policy with the file at path layered on top.
// Entities named in the file replace the built-in entry wholesale; other
// top-level keys replace the built-in value when set. An empty path returns
// the default.
func Load(path string) (*Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}

	for name, e := range override.Entities {
		p.Entities[name] = e
	}
	if len(override.SecurityRuleTypes) > 0 {
		p.SecurityRuleTypes = override.SecurityRuleTypes
	}
	if len(override.EmailTemplateTypes) > 0 {
		p.EmailTemplateTypes = override.EmailTemplateTypes
	}
	if override.PermissionBatchSize > 0 {
		p.PermissionBatchSize = override.PermissionBatchSize
	}
	if override.Placeholder.Name != "" {
		p.Placeholder = override.Placeholder
	}

	return p, p.Validate()
}

func parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy YAML: %w", err)
	}
	if p.Entities == nil {
		p.Entities = make(map[string]Entity)
	}
	return &p, nil
}

// Validate checks the rules the migrators rely on.
func (p *Policy) Validate() error {
	for _, name := range []string{"tenants", "categories", "permissions", "roles", "groups", "applications", "email_templates"} {
		e, ok := p.Entities[name]
		if !ok {
			return fmt.Errorf("policy is missing entity %q", name)
		}
		if len(e.Key) == 0 {
			return fmt.Errorf("policy entity %q has no key fields", name)
		}
	}
	if p.PermissionBatchSize <= 0 {
		return fmt.Errorf("permission_batch_size must be positive")
	}
	if p.Placeholder.Name == "" {
		return fmt.Errorf("placeholder_application.name is required")
	}
	return nil
}

// Entity returns the policy for name, or an empty Entity.
func (p *Policy) Entity(name string) Entity {
	return p.Entities[name]
}

// SecurityRules returns the rule types in a stable order.
func (p *Policy) SecurityRules() []string {
	types := make([]string, 0, len(p.SecurityRuleTypes))
	for t := range p.SecurityRuleTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RuleName returns the display name of a security rule type.
func (p *Policy) RuleName(ruleType string) string {
	if name, ok := p.SecurityRuleTypes[ruleType]; ok {
		return name
	}
	return ruleType
}
