// Package policy evaluates a JSON policy document to an allow/deny
// decision for tool calls. The core consumes it as a yes/no gate in
// front of call_api; a deny short-circuits before any network call.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/unblu/unblu-mcp/internal/apierr"
)

// Gate is the authorization boundary consulted before executing a tool.
type Gate interface {
	// Authorize decides whether tool (with the given operation id, ""
	// for discovery tools) may run.
	Authorize(tool, operationID string) Decision
}

// Decision is the gate's verdict. Rule names the policy rule that
// decided, or "default" when the default effect applied.
type Decision struct {
	Allowed bool
	Rule    string
}

// AllowAll is the gate used when no policy file is configured.
type AllowAll struct{}

func (AllowAll) Authorize(string, string) Decision {
	return Decision{Allowed: true, Rule: "no-policy"}
}

// Policy is a parsed policy document:
//
//	{
//	  "version": "1.0",
//	  "name": "unblu-mcp default policy",
//	  "default_effect": "deny",
//	  "rules": [
//	    {"name": "allow-read-api-calls", "effect": "allow",
//	     "resource_conditions": [
//	       {"path": "attributes.args.operation_id",
//	        "operator": "regex", "value": "^[a-z]+Get"}]}
//	  ]
//	}
//
// Deny rules always win over allow rules; when no rule matches, the
// default effect applies.
type Policy struct {
	Version       string `json:"version"`
	Name          string `json:"name"`
	DefaultEffect string `json:"default_effect"`
	Rules         []Rule `json:"rules"`
}

// Rule matches when all of its resource conditions match.
type Rule struct {
	Name               string      `json:"name"`
	Effect             string      `json:"effect"`
	ResourceConditions []Condition `json:"resource_conditions"`
}

// Condition tests one attribute of the call. Supported paths:
// attributes.tool_name, attributes.args.operation_id and
// attributes.mcp_method. Supported operators: equals, in, regex.
type Condition struct {
	Path     string `json:"path"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`

	re *regexp.Regexp
}

// Load reads and parses a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Configuration(
			"pass a readable policy JSON file", "read policy file %s: %v", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a policy document, compiling regex
// conditions up front so a bad pattern fails at startup, not per call.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apierr.Configuration(
			"fix the policy JSON syntax", "parse policy: %v", err)
	}
	if p.DefaultEffect != "allow" && p.DefaultEffect != "deny" {
		return nil, apierr.Configuration(
			`set default_effect to "allow" or "deny"`,
			"policy default_effect %q is invalid", p.DefaultEffect)
	}
	for ri := range p.Rules {
		rule := &p.Rules[ri]
		if rule.Effect != "allow" && rule.Effect != "deny" {
			return nil, apierr.Configuration(
				`set effect to "allow" or "deny"`,
				"policy rule %q has invalid effect %q", rule.Name, rule.Effect)
		}
		for ci := range rule.ResourceConditions {
			cond := &rule.ResourceConditions[ci]
			switch cond.Operator {
			case "equals", "in":
			case "regex":
				pattern, ok := cond.Value.(string)
				if !ok {
					return nil, apierr.Configuration(
						"regex conditions take a string value",
						"policy rule %q: regex value is not a string", rule.Name)
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, apierr.Configuration(
						"fix the regex pattern",
						"policy rule %q: %v", rule.Name, err)
				}
				cond.re = re
			default:
				return nil, apierr.Configuration(
					"supported operators: equals, in, regex",
					"policy rule %q has unknown operator %q", rule.Name, cond.Operator)
			}
		}
	}
	return &p, nil
}

// Authorize evaluates the call against every rule. Any matching deny
// rule denies; otherwise any matching allow rule allows; otherwise the
// default effect decides.
func (p *Policy) Authorize(tool, operationID string) Decision {
	attrs := map[string]string{
		"attributes.mcp_method":        "tools/call",
		"attributes.tool_name":         tool,
		"attributes.args.operation_id": operationID,
	}

	var allowed *Rule
	for ri := range p.Rules {
		rule := &p.Rules[ri]
		if !rule.matches(attrs) {
			continue
		}
		if rule.Effect == "deny" {
			return Decision{Allowed: false, Rule: rule.Name}
		}
		if allowed == nil {
			allowed = rule
		}
	}
	if allowed != nil {
		return Decision{Allowed: true, Rule: allowed.Name}
	}
	return Decision{Allowed: p.DefaultEffect == "allow", Rule: "default"}
}

func (r *Rule) matches(attrs map[string]string) bool {
	for i := range r.ResourceConditions {
		cond := &r.ResourceConditions[i]
		val, ok := attrs[cond.Path]
		if !ok || !cond.matches(val) {
			return false
		}
	}
	return len(r.ResourceConditions) > 0
}

func (c *Condition) matches(val string) bool {
	switch c.Operator {
	case "equals":
		s, ok := c.Value.(string)
		return ok && s == val
	case "in":
		items, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if s, ok := item.(string); ok && s == val {
				return true
			}
		}
		return false
	case "regex":
		return c.re != nil && c.re.MatchString(val)
	default:
		return false
	}
}

var _ Gate = (*Policy)(nil)
var _ Gate = AllowAll{}

// String renders the decision for error messages.
func (d Decision) String() string {
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	return fmt.Sprintf("%s (rule: %s)", verdict, d.Rule)
}
