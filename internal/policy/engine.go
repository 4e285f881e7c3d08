// Package policy decides whether a pickup may be created or claimed, from
// ordered category rules and per-actor quotas loaded from YAML.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Quotas struct {
	// MaxOpenPerRequester bounds pending plus accepted requests per requester.
	MaxOpenPerRequester int `yaml:"max_open_per_requester"`
	// MaxAcceptedPerAgent bounds the accepted requests one agent may hold.
	MaxAcceptedPerAgent int `yaml:"max_accepted_per_agent"`
}

type RuleMatch struct {
	Action      string `yaml:"action"` // create|claim
	Category    string `yaml:"category"`
	Subtype     string `yaml:"subtype"`
	RequesterID string `yaml:"requester_id"`
	AgentID     string `yaml:"agent_id"`
}

type Rule struct {
	Name   string    `yaml:"name"`
	Effect string    `yaml:"effect"` // allow|deny
	Reason string    `yaml:"reason"`
	Match  RuleMatch `yaml:"match"`
}

type Config struct {
	DefaultAction string `yaml:"default_action"` // allow|deny
	Rules         []Rule `yaml:"rules"`
	Quotas        Quotas `yaml:"quotas"`
}

type Decision struct {
	Allowed    bool
	ReasonCode string
	Rule       string
	Message    string
}

type CreateInput struct {
	RequesterID  string
	Category     string
	Subtype      string
	OpenRequests int
}

type ClaimInput struct {
	AgentID          string
	Category         string
	Subtype          string
	AcceptedRequests int
}

type Engine struct {
	defaultAction string
	rules         []Rule
	quotas        Quotas
	noop          bool
}

func NewAllowAll() *Engine {
	return &Engine{defaultAction: "allow", noop: true}
}

// Load reads a policy file. An empty path allows everything.
func Load(path string) (*Engine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg Config) *Engine {
	e := &Engine{
		defaultAction: normalizeAction(cfg.DefaultAction),
		rules:         make([]Rule, 0, len(cfg.Rules)),
		quotas:        cfg.Quotas,
	}
	for _, r := range cfg.Rules {
		r.Effect = normalizeAction(r.Effect)
		if r.Effect == "" {
			r.Effect = "deny"
		}
		r.Match.Action = strings.ToLower(strings.TrimSpace(r.Match.Action))
		e.rules = append(e.rules, r)
	}
	if e.defaultAction == "" {
		e.defaultAction = "allow"
	}
	if e.defaultAction == "allow" && len(e.rules) == 0 && cfg.Quotas == (Quotas{}) {
		e.noop = true
	}
	return e
}

func (e *Engine) IsNoop() bool { return e == nil || e.noop }

// NeedsOpenCount reports whether EvaluateCreate reads OpenRequests.
func (e *Engine) NeedsOpenCount() bool { return e != nil && e.quotas.MaxOpenPerRequester > 0 }

// NeedsAcceptedCount reports whether EvaluateClaim reads AcceptedRequests.
func (e *Engine) NeedsAcceptedCount() bool { return e != nil && e.quotas.MaxAcceptedPerAgent > 0 }

func (e *Engine) EvaluateCreate(in CreateInput) Decision {
	if e.IsNoop() {
		return allowDefault()
	}
	if limit := e.quotas.MaxOpenPerRequester; limit > 0 && in.OpenRequests >= limit {
		return Decision{
			Allowed:    false,
			ReasonCode: "quota_open_requests_exceeded",
			Rule:       "quotas.max_open_per_requester",
			Message:    fmt.Sprintf("open requests %d reached max_open_per_requester %d", in.OpenRequests, limit),
		}
	}
	return e.evaluateRules(RuleMatch{
		Action:      "create",
		Category:    in.Category,
		Subtype:     in.Subtype,
		RequesterID: in.RequesterID,
	})
}

func (e *Engine) EvaluateClaim(in ClaimInput) Decision {
	if e.IsNoop() {
		return allowDefault()
	}
	if limit := e.quotas.MaxAcceptedPerAgent; limit > 0 && in.AcceptedRequests >= limit {
		return Decision{
			Allowed:    false,
			ReasonCode: "quota_accepted_requests_exceeded",
			Rule:       "quotas.max_accepted_per_agent",
			Message:    fmt.Sprintf("accepted requests %d reached max_accepted_per_agent %d", in.AcceptedRequests, limit),
		}
	}
	return e.evaluateRules(RuleMatch{
		Action:   "claim",
		Category: in.Category,
		Subtype:  in.Subtype,
		AgentID:  in.AgentID,
	})
}

func (e *Engine) evaluateRules(input RuleMatch) Decision {
	for _, r := range e.rules {
		if !matches(r.Match, input) {
			continue
		}
		reason := "policy_rule_" + r.Effect
		if r.Reason != "" {
			reason = strings.TrimSpace(r.Reason)
		}
		msg := reason
		if r.Name != "" {
			msg = r.Name + ": " + reason
		}
		return Decision{
			Allowed:    r.Effect == "allow",
			ReasonCode: reason,
			Rule:       r.Name,
			Message:    msg,
		}
	}
	if e.defaultAction == "deny" {
		return Decision{
			Allowed:    false,
			ReasonCode: "default_deny",
			Rule:       "default_action",
			Message:    "request denied by default_action=deny",
		}
	}
	return allowDefault()
}

func allowDefault() Decision {
	return Decision{
		Allowed:    true,
		ReasonCode: "default_allow",
		Rule:       "default_action",
		Message:    "request allowed by default_action=allow",
	}
}

func matches(rule RuleMatch, in RuleMatch) bool {
	if rule.Action != "" && rule.Action != in.Action {
		return false
	}
	if rule.Category != "" && !strings.EqualFold(rule.Category, in.Category) {
		return false
	}
	if rule.Subtype != "" && !strings.EqualFold(rule.Subtype, in.Subtype) {
		return false
	}
	if rule.RequesterID != "" && rule.RequesterID != in.RequesterID {
		return false
	}
	if rule.AgentID != "" && rule.AgentID != in.AgentID {
		return false
	}
	return true
}

func normalizeAction(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "allow":
		return "allow"
	case "deny":
		return "deny"
	default:
		return ""
	}
}
