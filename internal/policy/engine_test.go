package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateCreateQuotaAndDenyRule(t *testing.T) {
	engine := NewFromConfig(Config{
		DefaultAction: "allow",
		Quotas:        Quotas{MaxOpenPerRequester: 2},
		Rules: []Rule{
			{
				Name:   "no-crt-monitors",
				Effect: "deny",
				Reason: "hazardous_category",
				Match:  RuleMatch{Action: "create", Category: "monitors", Subtype: "crt"},
			},
		},
	})

	d := engine.EvaluateCreate(CreateInput{RequesterID: "u1", Category: "Monitors", Subtype: "CRT"})
	if d.Allowed {
		t.Fatalf("expected deny decision")
	}
	if d.ReasonCode != "hazardous_category" || d.Message != "no-crt-monitors: hazardous_category" {
		t.Fatalf("unexpected decision: %#v", d)
	}

	d = engine.EvaluateCreate(CreateInput{RequesterID: "u1", Category: "laptops", OpenRequests: 2})
	if d.Allowed || d.ReasonCode != "quota_open_requests_exceeded" {
		t.Fatalf("expected quota deny, got %#v", d)
	}

	d = engine.EvaluateCreate(CreateInput{RequesterID: "u1", Category: "laptops", OpenRequests: 1})
	if !d.Allowed || d.ReasonCode != "default_allow" {
		t.Fatalf("expected default allow, got %#v", d)
	}
}

func TestEvaluateClaimRulesAreActionScoped(t *testing.T) {
	engine := NewFromConfig(Config{
		DefaultAction: "deny",
		Quotas:        Quotas{MaxAcceptedPerAgent: 3},
		Rules: []Rule{
			{Name: "batteries-certified", Effect: "allow", Match: RuleMatch{Action: "claim", Category: "batteries", AgentID: "a1"}},
			{Name: "anything-else", Effect: "allow", Match: RuleMatch{Action: "create"}},
		},
	})
	if d := engine.EvaluateClaim(ClaimInput{AgentID: "a1", Category: "batteries"}); !d.Allowed {
		t.Fatalf("expected certified agent to be allowed: %#v", d)
	}
	if d := engine.EvaluateClaim(ClaimInput{AgentID: "a2", Category: "batteries"}); d.Allowed || d.ReasonCode != "default_deny" {
		t.Fatalf("expected default deny for a2, got %#v", d)
	}
	if d := engine.EvaluateClaim(ClaimInput{AgentID: "a1", Category: "batteries", AcceptedRequests: 3}); d.Allowed || d.ReasonCode != "quota_accepted_requests_exceeded" {
		t.Fatalf("expected accepted quota deny, got %#v", d)
	}
	if !engine.NeedsAcceptedCount() || engine.NeedsOpenCount() {
		t.Fatalf("unexpected quota flags")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	e, err := Load("")
	if err != nil || !e.IsNoop() {
		t.Fatalf("expected allow-all engine for empty path, got %v %v", e, err)
	}
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `default_action: allow
quotas:
  max_open_per_requester: 5
rules:
  - name: no-appliances
    effect: deny
    reason: category_not_served
    match:
      category: appliances
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	e, err = Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if e.IsNoop() || !e.NeedsOpenCount() {
		t.Fatalf("expected active policy")
	}
	if d := e.EvaluateClaim(ClaimInput{AgentID: "a1", Category: "appliances"}); d.Allowed || d.ReasonCode != "category_not_served" {
		t.Fatalf("expected unscoped rule to apply to claims, got %#v", d)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
