package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/yashp387/DigitalDump-sub001/internal/pickup"
	"github.com/yashp387/DigitalDump-sub001/internal/policy"
	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

func TestPolicyGatesCreateAndClaim(t *testing.T) {
	admission := policy.NewFromConfig(policy.Config{
		Quotas: policy.Quotas{MaxOpenPerRequester: 2, MaxAcceptedPerAgent: 1},
		Rules: []policy.Rule{
			{Name: "no-crt", Effect: "deny", Reason: "hazardous_category", Match: policy.RuleMatch{Action: "create", Subtype: "crt"}},
		},
	})
	srv, _ := newTestServer(t, nil, Options{Policy: admission})
	h := srv.Handler()

	crt := createBody(1, 1)
	crt.Category, crt.Subtype = "monitors", "crt"
	w := reqAs(t, h, http.MethodPost, "/v1/pickups", "u1", pickup.RoleRequester, crt)
	assertPolicyDenied(t, w.Code, w.Body.Bytes(), "hazardous_category")

	id1 := claimAt(t, h, "a1", 1, 1)
	var second collectapi.Pickup
	mustReqAs(t, h, http.MethodPost, "/v1/pickups", "u1", pickup.RoleRequester, createBody(1, 1), &second)

	w = reqAs(t, h, http.MethodPost, "/v1/pickups", "u1", pickup.RoleRequester, createBody(1, 1))
	assertPolicyDenied(t, w.Code, w.Body.Bytes(), "quota_open_requests_exceeded")

	w = reqAs(t, h, http.MethodPost, "/v1/pickups/"+second.ID+"/claim", "a1", pickup.RoleAgent, nil)
	assertPolicyDenied(t, w.Code, w.Body.Bytes(), "quota_accepted_requests_exceeded")

	mustReqAs(t, h, http.MethodPost, "/v1/pickups/"+id1+"/complete", "a1", pickup.RoleAgent, collectapi.CompletePickupRequest{}, nil)
	w = reqAs(t, h, http.MethodPost, "/v1/pickups/"+second.ID+"/claim", "a1", pickup.RoleAgent, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected claim after completing held pickup, got %d %s", w.Code, w.Body.String())
	}

	w = reqAs(t, h, http.MethodPost, "/v1/pickups/missing/claim", "a2", pickup.RoleAgent, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown pickup under policy, got %d", w.Code)
	}
}

func assertPolicyDenied(t *testing.T, code int, body []byte, reason string) {
	t.Helper()
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", code, body)
	}
	var resp collectapi.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Code != "policy_denied" || resp.Reason != reason {
		t.Fatalf("unexpected error body %#v", resp)
	}
}
