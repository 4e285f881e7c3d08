package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/yashp387/DigitalDump-sub001/internal/pickup"
	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

func TestAuditEndpointFiltersAndCSV(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{Tokens: testTokens})
	h := srv.Handler()

	body, _ := json.Marshal(createBody(1, 1))
	w := reqWithToken(t, h, http.MethodPost, "/v1/pickups", "req-token", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created collectapi.Pickup
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := 0; i < 2; i++ {
		reqWithToken(t, h, http.MethodPost, "/v1/pickups/"+created.ID+"/claim", "agent-token", nil)
	}

	w = reqWithToken(t, h, http.MethodGet, "/v1/admin/audit?action=pickup_claim&result=conflict&limit=10", "admin-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for filtered audit, got %d body=%s", w.Code, w.Body.String())
	}
	var audits collectapi.ListAuditEventsResponse
	if err := json.NewDecoder(w.Body).Decode(&audits); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	if audits.Returned != 1 {
		t.Fatalf("expected one conflicting claim, got %d", audits.Returned)
	}
	ev := audits.Events[0]
	if ev.Actor != "a1" || ev.ActorRole != pickup.RoleAgent || ev.RequestID != created.ID || ev.EventHash == "" {
		t.Fatalf("unexpected audit event %#v", ev)
	}
	if !strings.Contains(ev.Details, "already accepted by you") {
		t.Fatalf("expected diagnostic reason in details, got %q", ev.Details)
	}

	w = reqWithToken(t, h, http.MethodGet, "/v1/admin/audit?request_id="+created.ID, "admin-token", nil)
	audits = collectapi.ListAuditEventsResponse{}
	if err := json.NewDecoder(w.Body).Decode(&audits); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	if audits.Returned != 3 || audits.Events[0].PrevHash != audits.Events[1].EventHash {
		t.Fatalf("expected 3 chained events newest first, got %#v", audits.Events)
	}

	w = reqWithToken(t, h, http.MethodGet, "/v1/admin/audit?format=csv&limit=5", "admin-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for csv audit export, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected csv content type: %s", w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Body.String(), "id,created_at,action,actor,actor_role,request_id,result") {
		t.Fatalf("unexpected csv header: %s", w.Body.String())
	}

	for _, q := range []string{"limit=0", "offset=-1", "from=yesterday"} {
		w = reqWithToken(t, h, http.MethodGet, "/v1/admin/audit?"+q, "admin-token", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", q, w.Code)
		}
	}
	w = reqWithToken(t, h, http.MethodGet, "/v1/admin/audit", "agent-token", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent, got %d", w.Code)
	}
}
