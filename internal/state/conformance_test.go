package state

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func seedRequest(id, requester string, created time.Time, loc *GeoPoint) RequestRecord {
	return RequestRecord{
		ID:           id,
		RequesterID:  requester,
		ContactName:  "Asha",
		ContactPhone: "+91-555-0100",
		Address:      "12 MG Road",
		PickupAt:     created.Add(24 * time.Hour),
		Category:     "electronics",
		Subtype:      "laptop",
		Quantity:     2,
		Location:     loc,
		Status:       StatusPending,
		CreatedAt:    created,
	}
}

func runStoreConformance(t *testing.T, store Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	id := func(s string) string { return prefix + "-" + s }

	t.Run("create and get", func(t *testing.T) {
		req := seedRequest(id("r1"), id("u1"), base, &GeoPoint{Lat: 12.97, Lng: 77.59})
		if err := store.CreateRequest(ctx, req); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, ok, err := store.GetRequest(ctx, req.ID)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if got.Status != StatusPending || got.AssignedAgentID != "" || got.Location == nil || got.Location.Lat != 12.97 {
			t.Fatalf("unexpected record: %+v", got)
		}
		if _, ok, _ := store.GetRequest(ctx, id("missing")); ok {
			t.Fatalf("expected missing request")
		}
	})

	t.Run("conditional update", func(t *testing.T) {
		claim := Transition{
			RequestID:         id("r1"),
			FromStatus:        []string{StatusPending},
			RequireUnassigned: true,
			ToStatus:          StatusAccepted,
			SetAgentID:        id("a1"),
		}
		got, ok, err := store.UpdateIfMatch(ctx, claim)
		if err != nil || !ok {
			t.Fatalf("first claim: ok=%v err=%v", ok, err)
		}
		if got.Status != StatusAccepted || got.AssignedAgentID != id("a1") || got.Version != 1 || got.AcceptedAt.IsZero() {
			t.Fatalf("unexpected claimed record: %+v", got)
		}
		claim.SetAgentID = id("a2")
		if _, ok, err := store.UpdateIfMatch(ctx, claim); err != nil || ok {
			t.Fatalf("second claim should not match: ok=%v err=%v", ok, err)
		}
		wrongAgent := Transition{RequestID: id("r1"), FromStatus: []string{StatusAccepted}, RequireAgentID: id("a2"), ToStatus: StatusCompleted}
		if _, ok, _ := store.UpdateIfMatch(ctx, wrongAgent); ok {
			t.Fatalf("completion by non-holder should not match")
		}
		complete := Transition{RequestID: id("r1"), FromStatus: []string{StatusAccepted}, RequireAgentID: id("a1"), ToStatus: StatusCompleted, ProofURI: "file://proof.jpg"}
		got, ok, err = store.UpdateIfMatch(ctx, complete)
		if err != nil || !ok {
			t.Fatalf("complete: ok=%v err=%v", ok, err)
		}
		if got.Status != StatusCompleted || got.AssignedAgentID != id("a1") || got.ProofURI != "file://proof.jpg" || got.Version != 2 {
			t.Fatalf("unexpected completed record: %+v", got)
		}
	})

	t.Run("cancel clears assignment", func(t *testing.T) {
		req := seedRequest(id("r2"), id("u1"), base.Add(time.Second), nil)
		if err := store.CreateRequest(ctx, req); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, ok, _ := store.UpdateIfMatch(ctx, Transition{RequestID: req.ID, FromStatus: []string{StatusPending}, RequireUnassigned: true, ToStatus: StatusAccepted, SetAgentID: id("a1")}); !ok {
			t.Fatalf("claim should match")
		}
		got, ok, err := store.UpdateIfMatch(ctx, Transition{
			RequestID:          req.ID,
			FromStatus:         []string{StatusPending, StatusAccepted},
			RequireRequesterID: id("u1"),
			ToStatus:           StatusCancelled,
			ClearAgent:         true,
			CancelReason:       "moved house",
			CancelledBy:        id("u1"),
		})
		if err != nil || !ok {
			t.Fatalf("cancel: ok=%v err=%v", ok, err)
		}
		if got.AssignedAgentID != "" || got.CancelReason != "moved house" || got.CancelledAt.IsZero() {
			t.Fatalf("unexpected cancelled record: %+v", got)
		}
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		req := seedRequest(id("race"), id("u2"), base.Add(2*time.Second), nil)
		if err := store.CreateRequest(ctx, req); err != nil {
			t.Fatalf("create: %v", err)
		}
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := store.UpdateIfMatch(ctx, Transition{
					RequestID:         req.ID,
					FromStatus:        []string{StatusPending},
					RequireUnassigned: true,
					ToStatus:          StatusAccepted,
					SetAgentID:        fmt.Sprintf("%s-agent-%d", prefix, i),
				})
				if err != nil {
					t.Errorf("claim %d: %v", i, err)
					return
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("claimable listing", func(t *testing.T) {
		near := seedRequest(id("near"), id("u3"), base.Add(3*time.Second), &GeoPoint{Lat: 19.07, Lng: 72.87})
		far := seedRequest(id("far"), id("u3"), base.Add(4*time.Second), &GeoPoint{Lat: 28.61, Lng: 77.20})
		for _, r := range []RequestRecord{near, far} {
			if err := store.CreateRequest(ctx, r); err != nil {
				t.Fatalf("create %s: %v", r.ID, err)
			}
		}
		box := &BoundingBox{MinLat: 18.5, MaxLat: 19.5, MinLng: 72.5, MaxLng: 73.5}
		got, err := store.ListClaimable(ctx, CandidateQuery{Box: box})
		if err != nil {
			t.Fatalf("list claimable: %v", err)
		}
		if !containsID(got, near.ID) || containsID(got, far.ID) {
			t.Fatalf("bounding box filter mismatch: %+v", ids(got))
		}
		all, err := store.ListClaimable(ctx, CandidateQuery{})
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if !containsID(all, far.ID) || containsID(all, id("r1")) || containsID(all, id("race")) {
			t.Fatalf("unexpected claimable set: %+v", ids(all))
		}
	})

	t.Run("agent and requester listings", func(t *testing.T) {
		mine, err := store.ListByAgent(ctx, id("a1"), StatusCompleted)
		if err != nil {
			t.Fatalf("list by agent: %v", err)
		}
		if len(mine) != 1 || mine[0].ID != id("r1") {
			t.Fatalf("unexpected agent listing: %+v", ids(mine))
		}
		owned, err := store.ListByRequester(ctx, id("u1"))
		if err != nil {
			t.Fatalf("list by requester: %v", err)
		}
		if len(owned) != 2 || owned[0].ID != id("r2") {
			t.Fatalf("expected newest-first requester listing, got %+v", ids(owned))
		}
	})

	t.Run("agents", func(t *testing.T) {
		if err := store.UpdateAgentLocation(ctx, id("a1"), GeoPoint{Lat: 19.0, Lng: 72.8}, base); err != nil {
			t.Fatalf("update location: %v", err)
		}
		if err := store.SetAgentStatus(ctx, id("a1"), AgentSuspended); err != nil {
			t.Fatalf("set status: %v", err)
		}
		if err := store.UpdateAgentLocation(ctx, id("a1"), GeoPoint{Lat: 19.1, Lng: 72.9}, base.Add(time.Minute)); err != nil {
			t.Fatalf("update location again: %v", err)
		}
		a, ok, err := store.GetAgent(ctx, id("a1"))
		if err != nil || !ok {
			t.Fatalf("get agent: ok=%v err=%v", ok, err)
		}
		if a.Status != AgentSuspended || a.Location == nil || a.Location.Lat != 19.1 {
			t.Fatalf("location update must keep status: %+v", a)
		}
	})

	t.Run("audit chain", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := store.AppendAuditEvent(ctx, AuditEventRecord{Action: "pickup_claim", Actor: id("a1"), RequestID: id("audit"), Result: "won"}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		events, err := store.ListAuditEvents(ctx, AuditQuery{RequestID: id("audit"), Limit: 10})
		if err != nil {
			t.Fatalf("list audits: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		for i := 0; i < len(events)-1; i++ {
			if events[i].PrevHash != events[i+1].EventHash {
				t.Fatalf("broken chain at %d: %+v", i, events)
			}
		}
	})
}

func containsID(list []RequestRecord, id string) bool {
	for _, r := range list {
		if r.ID == id {
			return true
		}
	}
	return false
}

func ids(list []RequestRecord) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.ID)
	}
	return out
}
