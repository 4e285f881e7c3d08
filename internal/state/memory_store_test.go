package state

import (
	"context"
	"testing"
)

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformance(t, NewMemoryStore(), "mem")
}

func TestMemoryStoreAuditChainVerifies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for _, action := range []string{"pickup_create", "pickup_claim", "pickup_complete"} {
		if err := m.AppendAuditEvent(ctx, AuditEventRecord{Action: action, Actor: "a1", RequestID: "r1"}); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}
	newest, err := m.ListAuditEvents(ctx, AuditQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	oldest := make([]AuditEventRecord, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		oldest = append(oldest, newest[i])
	}
	if !VerifyAuditChain(oldest) {
		t.Fatalf("expected chain to verify")
	}
	oldest[1].Details = "tampered"
	if VerifyAuditChain(oldest) {
		t.Fatalf("expected tampered chain to fail verification")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	req := RequestRecord{ID: "r1", RequesterID: "u1", Status: StatusPending, Location: &GeoPoint{Lat: 1, Lng: 2}}
	if err := m.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _, _ := m.GetRequest(ctx, "r1")
	got.Location.Lat = 99
	again, _, _ := m.GetRequest(ctx, "r1")
	if again.Location.Lat != 1 {
		t.Fatalf("store leaked internal pointer")
	}
	if err := m.CreateRequest(ctx, req); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}
