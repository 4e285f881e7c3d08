package state

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestMongoStoreIntegration(t *testing.T) {
	uri := os.Getenv("COLLECT_MONGO_URI_INTEGRATION")
	if uri == "" {
		t.Skip("set COLLECT_MONGO_URI_INTEGRATION to run Mongo integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewMongoStore(ctx, uri, "digitaldump_it")
	if err != nil {
		t.Fatalf("new mongo store: %v", err)
	}
	defer store.Close()
	runStoreConformance(t, store, uniquePrefix("mongo"))
}

func TestGeoJSONOrdersLngLat(t *testing.T) {
	g := toGeoJSON(&GeoPoint{Lat: 12.5, Lng: 77.25})
	if g.Type != "Point" || g.Coordinates[0] != 77.25 || g.Coordinates[1] != 12.5 {
		t.Fatalf("unexpected geojson: %+v", g)
	}
	back := fromGeoJSON(g)
	if back.Lat != 12.5 || back.Lng != 77.25 {
		t.Fatalf("unexpected roundtrip: %+v", back)
	}
	if toGeoJSON(nil) != nil || fromGeoJSON(nil) != nil {
		t.Fatalf("nil points must stay nil")
	}
}

func uniquePrefix(kind string) string {
	return kind + "-" + time.Now().UTC().Format("20060102150405.000000000")
}

// memAuditLog mirrors the Mongo audit documents in memory. Moving the head to
// a sequence listed in failTo fails once, as if the connection dropped after
// the event was written.
type memAuditLog struct {
	seq         int64
	hash        string
	events      map[int64]auditDoc
	failTo      map[int64]bool
}

func (l *memAuditLog) head(context.Context) (int64, string, error) { return l.seq, l.hash, nil }

func (l *memAuditLog) event(_ context.Context, seq int64) (auditDoc, bool, error) {
	doc, ok := l.events[seq]
	return doc, ok, nil
}

func (l *memAuditLog) insert(_ context.Context, doc auditDoc) (bool, error) {
	if _, ok := l.events[doc.ID]; ok {
		return false, nil
	}
	l.events[doc.ID] = doc
	return true, nil
}

func (l *memAuditLog) advance(_ context.Context, from, to int64, hash string) error {
	if l.failTo[to] {
		delete(l.failTo, to)
		return errors.New("connection reset")
	}
	if l.seq == from {
		l.seq, l.hash = to, hash
	}
	return nil
}

func (l *memAuditLog) chain() []AuditEventRecord {
	out := make([]AuditEventRecord, 0, len(l.events))
	for i := int64(1); i <= int64(len(l.events)); i++ {
		doc, ok := l.events[i]
		if !ok {
			break
		}
		out = append(out, doc.record())
	}
	return out
}

func TestAppendChainedSurvivesInterruptedHeadMove(t *testing.T) {
	ctx := context.Background()
	l := &memAuditLog{events: map[int64]auditDoc{}, failTo: map[int64]bool{1: true}}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := appendChained(ctx, l, AuditEventRecord{Action: "pickup.claim", Actor: "a1", Result: "ok", CreatedAt: at}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if len(l.events) != 1 || l.seq != 0 {
		t.Fatalf("expected event written with head left behind, got %d events head=%d", len(l.events), l.seq)
	}
	if err := appendChained(ctx, l, AuditEventRecord{Action: "pickup.complete", Actor: "a1", Result: "ok", CreatedAt: at.Add(time.Minute)}); err != nil {
		t.Fatalf("second append: %v", err)
	}
	events := l.chain()
	if len(events) != 2 || l.seq != 2 {
		t.Fatalf("expected two chained events and head at 2, got %d events head=%d", len(events), l.seq)
	}
	if events[1].PrevHash != events[0].EventHash {
		t.Fatalf("second event must link to the first")
	}
	if !VerifyAuditChain(events) {
		t.Fatalf("audit chain does not verify: %+v", events)
	}
}

func TestAppendChainedHealsRepeatedInterruptions(t *testing.T) {
	ctx := context.Background()
	l := &memAuditLog{events: map[int64]auditDoc{}}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := appendChained(ctx, l, AuditEventRecord{Action: "pickup.claim", Actor: "a1", Result: "ok", CreatedAt: at.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// Two interrupted appends in a row.
	l.failTo = map[int64]bool{4: true, 5: true}
	for i := 3; i < 5; i++ {
		if err := appendChained(ctx, l, AuditEventRecord{Action: "pickup.cancel", Actor: "admin", Result: "ok", CreatedAt: at.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	events := l.chain()
	if len(events) != 5 || !VerifyAuditChain(events) {
		t.Fatalf("expected five verified events, got %d", len(events))
	}
	if l.seq != 4 {
		t.Fatalf("expected head healed to 4 and left behind the last event, got %d", l.seq)
	}
}
