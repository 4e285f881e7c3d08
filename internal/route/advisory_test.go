package route

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

type fakeOptimizer struct {
	calls  int
	coords []Coordinate
	trip   Trip
	err    error
	block  bool
}

func (f *fakeOptimizer) Optimize(ctx context.Context, _ string, coords []Coordinate) (Trip, error) {
	f.calls++
	f.coords = coords
	if f.block {
		<-ctx.Done()
		return Trip{}, ctx.Err()
	}
	return f.trip, f.err
}

func seedAccepted(t *testing.T, store *state.MemoryStore, agentID string, points ...*state.GeoPoint) []string {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ids := make([]string, 0, len(points))
	for i, p := range points {
		id := fmt.Sprintf("%s-req-%02d", agentID, i)
		at := base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateRequest(ctx, state.RequestRecord{
			ID: id, RequesterID: "u1", Address: "addr", Category: "phones", Quantity: 1,
			Location: p, Status: state.StatusPending, CreatedAt: at, UpdatedAt: at,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if _, ok, err := store.UpdateIfMatch(ctx, state.Transition{
			RequestID: id, FromStatus: []string{state.StatusPending}, RequireUnassigned: true,
			ToStatus: state.StatusAccepted, SetAgentID: agentID, At: at,
		}); err != nil || !ok {
			t.Fatalf("accept %s: ok=%v err=%v", id, ok, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func pt(lat, lng float64) *state.GeoPoint { return &state.GeoPoint{Lat: lat, Lng: lng} }

func TestPlanNothingToOptimize(t *testing.T) {
	opt := &fakeOptimizer{}
	a := NewAdvisor(state.NewMemoryStore(), opt, Options{})
	plan, err := a.Plan(context.Background(), "z", state.GeoPoint{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.NothingToOptimize || len(plan.Stops) != 0 {
		t.Fatalf("expected nothing to optimize, got %#v", plan)
	}
	if opt.calls != 0 {
		t.Fatalf("optimizer must not be called for an empty route")
	}
}

func TestPlanRejectsTooManyWaypoints(t *testing.T) {
	store := state.NewMemoryStore()
	points := make([]*state.GeoPoint, 0, 12)
	for i := 0; i < 12; i++ {
		points = append(points, pt(10+float64(i)*0.01, 20))
	}
	seedAccepted(t, store, "a1", points...)
	opt := &fakeOptimizer{}
	_, err := NewAdvisor(store, opt, Options{}).Plan(context.Background(), "a1", state.GeoPoint{Lat: 9, Lng: 20})

	var rangeErr *InputRangeError
	if !errors.As(err, &rangeErr) || !errors.Is(err, ErrInputOutOfRange) {
		t.Fatalf("expected input range error, got %v", err)
	}
	if rangeErr.Count != 13 {
		t.Fatalf("expected count 13, got %d", rangeErr.Count)
	}
	if opt.calls != 0 {
		t.Fatalf("optimizer must not be called for out-of-range input")
	}
}

func TestPlanAcceptsMaximumWaypoints(t *testing.T) {
	store := state.NewMemoryStore()
	points := make([]*state.GeoPoint, 0, MaxWaypoints-1)
	for i := 0; i < MaxWaypoints-1; i++ {
		points = append(points, pt(10+float64(i)*0.01, 20))
	}
	ids := seedAccepted(t, store, "a1", points...)
	order := make([]int, MaxWaypoints)
	for i := range order {
		order[i] = i
	}
	opt := &fakeOptimizer{trip: Trip{Order: order, Distance: 5000, Duration: 900}}

	plan, err := NewAdvisor(store, opt, Options{}).Plan(context.Background(), "a1", state.GeoPoint{Lat: 9, Lng: 20})
	if err != nil {
		t.Fatalf("plan with %d waypoints: %v", MaxWaypoints, err)
	}
	if opt.calls != 1 || len(opt.coords) != MaxWaypoints {
		t.Fatalf("expected one call with %d coords, got calls=%d coords=%d", MaxWaypoints, opt.calls, len(opt.coords))
	}
	if len(plan.Stops) != len(ids) {
		t.Fatalf("expected %d stops, got %d", len(ids), len(plan.Stops))
	}
}

func TestPlanRejectsOriginOnly(t *testing.T) {
	cases := map[string][]*state.GeoPoint{
		"all unrouted":      {nil, nil},
		"all at the origin": {pt(5, 5), pt(5, 5)},
	}
	for name, points := range cases {
		t.Run(name, func(t *testing.T) {
			store := state.NewMemoryStore()
			seedAccepted(t, store, "a1", points...)
			opt := &fakeOptimizer{}
			_, err := NewAdvisor(store, opt, Options{}).Plan(context.Background(), "a1", state.GeoPoint{Lat: 5, Lng: 5})

			var rangeErr *InputRangeError
			if !errors.As(err, &rangeErr) || rangeErr.Count != 1 {
				t.Fatalf("expected input range error with count 1, got %v", err)
			}
			if opt.calls != 0 {
				t.Fatalf("optimizer must not be called for a single waypoint")
			}
		})
	}
}

func TestPlanCollapsesConsecutiveDuplicates(t *testing.T) {
	store := state.NewMemoryStore()
	ids := seedAccepted(t, store, "a1", pt(1, 1), pt(1, 1), pt(2, 2), nil)
	opt := &fakeOptimizer{trip: Trip{Order: []int{0, 2, 1}, Distance: 1200, Duration: 300, Geometry: []byte(`{"type":"LineString","coordinates":[]}`)}}

	plan, err := NewAdvisor(store, opt, Options{}).Plan(context.Background(), "a1", state.GeoPoint{Lat: 0, Lng: 0})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	wantCoords := []Coordinate{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 1}, {Lng: 2, Lat: 2}}
	if !reflect.DeepEqual(opt.coords, wantCoords) {
		t.Fatalf("coords = %#v, want %#v", opt.coords, wantCoords)
	}
	if len(plan.Stops) != 2 {
		t.Fatalf("expected 2 stops, got %#v", plan.Stops)
	}
	if !reflect.DeepEqual(plan.Stops[0].RequestIDs, []string{ids[2]}) || !reflect.DeepEqual(plan.Stops[1].RequestIDs, ids[:2]) {
		t.Fatalf("unexpected stop order %#v", plan.Stops)
	}
	if !reflect.DeepEqual(plan.Unrouted, []string{ids[3]}) {
		t.Fatalf("expected uncoordinated request to be unrouted, got %v", plan.Unrouted)
	}
	if plan.DistanceMeters != 1200 || plan.DurationSeconds != 300 || len(plan.Geometry) == 0 {
		t.Fatalf("unexpected totals %#v", plan)
	}
}

func TestPlanFailureLeavesRequestsUntouched(t *testing.T) {
	store := state.NewMemoryStore()
	ids := seedAccepted(t, store, "a1", pt(1, 1), pt(2, 2))
	before := map[string]state.RequestRecord{}
	for _, id := range ids {
		rec, _, _ := store.GetRequest(context.Background(), id)
		before[id] = rec
	}

	cases := map[string]*fakeOptimizer{
		"error":   {err: errors.New("401 unauthorized")},
		"timeout": {block: true},
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAdvisor(store, opt, Options{Timeout: 20 * time.Millisecond})
			_, err := a.Plan(context.Background(), "a1", state.GeoPoint{})
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected unavailable, got %v", err)
			}
			if name == "timeout" && !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected the deadline to be the cause, got %v", err)
			}
			for _, id := range ids {
				rec, _, _ := store.GetRequest(context.Background(), id)
				if !reflect.DeepEqual(rec, before[id]) {
					t.Fatalf("request %s changed: %#v -> %#v", id, before[id], rec)
				}
			}
		})
	}
}
