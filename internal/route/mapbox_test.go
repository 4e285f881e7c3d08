package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMapboxOptimize(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"code": "Ok",
			"waypoints": [
				{"waypoint_index": 0, "trips_index": 0},
				{"waypoint_index": 2, "trips_index": 0},
				{"waypoint_index": 1, "trips_index": 0}
			],
			"trips": [{"distance": 5230.5, "duration": 812.1, "geometry": {"type": "LineString", "coordinates": [[77.59,12.97],[77.6,12.98]]}}]
		}`))
	}))
	defer srv.Close()

	c := NewMapboxClient(srv.URL+"/", "tok-123")
	trip, err := c.Optimize(context.Background(), "driving", []Coordinate{
		{Lng: 77.5946, Lat: 12.9716}, {Lng: 77.6, Lat: 12.98}, {Lng: 77.61, Lat: 12.99},
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if gotPath != "/optimized-trips/v1/mapbox/driving/77.5946,12.9716;77.6,12.98;77.61,12.99" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	for _, want := range []string{"access_token=tok-123", "geometries=geojson", "source=first"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
	if len(trip.Order) != 3 || trip.Order[1] != 2 || trip.Order[2] != 1 {
		t.Fatalf("unexpected order %v", trip.Order)
	}
	if trip.Distance != 5230.5 || trip.Duration != 812.1 || !strings.Contains(string(trip.Geometry), "LineString") {
		t.Fatalf("unexpected trip %#v", trip)
	}
}

func TestMapboxErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"unauthorized": {status: http.StatusUnauthorized, body: `{"message":"Not Authorized - Invalid Token"}`, want: "Invalid Token"},
		"no trips":     {status: http.StatusOK, body: `{"code":"NoTrips","message":"no trip found"}`, want: "NoTrips"},
		"bad json":     {status: http.StatusOK, body: `{`, want: "decode"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := NewMapboxClient(srv.URL, "tok").Optimize(context.Background(), "", []Coordinate{{}, {Lng: 1, Lat: 1}})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestMapboxRequiresToken(t *testing.T) {
	_, err := NewMapboxClient("", "").Optimize(context.Background(), "driving", []Coordinate{{}, {}})
	if err == nil {
		t.Fatalf("expected missing token error")
	}
}
