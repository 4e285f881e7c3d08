// Package route computes advisory visiting orders for an agent's accepted
// pickups. It never writes to the request store.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yashp387/DigitalDump-sub001/internal/observability"
	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

const (
	MinWaypoints   = 2
	MaxWaypoints   = 12
	DefaultTimeout = 10 * time.Second
	DefaultProfile = "driving"
)

var (
	ErrInputOutOfRange = errors.New("route input out of range")
	ErrUnavailable     = errors.New("route advisory unavailable")
)

type InputRangeError struct {
	Count int
}

func (e *InputRangeError) Error() string {
	return fmt.Sprintf("%v: %d waypoints, need %d to %d", ErrInputOutOfRange, e.Count, MinWaypoints, MaxWaypoints)
}

func (e *InputRangeError) Is(target error) bool { return target == ErrInputOutOfRange }

type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnavailable, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// AcceptedLister is the read-only slice of the request store the advisor needs.
type AcceptedLister interface {
	ListByAgent(ctx context.Context, agentID, status string) ([]state.RequestRecord, error)
}

type Coordinate struct {
	Lng float64
	Lat float64
}

// Trip is an optimizer result. Order[i] is the visiting position of input
// coordinate i.
type Trip struct {
	Order    []int
	Distance float64
	Duration float64
	Geometry json.RawMessage
}

type Optimizer interface {
	Optimize(ctx context.Context, profile string, coords []Coordinate) (Trip, error)
}

type Stop struct {
	Sequence   int
	Location   state.GeoPoint
	RequestIDs []string
}

type Plan struct {
	AgentID           string
	NothingToOptimize bool
	Stops             []Stop
	// Unrouted holds accepted requests without a coordinate.
	Unrouted        []string
	DistanceMeters  float64
	DurationSeconds float64
	Geometry        json.RawMessage
}

type Options struct {
	Profile string
	Timeout time.Duration
}

type Advisor struct {
	lister    AcceptedLister
	optimizer Optimizer
	profile   string
	timeout   time.Duration
}

func NewAdvisor(lister AcceptedLister, optimizer Optimizer, opts Options) *Advisor {
	a := &Advisor{lister: lister, optimizer: optimizer, profile: opts.Profile, timeout: opts.Timeout}
	if a.profile == "" {
		a.profile = DefaultProfile
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a
}

type waypoint struct {
	point      state.GeoPoint
	requestIDs []string
}

// Plan builds an advisory route from origin through every accepted request
// the agent holds.
func (a *Advisor) Plan(ctx context.Context, agentID string, origin state.GeoPoint) (Plan, error) {
	ctx, span := observability.StartSpan(ctx, "route.plan", attribute.String("agent.id", agentID))
	defer span.End()

	plan, err := a.plan(ctx, agentID, origin)
	span.SetAttributes(attribute.String("result", resultLabel(err)))
	observability.Default.IncCounter("route_advisory_total", map[string]string{"result": resultLabel(err)}, 1)
	return plan, err
}

func (a *Advisor) plan(ctx context.Context, agentID string, origin state.GeoPoint) (Plan, error) {
	accepted, err := a.lister.ListByAgent(ctx, agentID, state.StatusAccepted)
	if err != nil {
		return Plan{}, fmt.Errorf("list accepted pickups for %s: %w", agentID, err)
	}
	plan := Plan{AgentID: agentID}
	if len(accepted) == 0 {
		plan.NothingToOptimize = true
		return plan, nil
	}

	waypoints := []waypoint{{point: origin}}
	for _, r := range accepted {
		if r.Location == nil {
			plan.Unrouted = append(plan.Unrouted, r.ID)
			continue
		}
		last := &waypoints[len(waypoints)-1]
		if last.point == *r.Location {
			last.requestIDs = append(last.requestIDs, r.ID)
			continue
		}
		waypoints = append(waypoints, waypoint{point: *r.Location, requestIDs: []string{r.ID}})
	}
	if len(waypoints) < MinWaypoints || len(waypoints) > MaxWaypoints {
		return Plan{}, &InputRangeError{Count: len(waypoints)}
	}

	coords := make([]Coordinate, len(waypoints))
	for i, w := range waypoints {
		coords[i] = Coordinate{Lng: w.point.Lng, Lat: w.point.Lat}
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	started := time.Now()
	trip, err := a.optimizer.Optimize(callCtx, a.profile, coords)
	observability.Default.ObserveSeconds("route_optimizer", nil, time.Since(started).Seconds())
	if err != nil {
		return Plan{}, &UnavailableError{Cause: err}
	}
	if len(trip.Order) != len(coords) {
		return Plan{}, &UnavailableError{Cause: fmt.Errorf("optimizer returned %d waypoints for %d coordinates", len(trip.Order), len(coords))}
	}

	inputs := make([]int, len(coords))
	for i := range inputs {
		inputs[i] = i
	}
	sort.SliceStable(inputs, func(i, j int) bool { return trip.Order[inputs[i]] < trip.Order[inputs[j]] })
	for _, idx := range inputs {
		w := waypoints[idx]
		if len(w.requestIDs) == 0 {
			continue
		}
		plan.Stops = append(plan.Stops, Stop{Sequence: len(plan.Stops) + 1, Location: w.point, RequestIDs: w.requestIDs})
	}
	plan.DistanceMeters = trip.Distance
	plan.DurationSeconds = trip.Duration
	plan.Geometry = trip.Geometry
	return plan, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInputOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
