package api

import (
	"time"

	"github.com/yashp387/DigitalDump-sub001/internal/route"
	"github.com/yashp387/DigitalDump-sub001/internal/state"
	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toLocation(p *state.GeoPoint) *collectapi.Location {
	if p == nil {
		return nil
	}
	return &collectapi.Location{Lat: p.Lat, Lng: p.Lng}
}

func fromLocation(l *collectapi.Location) *state.GeoPoint {
	if l == nil {
		return nil
	}
	return &state.GeoPoint{Lat: l.Lat, Lng: l.Lng}
}

func toPickup(r state.RequestRecord) collectapi.Pickup {
	return collectapi.Pickup{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		ContactName:     r.ContactName,
		ContactPhone:    r.ContactPhone,
		Address:         r.Address,
		PickupAt:        formatTime(r.PickupAt),
		Category:        r.Category,
		Subtype:         r.Subtype,
		Quantity:        r.Quantity,
		Location:        toLocation(r.Location),
		Status:          r.Status,
		AssignedAgentID: r.AssignedAgentID,
		Version:         r.Version,
		ProofURI:        r.ProofURI,
		CancelReason:    r.CancelReason,
		CancelledBy:     r.CancelledBy,
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
		AcceptedAt:      formatTime(r.AcceptedAt),
		CompletedAt:     formatTime(r.CompletedAt),
		CancelledAt:     formatTime(r.CancelledAt),
	}
}

func toAgent(a state.AgentRecord) collectapi.Agent {
	return collectapi.Agent{
		ID:       a.ID,
		Status:   a.Status,
		Location: toLocation(a.Location),
		LastSeen: formatTime(a.LastSeen),
	}
}

func toAuditEvent(e state.AuditEventRecord) collectapi.AuditEvent {
	return collectapi.AuditEvent{
		ID:        e.ID,
		Action:    e.Action,
		Actor:     e.Actor,
		ActorRole: e.ActorRole,
		RequestID: e.RequestID,
		Result:    e.Result,
		Details:   e.Details,
		PrevHash:  e.PrevHash,
		EventHash: e.EventHash,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

func toRoutePlan(p route.Plan) collectapi.RoutePlanResponse {
	out := collectapi.RoutePlanResponse{
		AgentID:           p.AgentID,
		NothingToOptimize: p.NothingToOptimize,
		Unrouted:          p.Unrouted,
		DistanceMeters:    p.DistanceMeters,
		DurationSeconds:   p.DurationSeconds,
		Geometry:          p.Geometry,
	}
	for _, s := range p.Stops {
		out.Stops = append(out.Stops, collectapi.RouteStop{
			Sequence:   s.Sequence,
			Location:   collectapi.Location{Lat: s.Location.Lat, Lng: s.Location.Lng},
			RequestIDs: s.RequestIDs,
		})
	}
	return out
}
