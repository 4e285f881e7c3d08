// Package collectapi holds the JSON shapes of the pickup HTTP API. Times are
// RFC 3339 strings in UTC.
package collectapi

import "encoding/json"

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type CreatePickupRequest struct {
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	Address      string    `json:"address"`
	PickupAt     string    `json:"pickup_at"`
	Category     string    `json:"category"`
	Subtype      string    `json:"subtype,omitempty"`
	Quantity     int       `json:"quantity,omitempty"`
	Location     *Location `json:"location,omitempty"`
}

type Pickup struct {
	ID              string    `json:"id"`
	RequesterID     string    `json:"requester_id"`
	ContactName     string    `json:"contact_name,omitempty"`
	ContactPhone    string    `json:"contact_phone,omitempty"`
	Address         string    `json:"address"`
	PickupAt        string    `json:"pickup_at"`
	Category        string    `json:"category"`
	Subtype         string    `json:"subtype,omitempty"`
	Quantity        int       `json:"quantity"`
	Location        *Location `json:"location,omitempty"`
	Status          string    `json:"status"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	Version         int64     `json:"version"`
	ProofURI        string    `json:"proof_uri,omitempty"`
	CancelReason    string    `json:"cancel_reason,omitempty"`
	CancelledBy     string    `json:"cancelled_by,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
	AcceptedAt      string    `json:"accepted_at,omitempty"`
	CompletedAt     string    `json:"completed_at,omitempty"`
	CancelledAt     string    `json:"cancelled_at,omitempty"`
}

type ListPickupsResponse struct {
	Returned int      `json:"returned"`
	Pickups  []Pickup `json:"pickups"`
}

type CompletePickupRequest struct {
	ProofURI string `json:"proof_uri,omitempty"`
}

type CancelPickupRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UploadProofResponse struct {
	RequestID string `json:"request_id"`
	ProofURI  string `json:"proof_uri"`
}

type AgentLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type AgentStatusRequest struct {
	Status string `json:"status"`
}

type Agent struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Location *Location `json:"location,omitempty"`
	LastSeen string    `json:"last_seen,omitempty"`
}

type Candidate struct {
	Pickup     Pickup   `json:"pickup"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

type CandidatesResponse struct {
	AgentID    string      `json:"agent_id"`
	Returned   int         `json:"returned"`
	Candidates []Candidate `json:"candidates"`
}

type RouteStop struct {
	Sequence   int      `json:"sequence"`
	Location   Location `json:"location"`
	RequestIDs []string `json:"request_ids"`
}

type RoutePlanResponse struct {
	AgentID           string          `json:"agent_id"`
	NothingToOptimize bool            `json:"nothing_to_optimize"`
	Stops             []RouteStop     `json:"stops,omitempty"`
	Unrouted          []string        `json:"unrouted,omitempty"`
	DistanceMeters    float64         `json:"distance_meters,omitempty"`
	DurationSeconds   float64         `json:"duration_seconds,omitempty"`
	Geometry          json.RawMessage `json:"geometry,omitempty"`
}

type AuditEvent struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	ActorRole string `json:"actor_role,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Result    string `json:"result"`
	Details   string `json:"details,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash"`
	CreatedAt string `json:"created_at"`
}

type ListAuditEventsResponse struct {
	Returned int          `json:"returned"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
	Events   []AuditEvent `json:"events"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}
