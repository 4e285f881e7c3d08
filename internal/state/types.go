package state

import "time"

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	AgentActive    = "active"
	AgentSuspended = "suspended"
)

type GeoPoint struct {
	Lat float64
	Lng float64
}

type RequestRecord struct {
	ID              string
	RequesterID     string
	ContactName     string
	ContactPhone    string
	Address         string
	PickupAt        time.Time
	Category        string
	Subtype         string
	Quantity        int
	Location        *GeoPoint
	Status          string
	AssignedAgentID string
	Version         int64
	ProofURI        string
	CancelReason    string
	CancelledBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	AcceptedAt      time.Time
	CompletedAt     time.Time
	CancelledAt     time.Time
}

// Transition is a conditional single-record update. Every non-zero match
// field must hold on the stored record for the update to apply.
type Transition struct {
	RequestID string

	FromStatus         []string
	RequireUnassigned  bool
	RequireAgentID     string
	RequireRequesterID string

	ToStatus     string
	SetAgentID   string
	ClearAgent   bool
	ProofURI     string
	CancelReason string
	CancelledBy  string
	At           time.Time
}

func (t Transition) Matches(rec RequestRecord) bool {
	if rec.ID != t.RequestID {
		return false
	}
	if len(t.FromStatus) > 0 && !containsString(t.FromStatus, rec.Status) {
		return false
	}
	if t.RequireUnassigned && rec.AssignedAgentID != "" {
		return false
	}
	if t.RequireAgentID != "" && rec.AssignedAgentID != t.RequireAgentID {
		return false
	}
	if t.RequireRequesterID != "" && rec.RequesterID != t.RequireRequesterID {
		return false
	}
	return true
}

// Apply returns rec with the transition's mutations applied. It does not
// check Matches.
func (t Transition) Apply(rec RequestRecord) RequestRecord {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec.Status = t.ToStatus
	if t.ClearAgent {
		rec.AssignedAgentID = ""
	}
	if t.SetAgentID != "" {
		rec.AssignedAgentID = t.SetAgentID
	}
	if t.ProofURI != "" {
		rec.ProofURI = t.ProofURI
	}
	switch t.ToStatus {
	case StatusAccepted:
		rec.AcceptedAt = at
	case StatusCompleted:
		rec.CompletedAt = at
	case StatusCancelled:
		rec.CancelledAt = at
		rec.CancelReason = t.CancelReason
		rec.CancelledBy = t.CancelledBy
	}
	rec.Version++
	rec.UpdatedAt = at
	return rec
}

type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

type CandidateQuery struct {
	// Box restricts results to located requests inside it. Nil returns every
	// claimable request, located or not.
	Box   *BoundingBox
	Limit int
}

type AgentRecord struct {
	ID       string
	Location *GeoPoint
	Status   string
	LastSeen time.Time
}

type AuditEventRecord struct {
	ID        int64
	Action    string
	Actor     string
	ActorRole string
	RequestID string
	Result    string
	Details   string
	PrevHash  string
	EventHash string
	CreatedAt time.Time
}

type AuditQuery struct {
	Limit     int
	Offset    int
	Action    string
	Actor     string
	RequestID string
	Result    string
	From      time.Time
	To        time.Time
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
