package pickup

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yashp387/DigitalDump-sub001/internal/observability"
	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

const (
	DefaultServiceRadiusKm = 100.0
	DefaultCandidateLimit  = 50
)

type Options struct {
	MaxServiceRadiusKm float64
	CandidateLimit     int
	Now                func() time.Time
	Logger             *log.Logger
}

// Engine runs the pickup lifecycle. It holds no mutable state of its own;
// every transition is a single conditional update in the store.
type Engine struct {
	store    state.Store
	radiusKm float64
	limit    int
	now      func() time.Time
	logger   *log.Logger
}

type Candidate struct {
	Request state.RequestRecord
	// DistanceKm is set when the agent location was known.
	DistanceKm  float64
	HasDistance bool
}

func NewEngine(store state.Store, opts Options) *Engine {
	radius := opts.MaxServiceRadiusKm
	if radius <= 0 {
		radius = DefaultServiceRadiusKm
	}
	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: store, radiusKm: radius, limit: limit, now: now, logger: logger}
}

func (e *Engine) Create(ctx context.Context, cmd CreateCommand) (state.RequestRecord, error) {
	if err := cmd.Validate(); err != nil {
		return state.RequestRecord{}, err
	}
	ctx, span := observability.StartSpan(ctx, "pickup.create",
		attribute.String("requester.id", cmd.RequesterID),
		attribute.String("pickup.category", cmd.Category),
	)
	defer span.End()

	now := e.now()
	rec := state.RequestRecord{
		ID:           uuid.New().String(),
		RequesterID:  cmd.RequesterID,
		ContactName:  cmd.ContactName,
		ContactPhone: cmd.ContactPhone,
		Address:      cmd.Address,
		PickupAt:     cmd.PickupAt.UTC(),
		Category:     cmd.Category,
		Subtype:      cmd.Subtype,
		Quantity:     cmd.Quantity,
		Location:     cmd.Location,
		Status:       state.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateRequest(ctx, rec); err != nil {
		return state.RequestRecord{}, fmt.Errorf("create pickup request: %w", err)
	}
	e.audit(ctx, "pickup_create", cmd.RequesterID, RoleRequester, rec.ID, nil, "")
	observability.Default.IncCounter("pickup_requests_created_total", map[string]string{"category": rec.Category}, 1)
	return rec, nil
}

func (e *Engine) Get(ctx context.Context, requestID string) (state.RequestRecord, error) {
	rec, ok, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return state.RequestRecord{}, err
	}
	if !ok {
		return state.RequestRecord{}, transitionErr(ErrNotFound, "get", requestID, "", "")
	}
	return rec, nil
}

// Claim binds a pending, unassigned request to the claiming agent. Exactly one
// of any number of concurrent claims for the same request succeeds.
func (e *Engine) Claim(ctx context.Context, cmd ClaimCommand) (state.RequestRecord, error) {
	if err := cmd.Validate(); err != nil {
		return state.RequestRecord{}, err
	}
	ctx, span := observability.StartSpan(ctx, "pickup.claim",
		attribute.String("request.id", cmd.RequestID),
		attribute.String("agent.id", cmd.AgentID),
	)
	defer span.End()

	rec, ok, err := e.store.UpdateIfMatch(ctx, state.Transition{
		RequestID:         cmd.RequestID,
		FromStatus:        []string{state.StatusPending},
		RequireUnassigned: true,
		ToStatus:          state.StatusAccepted,
		SetAgentID:        cmd.AgentID,
		At:                e.now(),
	})
	if err != nil {
		return state.RequestRecord{}, fmt.Errorf("claim pickup %s: %w", cmd.RequestID, err)
	}
	if !ok {
		err = e.explainClaimFailure(ctx, cmd)
	}
	span.SetAttributes(attribute.String("result", ResultLabel(err)))
	observability.Default.IncCounter("pickup_claims_total", map[string]string{"result": ResultLabel(err)}, 1)
	e.audit(ctx, "pickup_claim", cmd.AgentID, RoleAgent, cmd.RequestID, err, "")
	if err != nil {
		return state.RequestRecord{}, err
	}
	e.countTransition(state.StatusAccepted, nil)
	return rec, nil
}

// explainClaimFailure reads the current record only to describe why the
// conditional update did not match.
func (e *Engine) explainClaimFailure(ctx context.Context, cmd ClaimCommand) error {
	cur, found, err := e.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return transitionErr(ErrConflict, "claim", cmd.RequestID, "", "request is no longer claimable")
	}
	if !found {
		return transitionErr(ErrNotFound, "claim", cmd.RequestID, "", "")
	}
	switch cur.Status {
	case state.StatusAccepted:
		if cur.AssignedAgentID == cmd.AgentID {
			return transitionErr(ErrConflict, "claim", cmd.RequestID, cur.Status, "already accepted by you")
		}
		return transitionErr(ErrConflict, "claim", cmd.RequestID, cur.Status, "already accepted by another agent")
	case state.StatusCompleted, state.StatusCancelled:
		return transitionErr(ErrConflict, "claim", cmd.RequestID, cur.Status, "request is "+cur.Status)
	default:
		return transitionErr(ErrConflict, "claim", cmd.RequestID, cur.Status, "request changed while claiming")
	}
}

// Complete marks an accepted request completed. Only the agent currently
// holding the assignment can complete it.
func (e *Engine) Complete(ctx context.Context, cmd CompleteCommand) (state.RequestRecord, error) {
	if err := cmd.Validate(); err != nil {
		return state.RequestRecord{}, err
	}
	ctx, span := observability.StartSpan(ctx, "pickup.complete",
		attribute.String("request.id", cmd.RequestID),
		attribute.String("agent.id", cmd.AgentID),
	)
	defer span.End()

	rec, ok, err := e.store.UpdateIfMatch(ctx, state.Transition{
		RequestID:      cmd.RequestID,
		FromStatus:     []string{state.StatusAccepted},
		RequireAgentID: cmd.AgentID,
		ToStatus:       state.StatusCompleted,
		ProofURI:       cmd.ProofURI,
		At:             e.now(),
	})
	if err != nil {
		return state.RequestRecord{}, fmt.Errorf("complete pickup %s: %w", cmd.RequestID, err)
	}
	if !ok {
		err = e.explainCompleteFailure(ctx, cmd)
	}
	span.SetAttributes(attribute.String("result", ResultLabel(err)))
	e.countTransition(state.StatusCompleted, err)
	e.audit(ctx, "pickup_complete", cmd.AgentID, RoleAgent, cmd.RequestID, err, "")
	if err != nil {
		return state.RequestRecord{}, err
	}
	return rec, nil
}

func (e *Engine) explainCompleteFailure(ctx context.Context, cmd CompleteCommand) error {
	cur, found, err := e.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return fmt.Errorf("complete pickup %s: read current state: %w", cmd.RequestID, err)
	}
	if !found {
		return transitionErr(ErrNotFound, "complete", cmd.RequestID, "", "")
	}
	switch cur.Status {
	case state.StatusAccepted:
		if cur.AssignedAgentID != cmd.AgentID {
			return transitionErr(ErrUnauthorized, "complete", cmd.RequestID, cur.Status, "request is assigned to another agent")
		}
		return transitionErr(ErrConflict, "complete", cmd.RequestID, cur.Status, "request changed while completing")
	case state.StatusPending:
		return transitionErr(ErrInvalidTransition, "complete", cmd.RequestID, cur.Status, "request has not been accepted")
	default:
		return transitionErr(ErrInvalidTransition, "complete", cmd.RequestID, cur.Status, "request is already "+cur.Status)
	}
}

// Cancel moves a pending or accepted request to cancelled on behalf of its
// requester or an administrator. The assignment is always cleared.
func (e *Engine) Cancel(ctx context.Context, cmd CancelCommand) (state.RequestRecord, error) {
	if err := cmd.Validate(); err != nil {
		return state.RequestRecord{}, err
	}
	ctx, span := observability.StartSpan(ctx, "pickup.cancel",
		attribute.String("request.id", cmd.RequestID),
		attribute.String("actor.id", cmd.ActorID),
		attribute.String("actor.role", cmd.ActorRole),
	)
	defer span.End()

	rec, err := e.cancel(ctx, cmd)
	span.SetAttributes(attribute.String("result", ResultLabel(err)))
	e.countTransition(state.StatusCancelled, err)
	details := ""
	if err == nil && rec.prevAgent != "" {
		details = "released_agent=" + rec.prevAgent
	}
	e.audit(ctx, "pickup_cancel", cmd.ActorID, cmd.ActorRole, cmd.RequestID, err, details)
	if err != nil {
		return state.RequestRecord{}, err
	}
	return rec.RequestRecord, nil
}

type cancelled struct {
	state.RequestRecord
	prevAgent string
}

func (e *Engine) cancel(ctx context.Context, cmd CancelCommand) (cancelled, error) {
	// RequesterID is immutable, so ownership read here cannot go stale.
	cur, found, err := e.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return cancelled{}, fmt.Errorf("cancel pickup %s: %w", cmd.RequestID, err)
	}
	if !found {
		return cancelled{}, transitionErr(ErrNotFound, "cancel", cmd.RequestID, "", "")
	}
	t := state.Transition{
		RequestID:    cmd.RequestID,
		FromStatus:   []string{state.StatusPending, state.StatusAccepted},
		ToStatus:     state.StatusCancelled,
		ClearAgent:   true,
		CancelReason: cmd.Reason,
		CancelledBy:  cmd.ActorID,
		At:           e.now(),
	}
	switch cmd.ActorRole {
	case RoleAdmin:
	case RoleRequester:
		if cur.RequesterID != cmd.ActorID {
			return cancelled{}, transitionErr(ErrUnauthorized, "cancel", cmd.RequestID, cur.Status, "only the requester or an administrator may cancel")
		}
		t.RequireRequesterID = cmd.ActorID
	default:
		return cancelled{}, transitionErr(ErrUnauthorized, "cancel", cmd.RequestID, cur.Status, "only the requester or an administrator may cancel")
	}

	rec, ok, err := e.store.UpdateIfMatch(ctx, t)
	if err != nil {
		return cancelled{}, fmt.Errorf("cancel pickup %s: %w", cmd.RequestID, err)
	}
	if ok {
		return cancelled{RequestRecord: rec, prevAgent: cur.AssignedAgentID}, nil
	}
	now, found, err := e.store.GetRequest(ctx, cmd.RequestID)
	if err != nil {
		return cancelled{}, fmt.Errorf("cancel pickup %s: read current state: %w", cmd.RequestID, err)
	}
	if !found {
		return cancelled{}, transitionErr(ErrNotFound, "cancel", cmd.RequestID, "", "")
	}
	return cancelled{}, transitionErr(ErrInvalidTransition, "cancel", cmd.RequestID, now.Status, "request is already "+now.Status)
}

// Candidates lists requests the agent may try to claim. With a known location
// it returns requests inside the service radius, nearest first; otherwise the
// newest pending requests. The list is advisory: Claim re-validates.
func (e *Engine) Candidates(ctx context.Context, agentID string, origin *state.GeoPoint) ([]Candidate, error) {
	ctx, span := observability.StartSpan(ctx, "pickup.candidates", attribute.String("agent.id", agentID))
	defer span.End()

	if origin == nil && agentID != "" {
		agent, ok, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("load agent %s: %w", agentID, err)
		}
		if ok {
			origin = agent.Location
		}
	}
	if origin == nil {
		recs, err := e.store.ListClaimable(ctx, state.CandidateQuery{Limit: e.limit})
		if err != nil {
			return nil, fmt.Errorf("list claimable: %w", err)
		}
		out := make([]Candidate, 0, len(recs))
		for _, r := range recs {
			out = append(out, Candidate{Request: r})
		}
		observability.Default.SetGauge("pickup_candidates_returned", map[string]string{"mode": "newest"}, float64(len(out)))
		return out, nil
	}
	if err := validatePoint(*origin); err != nil {
		return nil, err
	}

	box := boundingBox(*origin, e.radiusKm)
	recs, err := e.store.ListClaimable(ctx, state.CandidateQuery{Box: &box})
	if err != nil {
		return nil, fmt.Errorf("list claimable: %w", err)
	}
	out := make([]Candidate, 0, len(recs))
	for _, r := range recs {
		if r.Location == nil {
			continue
		}
		d := DistanceKm(*origin, *r.Location)
		if d > e.radiusKm {
			continue
		}
		out = append(out, Candidate{Request: r, DistanceKm: d, HasDistance: true})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Request.CreatedAt.After(out[j].Request.CreatedAt)
	})
	if len(out) > e.limit {
		out = out[:e.limit]
	}
	observability.Default.SetGauge("pickup_candidates_returned", map[string]string{"mode": "nearest"}, float64(len(out)))
	return out, nil
}

func (e *Engine) ListForRequester(ctx context.Context, requesterID string) ([]state.RequestRecord, error) {
	return e.store.ListByRequester(ctx, requesterID)
}

func (e *Engine) ListForAgent(ctx context.Context, agentID, status string) ([]state.RequestRecord, error) {
	return e.store.ListByAgent(ctx, agentID, status)
}

func (e *Engine) countTransition(to string, err error) {
	observability.Default.IncCounter("pickup_transitions_total", map[string]string{"to": to, "result": ResultLabel(err)}, 1)
}

func (e *Engine) audit(ctx context.Context, action, actor, role, requestID string, err error, details string) {
	if err != nil {
		details = err.Error()
	}
	event := state.AuditEventRecord{
		Action:    action,
		Actor:     actor,
		ActorRole: role,
		RequestID: requestID,
		Result:    ResultLabel(err),
		Details:   details,
		CreatedAt: e.now(),
	}
	if aerr := e.store.AppendAuditEvent(ctx, event); aerr != nil {
		e.logger.Printf("audit %s for %s failed: %v", action, requestID, aerr)
	}
}

// ReportLocation records an agent heartbeat. New agents start active.
func (e *Engine) ReportLocation(ctx context.Context, agentID string, loc state.GeoPoint) (state.AgentRecord, error) {
	if agentID == "" {
		return state.AgentRecord{}, invalidCommand("agent id is required")
	}
	if err := validatePoint(loc); err != nil {
		return state.AgentRecord{}, err
	}
	if err := e.store.UpdateAgentLocation(ctx, agentID, loc, e.now()); err != nil {
		return state.AgentRecord{}, fmt.Errorf("update agent %s location: %w", agentID, err)
	}
	agent, _, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return state.AgentRecord{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	return agent, nil
}

func (e *Engine) SetAgentStatus(ctx context.Context, adminID, agentID, status string) error {
	if status != state.AgentActive && status != state.AgentSuspended {
		return invalidCommand("unknown agent status %q", status)
	}
	if err := e.store.SetAgentStatus(ctx, agentID, status); err != nil {
		return fmt.Errorf("set agent %s status: %w", agentID, err)
	}
	e.audit(ctx, "agent_status", adminID, RoleAdmin, "", nil, "agent="+agentID+" status="+status)
	return nil
}

// AgentEligible reports whether agentID may claim work. Unknown agents are
// eligible until an administrator suspends them.
func (e *Engine) AgentEligible(ctx context.Context, agentID string) (bool, error) {
	agent, ok, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	return !ok || agent.Status != state.AgentSuspended, nil
}

func (e *Engine) Agent(ctx context.Context, agentID string) (state.AgentRecord, bool, error) {
	return e.store.GetAgent(ctx, agentID)
}

func (e *Engine) AuditEvents(ctx context.Context, q state.AuditQuery) ([]state.AuditEventRecord, error) {
	return e.store.ListAuditEvents(ctx, q)
}
