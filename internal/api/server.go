package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yashp387/DigitalDump-sub001/internal/evidence"
	"github.com/yashp387/DigitalDump-sub001/internal/observability"
	"github.com/yashp387/DigitalDump-sub001/internal/pickup"
	"github.com/yashp387/DigitalDump-sub001/internal/policy"
	"github.com/yashp387/DigitalDump-sub001/internal/route"
	"github.com/yashp387/DigitalDump-sub001/internal/state"
	"github.com/yashp387/DigitalDump-sub001/pkg/collectapi"
)

const maxJSONBody = 1 << 20

type Options struct {
	// Tokens is "token=role:actorID,..."; empty enables header identities.
	Tokens                 string
	CreatesPerMinute       int
	GlobalCreatesPerMinute int
	// Policy gates creates and claims; nil allows everything.
	Policy *policy.Engine
	Logger *log.Logger
}

type Server struct {
	engine   *pickup.Engine
	advisor  *route.Advisor
	evidence evidence.Store
	auth     *authorizer
	limiter  *createLimiter
	policy   *policy.Engine
	logger   *log.Logger
}

func NewServer(engine *pickup.Engine, advisor *route.Advisor, proofs evidence.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine:   engine,
		advisor:  advisor,
		evidence: proofs,
		auth:     newAuthorizer(opts.Tokens),
		limiter:  newCreateLimiter(opts.CreatesPerMinute, opts.GlobalCreatesPerMinute),
		policy:   opts.Policy,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/pickups", s.handlePickups)
	mux.HandleFunc("/v1/pickups/", s.handlePickupByID)
	mux.HandleFunc("/v1/agents/", s.handleAgentSubresource)
	mux.HandleFunc("/v1/admin/audit", s.handleAuditEvents)
	return withTracing(withLogging(s.logger, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireRoles(w, r, pickup.RoleAdmin); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireRoles(w, r, pickup.RoleAdmin); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handlePickups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createPickup(w, r)
	case http.MethodGet:
		s.listPickups(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createPickup(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRoles(w, r, pickup.RoleRequester)
	if !ok {
		return
	}
	var req collectapi.CreatePickupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pickupAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.PickupAt))
	if err != nil {
		writeError(w, http.StatusBadRequest, "pickup_at must be RFC3339")
		return
	}
	if !s.limiter.allow(p.id, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "pickup creation rate limit exceeded")
		return
	}
	if !s.policy.IsNoop() {
		in := policy.CreateInput{RequesterID: p.id, Category: req.Category, Subtype: req.Subtype}
		if s.policy.NeedsOpenCount() {
			if in.OpenRequests, err = s.countOpen(r, p.id); err != nil {
				s.writeEngineError(w, err)
				return
			}
		}
		if !s.admit(w, "create", s.policy.EvaluateCreate(in)) {
			return
		}
	}
	rec, err := s.engine.Create(r.Context(), pickup.CreateCommand{
		RequesterID:  p.id,
		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
		Address:      req.Address,
		PickupAt:     pickupAt,
		Category:     req.Category,
		Subtype:      req.Subtype,
		Quantity:     req.Quantity,
		Location:     fromLocation(req.Location),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPickup(rec))
}

// listPickups returns the caller's own requests, or the agent's assigned work.
// Admins pick a subject with requester_id or agent_id.
func (s *Server) listPickups(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requireRoles(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	status := strings.TrimSpace(q.Get("status"))
	var (
		recs []state.RequestRecord
		err  error
	)
	switch {
	case p.is(pickup.RoleRequester):
		recs, err = s.engine.ListForRequester(r.Context(), p.id)
	case p.is(pickup.RoleAgent):
		recs, err = s.engine.ListForAgent(r.Context(), p.id, status)
	case q.Get("agent_id") != "":
		recs, err = s.engine.ListForAgent(r.Context(), q.Get("agent_id"), status)
	case q.Get("requester_id") != "":
		recs, err = s.engine.ListForRequester(r.Context(), q.Get("requester_id"))
	default:
		writeError(w, http.StatusBadRequest, "agent_id or requester_id is required")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]collectapi.Pickup, 0, len(recs))
	for _, rec := range recs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, toPickup(rec))
	}
	writeJSON(w, http.StatusOK, collectapi.ListPickupsResponse{Returned: len(out), Pickups: out})
}

func (s *Server) handlePickupByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/pickups/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "pickup id is required")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "unknown pickup resource")
		return
	}
	requestID := parts[0]
	subresource := ""
	if len(parts) == 2 {
		subresource = parts[1]
	}

	switch subresource {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getPickup(w, r, requestID)
	case "claim":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.claimPickup(w, r, requestID)
	case "complete":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.completePickup(w, r, requestID)
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.cancelPickup(w, r, requestID)
	case "proof":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.uploadProof(w, r, requestID)
	default:
		writeError(w, http.StatusNotFound, "unknown pickup resource")
	}
}

func (s *Server) getPickup(w http.ResponseWriter, r *http.Request, requestID string) {
	p, ok := s.requireRoles(w, r)
	if !ok {
		return
	}
	rec, err := s.engine.Get(r.Context(), requestID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !canView(p, rec) {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "pickup is not visible to this actor", "")
		return
	}
	writeJSON(w, http.StatusOK, toPickup(rec))
}

// canView lets agents see open work and their own assignments; requesters
// see only their own requests.
func canView(p principal, rec state.RequestRecord) bool {
	switch p.role {
	case pickup.RoleAdmin:
		return true
	case pickup.RoleRequester:
		return rec.RequesterID == p.id
	case pickup.RoleAgent:
		return rec.AssignedAgentID == p.id || rec.Status == state.StatusPending
	default:
		return false
	}
}

func (s *Server) claimPickup(w http.ResponseWriter, r *http.Request, requestID string) {
	p, ok := s.requireRoles(w, r, pickup.RoleAgent)
	if !ok {
		return
	}
	eligible, err := s.engine.AgentEligible(r.Context(), p.id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !eligible {
		writeErrorCode(w, http.StatusForbidden, "agent_suspended", "agent is suspended", "")
		return
	}
	if !s.policy.IsNoop() && !s.admitClaim(w, r, requestID, p.id) {
		return
	}
	rec, err := s.engine.Claim(r.Context(), pickup.ClaimCommand{RequestID: requestID, AgentID: p.id})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Printf("pickup %s claimed by %s", rec.ID, p.id)
	writeJSON(w, http.StatusOK, toPickup(rec))
}

func (s *Server) countOpen(r *http.Request, requesterID string) (int, error) {
	recs, err := s.engine.ListForRequester(r.Context(), requesterID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Status == state.StatusPending || rec.Status == state.StatusAccepted {
			n++
		}
	}
	return n, nil
}

// admitClaim evaluates the claim policy against a read of the request. The
// read only supplies category and quota inputs; the claim itself still races
// through the conditional update.
func (s *Server) admitClaim(w http.ResponseWriter, r *http.Request, requestID, agentID string) bool {
	rec, err := s.engine.Get(r.Context(), requestID)
	if err != nil {
		s.writeEngineError(w, err)
		return false
	}
	in := policy.ClaimInput{AgentID: agentID, Category: rec.Category, Subtype: rec.Subtype}
	if s.policy.NeedsAcceptedCount() {
		held, err := s.engine.ListForAgent(r.Context(), agentID, state.StatusAccepted)
		if err != nil {
			s.writeEngineError(w, err)
			return false
		}
		in.AcceptedRequests = len(held)
	}
	return s.admit(w, "claim", s.policy.EvaluateClaim(in))
}

func (s *Server) admit(w http.ResponseWriter, action string, d policy.Decision) bool {
	observability.Default.IncCounter("pickup_policy_decisions_total", map[string]string{
		"action":  action,
		"allowed": strconv.FormatBool(d.Allowed),
	}, 1)
	if d.Allowed {
		return true
	}
	writeErrorCode(w, http.StatusForbidden, "policy_denied", d.Message, d.ReasonCode)
	return false
}

func (s *Server) completePickup(w http.ResponseWriter, r *http.Request, requestID string) {
	p, ok := s.requireRoles(w, r, pickup.RoleAgent)
	if !ok {
		return
	}
	var req collectapi.CompletePickupRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.engine.Complete(r.Context(), pickup.CompleteCommand{RequestID: requestID, AgentID: p.id, ProofURI: req.ProofURI})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Printf("pickup %s completed by %s", rec.ID, p.id)
	writeJSON(w, http.StatusOK, toPickup(rec))
}

func (s *Server) cancelPickup(w http.ResponseWriter, r *http.Request, requestID string) {
	p, ok := s.requireRoles(w, r)
	if !ok {
		return
	}
	var req collectapi.CancelPickupRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.engine.Cancel(r.Context(), pickup.CancelCommand{
		RequestID: requestID,
		ActorID:   p.id,
		ActorRole: p.role,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Printf("pickup %s cancelled by %s %s", rec.ID, p.role, p.id)
	writeJSON(w, http.StatusOK, toPickup(rec))
}

// uploadProof stores a photo for a pickup the caller currently holds. The URI
// is attached to the request when the agent completes it.
func (s *Server) uploadProof(w http.ResponseWriter, r *http.Request, requestID string) {
	p, ok := s.requireRoles(w, r, pickup.RoleAgent)
	if !ok {
		return
	}
	if s.evidence == nil {
		writeError(w, http.StatusServiceUnavailable, "evidence storage is not configured")
		return
	}
	rec, err := s.engine.Get(r.Context(), requestID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if rec.Status != state.StatusAccepted {
		writeErrorCode(w, http.StatusConflict, "invalid_transition", "proof can only be uploaded for an accepted pickup", rec.Status)
		return
	}
	if rec.AssignedAgentID != p.id {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "pickup is assigned to another agent", "")
		return
	}
	if r.ContentLength > evidence.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "proof upload too large")
		return
	}
	uri, err := s.evidence.Put(r.Context(), requestID, r.Header.Get("Content-Type"), http.MaxBytesReader(w, r.Body, evidence.MaxUploadBytes+1), r.ContentLength)
	switch {
	case err == nil:
	case errors.Is(err, evidence.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "proof upload too large")
		return
	case errors.Is(err, evidence.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Printf("store proof for %s: %v", requestID, err)
		writeErrorCode(w, http.StatusBadGateway, "evidence_unavailable", "evidence storage is unavailable", "")
		return
	}
	writeJSON(w, http.StatusCreated, collectapi.UploadProofResponse{RequestID: requestID, ProofURI: uri})
}

func (s *Server) handleAgentSubresource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/agents/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "unknown agent resource")
		return
	}
	agentID, subresource := parts[0], parts[1]
	switch subresource {
	case "location":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.reportLocation(w, r, agentID)
	case "status":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.setAgentStatus(w, r, agentID)
	case "candidates":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.listCandidates(w, r, agentID)
	case "route":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.planRoute(w, r, agentID)
	default:
		writeError(w, http.StatusNotFound, "unknown agent resource")
	}
}

func (s *Server) requireAgentSelf(w http.ResponseWriter, r *http.Request, agentID string) (principal, bool) {
	p, ok := s.requireRoles(w, r, pickup.RoleAgent, pickup.RoleAdmin)
	if !ok {
		return principal{}, false
	}
	if !p.actsAs(agentID) {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "agents may only act for themselves", "")
		return principal{}, false
	}
	return p, true
}

func (s *Server) reportLocation(w http.ResponseWriter, r *http.Request, agentID string) {
	if _, ok := s.requireAgentSelf(w, r, agentID); !ok {
		return
	}
	var req collectapi.AgentLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	agent, err := s.engine.ReportLocation(r.Context(), agentID, state.GeoPoint{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgent(agent))
}

func (s *Server) setAgentStatus(w http.ResponseWriter, r *http.Request, agentID string) {
	p, ok := s.requireRoles(w, r, pickup.RoleAdmin)
	if !ok {
		return
	}
	var req collectapi.AgentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.SetAgentStatus(r.Context(), p.id, agentID, strings.ToLower(strings.TrimSpace(req.Status))); err != nil {
		s.writeEngineError(w, err)
		return
	}
	agent, _, err := s.engine.Agent(r.Context(), agentID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.logger.Printf("agent %s set to %s by %s", agentID, agent.Status, p.id)
	writeJSON(w, http.StatusOK, toAgent(agent))
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request, agentID string) {
	if _, ok := s.requireAgentSelf(w, r, agentID); !ok {
		return
	}
	origin, err := originFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	candidates, err := s.engine.Candidates(r.Context(), agentID, origin)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]collectapi.Candidate, 0, len(candidates))
	for _, c := range candidates {
		item := collectapi.Candidate{Pickup: toPickup(c.Request)}
		if c.HasDistance {
			d := c.DistanceKm
			item.DistanceKm = &d
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, collectapi.CandidatesResponse{AgentID: agentID, Returned: len(out), Candidates: out})
}

func (s *Server) planRoute(w http.ResponseWriter, r *http.Request, agentID string) {
	if _, ok := s.requireAgentSelf(w, r, agentID); !ok {
		return
	}
	if s.advisor == nil {
		writeErrorCode(w, http.StatusServiceUnavailable, "route_unavailable", "route advisory is not configured", "")
		return
	}
	origin, err := originFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if origin == nil {
		agent, ok, err := s.engine.Agent(r.Context(), agentID)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if !ok || agent.Location == nil {
			writeError(w, http.StatusBadRequest, "agent location is unknown; pass lat and lng")
			return
		}
		origin = agent.Location
	}
	plan, err := s.advisor.Plan(r.Context(), agentID, *origin)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoutePlan(plan))
}

func originFromQuery(r *http.Request) (*state.GeoPoint, error) {
	latRaw := strings.TrimSpace(r.URL.Query().Get("lat"))
	lngRaw := strings.TrimSpace(r.URL.Query().Get("lng"))
	if latRaw == "" && lngRaw == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, errors.New("lat must be a number between -90 and 90")
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, errors.New("lng must be a number between -180 and 180")
	}
	return &state.GeoPoint{Lat: lat, Lng: lng}, nil
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireRoles(w, r, pickup.RoleAdmin); !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit := 50
	offset := 0
	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = v
	}
	events, err := s.engine.AuditEvents(r.Context(), state.AuditQuery{
		Limit:     limit,
		Offset:    offset,
		Action:    strings.TrimSpace(q.Get("action")),
		Actor:     strings.TrimSpace(q.Get("actor")),
		RequestID: strings.TrimSpace(q.Get("request_id")),
		Result:    strings.TrimSpace(q.Get("result")),
		From:      from,
		To:        to,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(q.Get("format")), "csv") {
		writeAuditCSV(w, events)
		return
	}
	out := make([]collectapi.AuditEvent, 0, len(events))
	for _, e := range events {
		out = append(out, toAuditEvent(e))
	}
	writeJSON(w, http.StatusOK, collectapi.ListAuditEventsResponse{
		Returned: len(out),
		Limit:    limit,
		Offset:   offset,
		Events:   out,
	})
}

func (s *Server) requireRoles(w http.ResponseWriter, r *http.Request, roles ...string) (principal, bool) {
	p, code, msg := s.auth.authorize(r, roles...)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return principal{}, false
	}
	return p, true
}

// writeEngineError maps pickup and route errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var te *pickup.TransitionError
	reason := ""
	if errors.As(err, &te) {
		reason = te.Reason
	}
	var rangeErr *route.InputRangeError
	switch {
	case errors.Is(err, pickup.ErrConflict):
		writeErrorCode(w, http.StatusConflict, "pickup_taken", "this pickup was just taken", reason)
	case errors.Is(err, pickup.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err.Error(), reason)
	case errors.Is(err, pickup.ErrUnauthorized):
		writeErrorCode(w, http.StatusForbidden, "forbidden", err.Error(), reason)
	case errors.Is(err, pickup.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "pickup request not found", "")
	case errors.Is(err, pickup.ErrInvalidCommand):
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
	case errors.As(err, &rangeErr):
		writeErrorCode(w, http.StatusUnprocessableEntity, "route_input_out_of_range", err.Error(), strconv.Itoa(rangeErr.Count))
	case errors.Is(err, route.ErrUnavailable):
		writeErrorCode(w, http.StatusServiceUnavailable, "route_unavailable", "route advisory is unavailable, try again later", "")
		s.logger.Printf("route advisory unavailable: %v", err)
	default:
		s.logger.Printf("internal error: %v", err)
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal error", "")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseTimeRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	parse := func(raw string) (time.Time, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, errors.New("time filters must be RFC3339")
		}
		return t.UTC(), nil
	}
	from, err := parse(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func writeAuditCSV(w http.ResponseWriter, events []state.AuditEventRecord) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "created_at", "action", "actor", "actor_role", "request_id", "result", "details", "prev_hash", "event_hash"})
	for _, e := range events {
		_ = cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format(time.RFC3339),
			e.Action,
			e.Actor,
			e.ActorRole,
			e.RequestID,
			e.Result,
			e.Details,
			e.PrevHash,
			e.EventHash,
		})
	}
	cw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, collectapi.ErrorResponse{Error: msg})
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg, reason string) {
	writeJSON(w, status, collectapi.ErrorResponse{Error: msg, Code: code, Reason: reason})
}

func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(started).Round(time.Microsecond))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if sc := span.SpanContext(); sc.HasTraceID() {
			sw.Header().Set("X-Trace-ID", sc.TraceID().String())
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		observability.Default.IncCounter("http_requests_total", map[string]string{"method": r.Method, "code": fmt.Sprint(sw.status)}, 1)
	})
}
