package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]RequestRecord
	agents   map[string]AgentRecord
	audits   []AuditEventRecord
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]RequestRecord),
		agents:   make(map[string]AgentRecord),
		audits:   make([]AuditEventRecord, 0, 128),
		nextID:   1,
	}
}

func (m *MemoryStore) CreateRequest(_ context.Context, req RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	m.requests[req.ID] = cloneRequest(req)
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, requestID string) (RequestRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	return cloneRequest(req), ok, nil
}

func (m *MemoryStore) UpdateIfMatch(_ context.Context, t Transition) (RequestRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.requests[t.RequestID]
	if !ok || !t.Matches(rec) {
		return RequestRecord{}, false, nil
	}
	rec = t.Apply(rec)
	m.requests[rec.ID] = rec
	return cloneRequest(rec), true, nil
}

func (m *MemoryStore) ListClaimable(_ context.Context, q CandidateQuery) ([]RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, 0, 16)
	for _, r := range m.requests {
		if r.Status != StatusPending || r.AssignedAgentID != "" {
			continue
		}
		if q.Box != nil && (r.Location == nil || !q.Box.Contains(*r.Location)) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByAgent(_ context.Context, agentID, status string) ([]RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, 0, 16)
	for _, r := range m.requests {
		if r.AssignedAgentID != agentID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AcceptedAt.Equal(out[j].AcceptedAt) {
			return out[i].AcceptedAt.Before(out[j].AcceptedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListByRequester(_ context.Context, requesterID string) ([]RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestRecord, 0, 16)
	for _, r := range m.requests {
		if r.RequesterID == requesterID {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) UpdateAgentLocation(_ context.Context, agentID string, loc GeoPoint, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		a = AgentRecord{ID: agentID, Status: AgentActive}
	}
	p := loc
	a.Location = &p
	a.LastSeen = seen.UTC()
	m.agents[agentID] = a
	return nil
}

func (m *MemoryStore) SetAgentStatus(_ context.Context, agentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		a = AgentRecord{ID: agentID}
	}
	a.Status = status
	m.agents[agentID] = a
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, agentID string) (AgentRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if ok && a.Location != nil {
		p := *a.Location
		a.Location = &p
	}
	return a, ok, nil
}

func (m *MemoryStore) AppendAuditEvent(_ context.Context, event AuditEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(m.audits) > 0 {
		event.PrevHash = m.audits[len(m.audits)-1].EventHash
	}
	event.EventHash = computeAuditHash(event)
	event.ID = m.nextID
	m.nextID++
	m.audits = append(m.audits, event)
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query = normalizeAuditQuery(query)

	filtered := make([]AuditEventRecord, 0, len(m.audits))
	for _, a := range m.audits {
		if query.Action != "" && a.Action != query.Action {
			continue
		}
		if query.Actor != "" && a.Actor != query.Actor {
			continue
		}
		if query.RequestID != "" && a.RequestID != query.RequestID {
			continue
		}
		if query.Result != "" && a.Result != query.Result {
			continue
		}
		if !query.From.IsZero() && a.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && a.CreatedAt.After(query.To) {
			continue
		}
		filtered = append(filtered, a)
	}
	// Newest first for operator-facing endpoint.
	out := make([]AuditEventRecord, 0, len(filtered))
	for i := len(filtered) - 1; i >= 0; i-- {
		out = append(out, filtered[i])
	}
	if query.Offset > len(out) {
		query.Offset = len(out)
	}
	out = out[query.Offset:]
	if query.Limit < len(out) {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneRequest(r RequestRecord) RequestRecord {
	if r.Location != nil {
		p := *r.Location
		r.Location = &p
	}
	return r
}

func newerFirst(a, b RequestRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
