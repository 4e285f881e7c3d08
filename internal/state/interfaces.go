package state

import (
	"context"
	"time"
)

type Store interface {
	CreateRequest(ctx context.Context, req RequestRecord) error
	GetRequest(ctx context.Context, requestID string) (RequestRecord, bool, error)
	// UpdateIfMatch applies t atomically. It reports false, with no error,
	// when no record satisfied the match fields.
	UpdateIfMatch(ctx context.Context, t Transition) (RequestRecord, bool, error)
	ListClaimable(ctx context.Context, q CandidateQuery) ([]RequestRecord, error)
	ListByAgent(ctx context.Context, agentID, status string) ([]RequestRecord, error)
	ListByRequester(ctx context.Context, requesterID string) ([]RequestRecord, error)
	UpdateAgentLocation(ctx context.Context, agentID string, loc GeoPoint, seen time.Time) error
	SetAgentStatus(ctx context.Context, agentID, status string) error
	GetAgent(ctx context.Context, agentID string) (AgentRecord, bool, error)
	AppendAuditEvent(ctx context.Context, event AuditEventRecord) error
	ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error)
	Close() error
}
