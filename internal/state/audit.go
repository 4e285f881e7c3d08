package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func computeAuditHash(event AuditEventRecord) string {
	payload := map[string]any{
		"action":     event.Action,
		"actor":      event.Actor,
		"actor_role": event.ActorRole,
		"request_id": event.RequestID,
		"result":     event.Result,
		"details":    event.Details,
		"prev_hash":  event.PrevHash,
		"created_at": event.CreatedAt.UnixNano(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyAuditChain checks that events, oldest first, form an unbroken hash chain.
func VerifyAuditChain(events []AuditEventRecord) bool {
	prev := ""
	for _, e := range events {
		if e.PrevHash != prev {
			return false
		}
		if computeAuditHash(e) != e.EventHash {
			return false
		}
		prev = e.EventHash
	}
	return true
}

func normalizeAuditQuery(q AuditQuery) AuditQuery {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
