package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/yashp387/DigitalDump-sub001/internal/pickup"
)

type principal struct {
	id   string
	role string
}

func (p principal) is(role string) bool { return p.role == role }

// actsAs reports whether p may act for agentID: the agent itself or an admin.
func (p principal) actsAs(agentID string) bool {
	return p.is(pickup.RoleAdmin) || (p.is(pickup.RoleAgent) && p.id == agentID)
}

type authorizer struct {
	enabled bool
	tokens  map[string]principal
}

// newAuthorizer parses "token=role:actorID,...". With no usable entries the
// authorizer runs in development mode and trusts X-Actor-ID/X-Actor-Role.
func newAuthorizer(raw string) *authorizer {
	tokens := make(map[string]principal)
	for _, entry := range strings.Split(strings.TrimSpace(raw), ",") {
		token, binding, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		role, id, ok := strings.Cut(strings.TrimSpace(binding), ":")
		if !ok {
			continue
		}
		token, role, id = strings.TrimSpace(token), strings.ToLower(strings.TrimSpace(role)), strings.TrimSpace(id)
		if token == "" || id == "" || !validRole(role) {
			continue
		}
		tokens[token] = principal{id: id, role: role}
	}
	return &authorizer{enabled: len(tokens) > 0, tokens: tokens}
}

func validRole(role string) bool {
	switch role {
	case pickup.RoleRequester, pickup.RoleAgent, pickup.RoleAdmin:
		return true
	default:
		return false
	}
}

func (a *authorizer) authorize(r *http.Request, rolesAny ...string) (principal, int, string) {
	var p principal
	if a.enabled {
		token := bearerToken(r)
		if token == "" {
			return principal{}, http.StatusUnauthorized, "missing bearer token"
		}
		var ok bool
		if p, ok = a.tokens[token]; !ok {
			return principal{}, http.StatusUnauthorized, "invalid token"
		}
	} else {
		p = principal{
			id:   strings.TrimSpace(r.Header.Get("X-Actor-ID")),
			role: strings.ToLower(strings.TrimSpace(r.Header.Get("X-Actor-Role"))),
		}
		if p.id == "" || !validRole(p.role) {
			return principal{}, http.StatusUnauthorized, "missing actor identity"
		}
	}
	if len(rolesAny) == 0 {
		return p, http.StatusOK, ""
	}
	for _, role := range rolesAny {
		if p.role == role {
			return p, http.StatusOK, ""
		}
	}
	return p, http.StatusForbidden, fmt.Sprintf("role %s may not call this endpoint (one of: %s)", p.role, strings.Join(rolesAny, ","))
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-Collect-Token"))
}
