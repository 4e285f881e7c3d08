package pickup

import (
	"strings"
	"time"

	"github.com/yashp387/DigitalDump-sub001/internal/state"
)

const (
	RoleRequester = "requester"
	RoleAgent     = "agent"
	RoleAdmin     = "admin"
)

type CreateCommand struct {
	RequesterID  string
	ContactName  string
	ContactPhone string
	Address      string
	PickupAt     time.Time
	Category     string
	Subtype      string
	Quantity     int
	Location     *state.GeoPoint
}

func (c *CreateCommand) Validate() error {
	c.RequesterID = strings.TrimSpace(c.RequesterID)
	c.Address = strings.TrimSpace(c.Address)
	c.Category = strings.ToLower(strings.TrimSpace(c.Category))
	c.Subtype = strings.TrimSpace(c.Subtype)
	switch {
	case c.RequesterID == "":
		return invalidCommand("requester id is required")
	case c.Address == "":
		return invalidCommand("pickup address is required")
	case c.Category == "":
		return invalidCommand("waste category is required")
	case c.PickupAt.IsZero():
		return invalidCommand("pickup date/time is required")
	}
	if c.Quantity == 0 {
		c.Quantity = 1
	}
	if c.Quantity < 0 {
		return invalidCommand("quantity must be positive, got %d", c.Quantity)
	}
	if c.Location != nil {
		if err := validatePoint(*c.Location); err != nil {
			return err
		}
	}
	return nil
}

type ClaimCommand struct {
	RequestID string
	AgentID   string
}

func (c ClaimCommand) Validate() error {
	if strings.TrimSpace(c.RequestID) == "" {
		return invalidCommand("request id is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return invalidCommand("agent id is required")
	}
	return nil
}

type CompleteCommand struct {
	RequestID string
	AgentID   string
	ProofURI  string
}

func (c CompleteCommand) Validate() error {
	if strings.TrimSpace(c.RequestID) == "" {
		return invalidCommand("request id is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return invalidCommand("agent id is required")
	}
	if c.ProofURI != "" && !proofBelongsTo(c.ProofURI, c.RequestID) {
		return invalidCommand("proof uri %q was not uploaded for request %s", c.ProofURI, c.RequestID)
	}
	return nil
}

// proofBelongsTo reports whether uri names an evidence object stored under
// requestID: file://<dir>/<requestID>/<object> or s3://<bucket>/<requestID>/<object>.
func proofBelongsTo(uri, requestID string) bool {
	rest, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		if rest, ok = strings.CutPrefix(uri, "s3://"); !ok {
			return false
		}
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return false
	}
	for _, p := range parts {
		if p == ".." {
			return false
		}
	}
	return parts[len(parts)-2] == requestID && parts[len(parts)-1] != ""
}

type CancelCommand struct {
	RequestID string
	ActorID   string
	ActorRole string
	Reason    string
}

func (c CancelCommand) Validate() error {
	if strings.TrimSpace(c.RequestID) == "" {
		return invalidCommand("request id is required")
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return invalidCommand("actor id is required")
	}
	switch c.ActorRole {
	case RoleRequester, RoleAgent, RoleAdmin:
		return nil
	default:
		return invalidCommand("unknown actor role %q", c.ActorRole)
	}
}

func validatePoint(p state.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 {
		return invalidCommand("latitude %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return invalidCommand("longitude %v out of range", p.Lng)
	}
	return nil
}
