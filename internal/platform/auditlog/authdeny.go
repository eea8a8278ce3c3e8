package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/autopilot/internal/platform/auth"
)

// InsertAuthDeny records a request rejected by the auth middleware. The
// resource is the route, so repeated probing of one endpoint groups together.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, deny auth.DenyEvent) error {
	_, err := Insert(ctx, q, denyEvent(service, deny))
	return err
}

func denyEvent(service string, deny auth.DenyEvent) Event {
	actor := strings.TrimSpace(deny.Subject)
	if actor == "" {
		actor = "anonymous"
	}
	return Event{
		OccurredAt:   deny.Time,
		CompanyID:    deny.CompanyID,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(deny.Reason),
		ResourceType: "http_route",
		ResourceID:   deny.Method + " " + deny.Path,
		RequestID:    deny.RequestID,
		IP:           RemoteIP(deny.RemoteAddr),
		UserAgent:    deny.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  deny.Status,
			"error":   deny.Error,
			"email":   deny.Email,
			"roles":   deny.Roles,
		},
	}
}

// RemoteIP parses the host part of an http.Request RemoteAddr.
func RemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
