// Package gateway talks to the external business system that actions mutate.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthorized  = errors.New("gateway request unauthorized")
	ErrForbidden     = errors.New("gateway request forbidden")
	ErrUnexpectedAPI = errors.New("gateway unexpected response")
)

// Session is an authenticated handle obtained once per execution pass.
type Session struct {
	Token  string
	Expiry time.Time
}

// Record is the field map of one external record.
type Record map[string]any

type Gateway interface {
	Authenticate(ctx context.Context) (Session, error)
	// Read returns found=false for a missing record.
	Read(ctx context.Context, session Session, resourceType, id string, fields []string) (Record, bool, error)
	// Write updates the record when id is set, otherwise creates one and returns its id.
	Write(ctx context.Context, session Session, resourceType, id string, values map[string]any) (string, error)
}

// Conn binds a session to a gateway so callers do not thread both around.
type Conn struct {
	Gateway Gateway
	Session Session
}

func (c Conn) Read(ctx context.Context, resourceType, id string, fields []string) (Record, bool, error) {
	if c.Gateway == nil {
		return nil, false, errors.New("gateway is required")
	}
	return c.Gateway.Read(ctx, c.Session, resourceType, id, fields)
}

func (c Conn) Write(ctx context.Context, resourceType, id string, values map[string]any) (string, error) {
	if c.Gateway == nil {
		return "", errors.New("gateway is required")
	}
	return c.Gateway.Write(ctx, c.Session, resourceType, id, values)
}
