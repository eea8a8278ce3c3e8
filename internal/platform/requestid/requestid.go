package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header carries the request id across services.
const Header = "X-Request-Id"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}
