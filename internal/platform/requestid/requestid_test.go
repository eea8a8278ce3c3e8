package requestid

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id := New()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("New()=%q not a uuid: %v", id, err)
	}
	if New() == id {
		t.Fatalf("New() returned duplicate ids")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no request id on empty context")
	}
	ctx := WithContext(context.Background(), " rid-1 ")
	got, ok := FromContext(ctx)
	if !ok || got != "rid-1" {
		t.Fatalf("FromContext()=%q,%v want rid-1", got, ok)
	}
}
