package gateway

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryGateway keeps records in process. It serves dev mode and tests.
type MemoryGateway struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{records: map[string]Record{}}
}

func (g *MemoryGateway) Authenticate(context.Context) (Session, error) {
	return Session{Token: "memory"}, nil
}

// Put seeds a record.
func (g *MemoryGateway) Put(resourceType, id string, record Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[memoryKey(resourceType, id)] = maps.Clone(record)
}

// Get returns a copy of a stored record.
func (g *MemoryGateway) Get(resourceType, id string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[memoryKey(resourceType, id)]
	return maps.Clone(record), ok
}

func (g *MemoryGateway) Read(_ context.Context, _ Session, resourceType, id string, fields []string) (Record, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[memoryKey(resourceType, id)]
	if !ok {
		return nil, false, nil
	}
	if len(fields) == 0 {
		return maps.Clone(record), true, nil
	}
	out := make(Record, len(fields))
	for _, field := range fields {
		if v, ok := record[field]; ok {
			out[field] = v
		}
	}
	return out, true, nil
}

func (g *MemoryGateway) Write(_ context.Context, _ Session, resourceType, id string, values map[string]any) (string, error) {
	if strings.TrimSpace(resourceType) == "" {
		return "", errors.New("resource type is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
		g.records[memoryKey(resourceType, id)] = Record(maps.Clone(values))
		return id, nil
	}
	key := memoryKey(resourceType, id)
	record, ok := g.records[key]
	if !ok {
		return "", &APIError{StatusCode: 404, Body: "record not found"}
	}
	for k, v := range values {
		record[k] = v
	}
	g.records[key] = record
	return id, nil
}

func memoryKey(resourceType, id string) string {
	return strings.TrimSpace(resourceType) + "/" + strings.TrimSpace(id)
}
