// Package testutil provides mocks and fixtures shared by the service tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// MockResolver is a mock entity resolver for one entity type.
type MockResolver struct {
	mock.Mock
	Type types.EntityType
}

// EntityType returns the type the mock was created for.
func (m *MockResolver) EntityType() types.EntityType {
	return m.Type
}

// Fetch mocks the Fetch method. The ids argument is sorted before matching.
func (m *MockResolver) Fetch(ctx context.Context, ids []string) (map[string]types.Entity, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	args := m.Called(ctx, sorted)
	if fn, ok := args.Get(0).(func(context.Context, []string) map[string]types.Entity); ok {
		return fn(ctx, sorted), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]types.Entity), args.Error(1)
}

// NewMockResolver creates a mock resolver that returns an entity for every
// id found in known. Calls are recorded for AssertNumberOfCalls.
func NewMockResolver(t *testing.T, entityType types.EntityType, known map[string]types.Entity) *MockResolver {
	t.Helper()
	m := &MockResolver{Type: entityType}

	m.On("Fetch", mock.Anything, mock.Anything).
		Return(func(_ context.Context, ids []string) map[string]types.Entity {
			out := make(map[string]types.Entity, len(ids))
			for _, id := range ids {
				if e, ok := known[id]; ok {
					out[id] = e
				}
			}
			return out
		}, nil).
		Maybe()

	return m
}

// StubResolver is a hand-written resolver with a call log, for concurrent tests.
type StubResolver struct {
	Type     types.EntityType
	Entities map[string]types.Entity
	Err      error

	mu    sync.Mutex
	calls [][]string
}

// EntityType returns the resolver's type.
func (s *StubResolver) EntityType() types.EntityType {
	return s.Type
}

// Fetch returns the known entities among ids.
func (s *StubResolver) Fetch(ctx context.Context, ids []string) (map[string]types.Entity, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), ids...))
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]types.Entity)
	for _, id := range ids {
		if e, ok := s.Entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// Calls returns the id sets of every Fetch call.
func (s *StubResolver) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.calls...)
}
