package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
)

// RouterStore is an in-memory implementation of ports.RouterStore.
type RouterStore struct {
	mu      sync.RWMutex
	routers map[string]router.Router
}

// NewRouterStore creates a new in-memory router store.
func NewRouterStore() *RouterStore {
	return &RouterStore{routers: make(map[string]router.Router)}
}

// Get retrieves a router by ID.
func (s *RouterStore) Get(ctx context.Context, id string) (router.Router, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routers[id]
	if !ok {
		return router.Router{}, ports.ErrNotFound
	}
	return r, nil
}

// GetDefault returns the router flagged as default, or the oldest one.
func (s *RouterStore) GetDefault(ctx context.Context) (router.Router, error) {
	all, _ := s.List(ctx)
	if len(all) == 0 {
		return router.Router{}, ports.ErrNotFound
	}
	for _, r := range all {
		if r.IsDefault {
			return r, nil
		}
	}
	return all[0], nil
}

// List returns routers ordered by creation time.
func (s *RouterStore) List(ctx context.Context) ([]router.Router, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]router.Router, 0, len(s.routers))
	for _, r := range s.routers {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Create stores a new router. A router flagged default clears the flag on the others.
func (s *RouterStore) Create(ctx context.Context, r router.Router) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.routers[r.ID]; exists {
		return ErrDuplicate
	}
	s.put(r)
	return nil
}

// Update replaces an existing router.
func (s *RouterStore) Update(ctx context.Context, r router.Router) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routers[r.ID]; !ok {
		return ports.ErrNotFound
	}
	s.put(r)
	return nil
}

func (s *RouterStore) put(r router.Router) {
	if r.IsDefault {
		for id, other := range s.routers {
			if other.IsDefault && id != r.ID {
				other.IsDefault = false
				s.routers[id] = other
			}
		}
	}
	s.routers[r.ID] = r
}

var _ ports.RouterStore = (*RouterStore)(nil)
