package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/ports"
)

// ErrDuplicate is returned when a unique key is already taken.
var ErrDuplicate = ports.ErrDuplicate

// SubscriberStore is an in-memory implementation of ports.SubscriberStore.
type SubscriberStore struct {
	mu        sync.RWMutex
	subs      map[string]billing.Subscriber // by ID
	byAccount map[string]string             // account number -> ID
}

// NewSubscriberStore creates a new in-memory subscriber store.
func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{
		subs:      make(map[string]billing.Subscriber),
		byAccount: make(map[string]string),
	}
}

// Get retrieves a subscriber by ID.
func (s *SubscriberStore) Get(ctx context.Context, id string) (billing.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return billing.Subscriber{}, ports.ErrNotFound
	}
	return sub.Clone(), nil
}

// GetByAccount retrieves a subscriber by account number.
func (s *SubscriberStore) GetByAccount(ctx context.Context, accountNumber string) (billing.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAccount[accountNumber]
	if !ok {
		return billing.Subscriber{}, ports.ErrNotFound
	}
	return s.subs[id].Clone(), nil
}

// List returns every subscriber ordered by name.
func (s *SubscriberStore) List(ctx context.Context) ([]billing.Subscriber, error) {
	return s.filter(func(billing.Subscriber) bool { return true }), nil
}

// ListActive returns subscribers that are not archived.
func (s *SubscriberStore) ListActive(ctx context.Context) ([]billing.Subscriber, error) {
	return s.filter(func(sub billing.Subscriber) bool { return !sub.IsArchived }), nil
}

// ListEnforceable returns non-archived subscribers with a network credential.
func (s *SubscriberStore) ListEnforceable(ctx context.Context) ([]billing.Subscriber, error) {
	return s.filter(func(sub billing.Subscriber) bool {
		return !sub.IsArchived && sub.HasCredential()
	}), nil
}

func (s *SubscriberStore) filter(keep func(billing.Subscriber) bool) []billing.Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]billing.Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if keep(sub) {
			result = append(result, sub.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Create stores a new subscriber.
func (s *SubscriberStore) Create(ctx context.Context, sub billing.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return ErrDuplicate
	}
	if sub.AccountNumber != "" {
		if _, exists := s.byAccount[sub.AccountNumber]; exists {
			return ErrDuplicate
		}
		s.byAccount[sub.AccountNumber] = sub.ID
	}
	s.subs[sub.ID] = sub.Clone()
	return nil
}

// Update replaces an existing subscriber.
func (s *SubscriberStore) Update(ctx context.Context, sub billing.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.subs[sub.ID]
	if !ok {
		return ports.ErrNotFound
	}

	if old.AccountNumber != sub.AccountNumber {
		if other, taken := s.byAccount[sub.AccountNumber]; taken && other != sub.ID {
			return ErrDuplicate
		}
		delete(s.byAccount, old.AccountNumber)
		if sub.AccountNumber != "" {
			s.byAccount[sub.AccountNumber] = sub.ID
		}
	}

	s.subs[sub.ID] = sub.Clone()
	return nil
}

// Ensure interface compliance.
var _ ports.SubscriberStore = (*SubscriberStore)(nil)
