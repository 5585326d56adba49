package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// ProfileStore keeps candidate profiles keyed by reference.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]discovery.Profile
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]discovery.Profile)}
}

// GetProfile returns the profile or discovery.ErrProfileNotFound.
func (s *ProfileStore) GetProfile(_ context.Context, ref string) (discovery.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[ref]
	if !ok {
		return discovery.Profile{}, discovery.ErrProfileNotFound
	}
	return p, nil
}

// PutProfile inserts or replaces a profile.
func (s *ProfileStore) PutProfile(_ context.Context, profile discovery.Profile) error {
	if profile.Ref == "" {
		return errors.New("profile ref is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.Ref] = profile
	return nil
}
