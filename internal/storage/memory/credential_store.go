package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// CredentialStore keeps credentials in memory. Claim runs under a single lock
// so concurrent callers never receive the same credential.
type CredentialStore struct {
	mu    sync.Mutex
	creds map[string]discovery.Credential
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]discovery.Credential)}
}

// Claim selects and leases the first eligible credential.
func (s *CredentialStore) Claim(
	_ context.Context,
	now time.Time,
	dailyLimit int,
	leaseUntil time.Time,
) (discovery.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *discovery.Credential
	for _, c := range s.creds {
		if !c.Eligible(now, dailyLimit) {
			continue
		}
		if best == nil || c.SelectedBefore(*best) {
			candidate := c
			best = &candidate
		}
	}
	if best == nil {
		return discovery.Credential{}, discovery.ErrCredentialExhausted
	}
	best.LeasedUntil = pointerTime(leaseUntil)
	s.creds[best.ID] = *best
	return cloneCredential(*best), nil
}

// RecordSuccess increments the daily count and clears the lease.
func (s *CredentialStore) RecordSuccess(_ context.Context, id string, usedAt time.Time) error {
	return s.update(id, func(c *discovery.Credential) {
		c.DailyRequestCount++
		c.LastUsedAt = pointerTime(usedAt)
		c.LeasedUntil = nil
	})
}

// RecordFailure starts a cooldown and clears the lease.
func (s *CredentialStore) RecordFailure(_ context.Context, id string, cooldownUntil time.Time) error {
	return s.update(id, func(c *discovery.Credential) {
		c.CooldownUntil = pointerTime(cooldownUntil)
		c.LeasedUntil = nil
	})
}

// Release clears the lease.
func (s *CredentialStore) Release(_ context.Context, id string) error {
	return s.update(id, func(c *discovery.Credential) {
		c.LeasedUntil = nil
	})
}

// ResetDailyCounts zeroes every counter.
func (s *CredentialStore) ResetDailyCounts(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.creds {
		c.DailyRequestCount = 0
		s.creds[id] = c
	}
	return int64(len(s.creds)), nil
}

// Add stores a new credential.
func (s *CredentialStore) Add(_ context.Context, cred discovery.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[cred.ID]; exists {
		return fmt.Errorf("credential %s already exists", cred.ID)
	}
	s.creds[cred.ID] = cloneCredential(cred)
	return nil
}

// List returns all credentials ordered by ID.
func (s *CredentialStore) List(context.Context) ([]discovery.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]discovery.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, cloneCredential(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Deactivate marks a credential inactive.
func (s *CredentialStore) Deactivate(_ context.Context, id string) error {
	return s.update(id, func(c *discovery.Credential) {
		c.Active = false
	})
}

func (s *CredentialStore) update(id string, fn func(*discovery.Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return discovery.ErrCredentialNotFound
	}
	fn(&c)
	s.creds[id] = c
	return nil
}

func cloneCredential(c discovery.Credential) discovery.Credential {
	if c.Cookies != nil {
		c.Cookies = append([]discovery.Cookie(nil), c.Cookies...)
	}
	return c
}
