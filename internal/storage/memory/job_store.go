package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// JobStore keeps postings and per-profile matches in memory. It implements
// discovery.JobRepository and discovery.MatchStore.
type JobStore struct {
	mu       sync.RWMutex
	postings map[string]discovery.JobPosting
	matches  map[string]map[string]discovery.MatchResult
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		postings: make(map[string]discovery.JobPosting),
		matches:  make(map[string]map[string]discovery.MatchResult),
	}
}

// SaveIfAbsent stores the posting unless its external id is already known.
func (s *JobStore) SaveIfAbsent(_ context.Context, posting discovery.JobPosting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.postings[posting.ExternalID]; exists {
		return false, nil
	}
	s.postings[posting.ExternalID] = clonePosting(posting)
	return true, nil
}

// GetPostings returns the known postings among externalIDs, in the given order.
func (s *JobStore) GetPostings(_ context.Context, externalIDs []string) ([]discovery.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.JobPosting, 0, len(externalIDs))
	for _, id := range externalIDs {
		if p, ok := s.postings[id]; ok {
			out = append(out, clonePosting(p))
		}
	}
	return out, nil
}

// SaveMatch upserts the match for (profileRef, external id).
func (s *JobStore) SaveMatch(_ context.Context, profileRef string, result discovery.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byJob, ok := s.matches[profileRef]
	if !ok {
		byJob = make(map[string]discovery.MatchResult)
		s.matches[profileRef] = byJob
	}
	byJob[result.ExternalID] = result
	return nil
}

// Unscored returns ids lacking a match computed against fingerprint.
func (s *JobStore) Unscored(_ context.Context, profileRef, fingerprint string, externalIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byJob := s.matches[profileRef]
	out := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if m, ok := byJob[id]; ok && m.ProfileFingerprint == fingerprint {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// ListScored joins matches with postings, best score first, newest first on ties.
func (s *JobStore) ListScored(_ context.Context, profileRef string, minScore, limit int) ([]discovery.ScoredJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]discovery.ScoredJob, 0)
	for id, m := range s.matches[profileRef] {
		if m.Score < minScore {
			continue
		}
		p, ok := s.postings[id]
		if !ok {
			continue
		}
		out = append(out, discovery.ScoredJob{JobPosting: clonePosting(p), Match: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Match.Score != out[j].Match.Score {
			return out[i].Match.Score > out[j].Match.Score
		}
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePosting(p discovery.JobPosting) discovery.JobPosting {
	if p.Raw != nil {
		raw := make(map[string]string, len(p.Raw))
		for k, v := range p.Raw {
			raw[k] = v
		}
		p.Raw = raw
	}
	return p
}
