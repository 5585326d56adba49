package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// SaveMatch upserts the match for (profile_ref, external_id).
func (s *Store) SaveMatch(ctx context.Context, profileRef string, m discovery.MatchResult) error {
	matching, err := json.Marshal(nonNilSlice(m.MatchingSkills))
	if err != nil {
		return fmt.Errorf("marshal matching skills: %w", err)
	}
	missing, err := json.Marshal(nonNilSlice(m.MissingSkills))
	if err != nil {
		return fmt.Errorf("marshal missing skills: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	profile_ref,
	external_id,
	profile_fingerprint,
	score,
	matching_skills,
	missing_skills,
	experience_fit,
	reasoning,
	source,
	scored_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (profile_ref, external_id) DO UPDATE SET
	profile_fingerprint = EXCLUDED.profile_fingerprint,
	score = EXCLUDED.score,
	matching_skills = EXCLUDED.matching_skills,
	missing_skills = EXCLUDED.missing_skills,
	experience_fit = EXCLUDED.experience_fit,
	reasoning = EXCLUDED.reasoning,
	source = EXCLUDED.source,
	scored_at = EXCLUDED.scored_at`, s.tables.Matches)

	if _, err := s.pool.Exec(ctx, query,
		profileRef,
		m.ExternalID,
		m.ProfileFingerprint,
		m.Score,
		matching,
		missing,
		string(m.ExperienceFit),
		m.Reasoning,
		m.Source,
		m.ScoredAt,
	); err != nil {
		return fmt.Errorf("upsert match %s/%s: %w", profileRef, m.ExternalID, err)
	}
	return nil
}

// Unscored returns the ids with no stored match for fingerprint.
func (s *Store) Unscored(ctx context.Context, profileRef, fingerprint string, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT external_id FROM %s
WHERE profile_ref = $1 AND profile_fingerprint = $2 AND external_id = ANY($3)`, s.tables.Matches)
	rows, err := s.pool.Query(ctx, query, profileRef, fingerprint, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("query scored ids: %w", err)
	}
	defer rows.Close()

	scored := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scored id: %w", err)
		}
		scored[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scored ids: %w", err)
	}
	out := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := scored[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// ListScored returns postings joined with their match, best first.
// A limit of zero means no limit.
func (s *Store) ListScored(ctx context.Context, profileRef string, minScore, limit int) ([]discovery.ScoredJob, error) {
	query := fmt.Sprintf(`
SELECT
	j.external_id, j.title, j.company, j.location, j.description, j.url,
	j.posted_at, j.remote, j.raw, j.discovered_at, j.source_task_id,
	m.profile_fingerprint, m.score, m.matching_skills, m.missing_skills,
	m.experience_fit, m.reasoning, m.source, m.scored_at
FROM %s m
JOIN %s j ON j.external_id = m.external_id
WHERE m.profile_ref = $1 AND m.score >= $2
ORDER BY m.score DESC, j.discovered_at DESC, j.external_id
LIMIT NULLIF($3, 0)`, s.tables.Matches, s.tables.Jobs)

	rows, err := s.pool.Query(ctx, query, profileRef, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("query scored jobs: %w", err)
	}
	defer rows.Close()

	out := make([]discovery.ScoredJob, 0)
	for rows.Next() {
		var (
			m                 discovery.MatchResult
			fit               string
			matching, missing []byte
		)
		p, err := scanPosting(rows,
			&m.ProfileFingerprint, &m.Score, &matching, &missing,
			&fit, &m.Reasoning, &m.Source, &m.ScoredAt,
		)
		if err != nil {
			return nil, err
		}
		if err := decodeList(matching, &m.MatchingSkills); err != nil {
			return nil, err
		}
		if err := decodeList(missing, &m.MissingSkills); err != nil {
			return nil, err
		}
		m.ExternalID = p.ExternalID
		m.ExperienceFit = discovery.ExperienceFit(fit)
		out = append(out, discovery.ScoredJob{JobPosting: p, Match: m})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scored jobs: %w", err)
	}
	return out, nil
}

func decodeList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
