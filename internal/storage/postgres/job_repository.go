package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const jobColumns = `external_id, title, company, location, description, url, posted_at, remote, raw, discovered_at, source_task_id`

// SaveIfAbsent inserts the posting and reports whether a row was written.
// ON CONFLICT makes the check and insert a single statement.
func (s *Store) SaveIfAbsent(ctx context.Context, p discovery.JobPosting) (bool, error) {
	raw, err := json.Marshal(nonNilMap(p.Raw))
	if err != nil {
		return false, fmt.Errorf("marshal raw fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (external_id) DO NOTHING`, s.tables.Jobs, jobColumns)

	tag, err := s.pool.Exec(ctx, query,
		p.ExternalID,
		p.Title,
		p.Company,
		p.Location,
		p.Description,
		p.URL,
		p.PostedAt,
		p.Remote,
		raw,
		p.DiscoveredAt,
		p.SourceTaskID,
	)
	if err != nil {
		return false, fmt.Errorf("insert job %s: %w", p.ExternalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPostings loads postings by external id, preserving the order of ids.
func (s *Store) GetPostings(ctx context.Context, externalIDs []string) ([]discovery.JobPosting, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE external_id = ANY($1)`, jobColumns, s.tables.Jobs)
	rows, err := s.pool.Query(ctx, query, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]discovery.JobPosting, len(externalIDs))
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		byID[p.ExternalID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	out := make([]discovery.JobPosting, 0, len(byID))
	for _, id := range externalIDs {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func scanPosting(row scanner, extra ...any) (discovery.JobPosting, error) {
	var (
		p   discovery.JobPosting
		raw []byte
	)
	dest := []any{
		&p.ExternalID,
		&p.Title,
		&p.Company,
		&p.Location,
		&p.Description,
		&p.URL,
		&p.PostedAt,
		&p.Remote,
		&raw,
		&p.DiscoveredAt,
		&p.SourceTaskID,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return discovery.JobPosting{}, fmt.Errorf("scan job: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Raw); err != nil {
			return discovery.JobPosting{}, fmt.Errorf("decode raw fields for %s: %w", p.ExternalID, err)
		}
	}
	return p, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
