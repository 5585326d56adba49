package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// GetProfile loads a profile by reference.
func (s *Store) GetProfile(ctx context.Context, ref string) (discovery.Profile, error) {
	query := fmt.Sprintf(`
SELECT ref, summary, technical_skills, soft_skills, industries, years_experience, target_roles
FROM %s WHERE ref = $1`, s.tables.Profiles)

	var (
		p                                    discovery.Profile
		technical, soft, industries, targets []byte
	)
	err := s.pool.QueryRow(ctx, query, ref).Scan(
		&p.Ref, &p.Summary, &technical, &soft, &industries, &p.YearsExperience, &targets,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.Profile{}, discovery.ErrProfileNotFound
	}
	if err != nil {
		return discovery.Profile{}, fmt.Errorf("query profile %s: %w", ref, err)
	}
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{
		{technical, &p.TechnicalSkills},
		{soft, &p.SoftSkills},
		{industries, &p.Industries},
		{targets, &p.TargetRoles},
	} {
		if err := decodeList(f.raw, f.dst); err != nil {
			return discovery.Profile{}, fmt.Errorf("profile %s: %w", ref, err)
		}
	}
	return p, nil
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(ctx context.Context, p discovery.Profile) error {
	if p.Ref == "" {
		return errors.New("profile ref is required")
	}
	lists := make([][]byte, 0, 4)
	for _, l := range [][]string{p.TechnicalSkills, p.SoftSkills, p.Industries, p.TargetRoles} {
		b, err := json.Marshal(nonNilSlice(l))
		if err != nil {
			return fmt.Errorf("marshal profile list: %w", err)
		}
		lists = append(lists, b)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (ref, summary, technical_skills, soft_skills, industries, years_experience, target_roles)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (ref) DO UPDATE SET
	summary = EXCLUDED.summary,
	technical_skills = EXCLUDED.technical_skills,
	soft_skills = EXCLUDED.soft_skills,
	industries = EXCLUDED.industries,
	years_experience = EXCLUDED.years_experience,
	target_roles = EXCLUDED.target_roles`, s.tables.Profiles)

	if _, err := s.pool.Exec(ctx, query,
		p.Ref, p.Summary, lists[0], lists[1], lists[2], p.YearsExperience, lists[3],
	); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Ref, err)
	}
	return nil
}
