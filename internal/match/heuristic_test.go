package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func TestHeuristic(t *testing.T) {
	t.Parallel()

	posting := discovery.JobPosting{
		ExternalID:  "42",
		Title:       "Backend Engineer (Go)",
		Description: "We use Go, PostgreSQL and Kubernetes. Strong communication expected.",
	}

	tests := []struct {
		name      string
		profile   discovery.Profile
		wantScore int
		wantFit   discovery.ExperienceFit
		matching  []string
		missing   []string
	}{
		{
			name:      "no skills",
			profile:   discovery.Profile{YearsExperience: 3},
			wantScore: 55,
			wantFit:   discovery.FitModerate,
			matching:  []string{},
			missing:   []string{},
		},
		{
			// 3 of 4: base 52, bonus 12, exp 10.
			name: "partial overlap with experience",
			profile: discovery.Profile{
				TechnicalSkills: []string{"Go", "PostgreSQL", "Rust"},
				SoftSkills:      []string{"Communication"},
				YearsExperience: 5,
			},
			wantScore: 74,
			wantFit:   discovery.FitModerate,
			matching:  []string{"go", "postgresql", "communication"},
			missing:   []string{"rust"},
		},
		{
			// 0 of 2: base 0, bonus 0, exp 5.
			name:      "no overlap junior",
			profile:   discovery.Profile{TechnicalSkills: []string{"cobol", "fortran"}},
			wantScore: 5,
			wantFit:   discovery.FitWeak,
			matching:  []string{},
			missing:   []string{"cobol", "fortran"},
		},
		{
			// 3 of 3: base 70, bonus 12, exp 10.
			name:      "full overlap",
			profile:   discovery.Profile{TechnicalSkills: []string{"go", "kubernetes", "GO", "postgresql"}, YearsExperience: 8},
			wantScore: 92,
			wantFit:   discovery.FitExcellent,
			matching:  []string{"go", "kubernetes", "postgresql"},
			missing:   []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Heuristic(tc.profile, posting)
			require.Equal(t, tc.wantScore, res.Score)
			require.Equal(t, tc.wantFit, res.ExperienceFit)
			require.Equal(t, tc.matching, res.MatchingSkills)
			require.Equal(t, tc.missing, res.MissingSkills)
			require.Equal(t, discovery.SourceHeuristic, res.Source)
			require.Equal(t, "42", res.ExternalID)
			require.NotEmpty(t, res.Reasoning)
		})
	}
}

func TestHeuristicCapsAndBounds(t *testing.T) {
	t.Parallel()

	skills := make([]string, 0, 40)
	desc := ""
	for i := 0; i < 40; i++ {
		s := string(rune('a'+i%26)) + string(rune('a'+i/26)) + "skill"
		skills = append(skills, s)
		if i%2 == 0 {
			desc += s + " "
		}
	}
	res := Heuristic(
		discovery.Profile{TechnicalSkills: skills, YearsExperience: 1},
		discovery.JobPosting{Title: "x", Description: desc},
	)
	require.Len(t, res.MatchingSkills, maxHeuristicMatching)
	require.Len(t, res.MissingSkills, maxHeuristicMissing)
	require.GreaterOrEqual(t, res.Score, 0)
	require.LessOrEqual(t, res.Score, 100)
	require.Equal(t, "Heuristic estimate: found 20 of 40 profile skills in the posting.", res.Reasoning)
}
