package match

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	valid := `{"match_score": 87, "matching_skills": ["go"], "missing_skills": [], ` +
		`"experience_fit": "Strong", "reasoning": "Good fit."}`

	res, err := ParseReply(valid)
	require.NoError(t, err)
	require.Equal(t, 87, res.Score)
	require.Equal(t, discovery.FitStrong, res.ExperienceFit)
	require.Equal(t, []string{"go"}, res.MatchingSkills)
	require.Equal(t, []string{}, res.MissingSkills)
	require.Equal(t, discovery.SourceAI, res.Source)

	fenced, err := ParseReply("```json\n" + valid + "\n```")
	require.NoError(t, err)
	require.Equal(t, res, fenced)
}

func TestParseReplyClampsAndMapsFit(t *testing.T) {
	t.Parallel()

	res, err := ParseReply(`{"match_score": 140.6, "matching_skills": null, "missing_skills": [], ` +
		`"experience_fit": "superb", "reasoning": "x"}`)
	require.NoError(t, err)
	require.Equal(t, 100, res.Score)
	require.Equal(t, discovery.FitExcellent, res.ExperienceFit)
	require.NotNil(t, res.MatchingSkills)

	res, err = ParseReply(`{"match_score": -3, "matching_skills": [], "missing_skills": [], ` +
		`"experience_fit": "", "reasoning": "x"}`)
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)
	require.Equal(t, discovery.FitWeak, res.ExperienceFit)
}

func TestParseReplyMalformed(t *testing.T) {
	t.Parallel()

	for name, text := range map[string]string{
		"not json":      "I think this is a great match!",
		"missing key":   `{"match_score": 50, "matching_skills": [], "missing_skills": [], "reasoning": "x"}`,
		"wrong type":    `{"match_score": "high", "matching_skills": [], "missing_skills": [], "experience_fit": "strong", "reasoning": "x"}`,
		"empty reason":  `{"match_score": 50, "matching_skills": [], "missing_skills": [], "experience_fit": "strong", "reasoning": " "}`,
		"empty content": "",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseReply(text)
			var svcErr *discovery.ScoringServiceError
			require.True(t, errors.As(err, &svcErr), "got %v", err)
		})
	}
}

func TestBuildPromptCapsInputs(t *testing.T) {
	t.Parallel()

	skills := make([]string, 40)
	for i := range skills {
		skills[i] = "s" + strings.Repeat("x", i)
	}
	prompt := BuildPrompt(
		discovery.Profile{TechnicalSkills: skills, Summary: strings.Repeat("y", 900)},
		discovery.JobPosting{Title: "Go Dev", Description: strings.Repeat("z", 5000)},
	)
	require.Contains(t, prompt, "Title: Go Dev")
	require.Contains(t, prompt, skills[29])
	require.NotContains(t, prompt, skills[30]+",")
	require.NotContains(t, prompt, strings.Repeat("y", 501))
	require.NotContains(t, prompt, strings.Repeat("z", 3001))
	require.Contains(t, prompt, "Soft skills: none listed")
}
