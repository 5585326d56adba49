package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// SystemPrompt is sent with every scoring call.
const SystemPrompt = "You are a job matching assistant. Score how well the candidate fits the posting " +
	"from 0 to 100, weighting technical skills most, then soft skills, experience and industry. " +
	"Return JSON only."

// SchemaName labels ResponseSchema in the structured output request.
const SchemaName = "job_match"

// ResponseSchema is the structured output contract for a scoring reply.
var ResponseSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"match_score":     map[string]any{"type": "integer"},
		"matching_skills": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"missing_skills":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"experience_fit": map[string]any{
			"type": "string",
			"enum": []string{"weak", "moderate", "strong", "excellent"},
		},
		"reasoning": map[string]any{"type": "string"},
	},
	"required": requiredKeys,
}

var requiredKeys = []string{"match_score", "matching_skills", "missing_skills", "experience_fit", "reasoning"}

const (
	summaryCap    = 500
	technicalCap  = 30
	softSkillsCap = 15
	industriesCap = 10
)

// BuildPrompt renders the user message for one profile and posting.
func BuildPrompt(profile discovery.Profile, posting discovery.JobPosting) string {
	var b strings.Builder
	b.WriteString("CANDIDATE\n")
	fmt.Fprintf(&b, "Technical skills: %s\n", listOr(firstN(profile.TechnicalSkills, technicalCap), "none listed"))
	fmt.Fprintf(&b, "Soft skills: %s\n", listOr(firstN(profile.SoftSkills, softSkillsCap), "none listed"))
	fmt.Fprintf(&b, "Years of experience: %d\n", profile.YearsExperience)
	fmt.Fprintf(&b, "Industries: %s\n", listOr(firstN(profile.Industries, industriesCap), "not specified"))
	if len(profile.TargetRoles) > 0 {
		fmt.Fprintf(&b, "Target roles: %s\n", strings.Join(profile.TargetRoles, ", "))
	}
	fmt.Fprintf(&b, "Summary: %s\n\n", listOr([]string{capRunes(strings.TrimSpace(profile.Summary), summaryCap)}, "none"))
	b.WriteString("POSTING\n")
	fmt.Fprintf(&b, "Title: %s\n", posting.Title)
	fmt.Fprintf(&b, "Company: %s\n", listOr([]string{posting.Company}, "unknown"))
	fmt.Fprintf(&b, "Description:\n%s\n", capRunes(posting.Description, descriptionCap))
	return b.String()
}

type aiReply struct {
	MatchScore     float64  `json:"match_score"`
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	ExperienceFit  string   `json:"experience_fit"`
	Reasoning      string   `json:"reasoning"`
}

// ParseReply validates a model reply. Malformed output is a *discovery.ScoringServiceError.
func ParseReply(text string) (discovery.MatchResult, error) {
	text = stripFences(text)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return discovery.MatchResult{}, &discovery.ScoringServiceError{Op: "parse", Err: err}
	}
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			return discovery.MatchResult{}, &discovery.ScoringServiceError{
				Op:  "validate",
				Err: fmt.Errorf("missing key %q", k),
			}
		}
	}
	var reply aiReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return discovery.MatchResult{}, &discovery.ScoringServiceError{Op: "parse", Err: err}
	}
	if strings.TrimSpace(reply.Reasoning) == "" {
		return discovery.MatchResult{}, &discovery.ScoringServiceError{Op: "validate", Err: errors.New("empty reasoning")}
	}

	score := discovery.ClampScore(int(reply.MatchScore))
	fit, ok := discovery.ParseExperienceFit(strings.ToLower(strings.TrimSpace(reply.ExperienceFit)))
	if !ok {
		fit = discovery.FitForScore(score)
	}
	return discovery.MatchResult{
		Score:          score,
		MatchingSkills: nonNil(reply.MatchingSkills),
		MissingSkills:  nonNil(reply.MissingSkills),
		ExperienceFit:  fit,
		Reasoning:      strings.TrimSpace(reply.Reasoning),
		Source:         discovery.SourceAI,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func firstN(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func listOr(in []string, fallback string) string {
	joined := strings.TrimSpace(strings.Join(in, ", "))
	if joined == "" {
		return fallback
	}
	return joined
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
