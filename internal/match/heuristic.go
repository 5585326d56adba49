package match

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const (
	maxHeuristicMatching = 15
	maxHeuristicMissing  = 10
)

// Heuristic scores a posting by keyword overlap. It is deterministic and never fails.
func Heuristic(profile discovery.Profile, posting discovery.JobPosting) discovery.MatchResult {
	text := strings.ToLower(posting.Description + " " + posting.Title)

	technical := lowerUnique(profile.TechnicalSkills)
	skills := lowerUnique(append(append([]string{}, profile.TechnicalSkills...), profile.SoftSkills...))

	res := discovery.MatchResult{
		ExternalID:     posting.ExternalID,
		MatchingSkills: []string{},
		MissingSkills:  []string{},
		Source:         discovery.SourceHeuristic,
	}
	if len(skills) == 0 {
		res.Score = 55
		res.ExperienceFit = discovery.FitModerate
		res.Reasoning = "Profile has no listed skills; default heuristic score."
		return res
	}

	matched := make(map[string]bool, len(skills))
	for _, s := range skills {
		if strings.Contains(text, s) {
			matched[s] = true
			if len(res.MatchingSkills) < maxHeuristicMatching {
				res.MatchingSkills = append(res.MatchingSkills, s)
			}
		}
	}
	for _, s := range technical {
		if !matched[s] && len(res.MissingSkills) < maxHeuristicMissing {
			res.MissingSkills = append(res.MissingSkills, s)
		}
	}

	m := len(matched)
	base := min(70, int(float64(m)/float64(len(skills))*70))
	bonus := min(20, m*4)
	exp := 5
	if profile.YearsExperience > 0 {
		exp = 10
	}
	res.Score = discovery.ClampScore(min(100, base+bonus+exp))
	res.ExperienceFit = discovery.FitForScore(res.Score)
	res.Reasoning = fmt.Sprintf("Heuristic estimate: found %d of %d profile skills in the posting.", m, len(skills))
	return res
}

func lowerUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
