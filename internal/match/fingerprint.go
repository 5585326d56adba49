package match

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// KeyPrefix namespaces match entries in the shared cache.
const KeyPrefix = "job_match:"

// descriptionCap bounds the text that participates in the cache key and the prompt.
const descriptionCap = 3000

// Fingerprint digests the canonical form of a profile. Skill lists are
// lowercased and sorted so reordering a profile does not invalidate the cache.
func Fingerprint(profile discovery.Profile, hasher discovery.Hasher) (string, error) {
	canonical := struct {
		Summary         string   `json:"summary"`
		TechnicalSkills []string `json:"technical_skills"`
		SoftSkills      []string `json:"soft_skills"`
		Industries      []string `json:"industries"`
		YearsExperience int      `json:"years_experience"`
		TargetRoles     []string `json:"target_roles"`
	}{
		Summary:         strings.TrimSpace(profile.Summary),
		TechnicalSkills: canonicalList(profile.TechnicalSkills),
		SoftSkills:      canonicalList(profile.SoftSkills),
		Industries:      canonicalList(profile.Industries),
		YearsExperience: profile.YearsExperience,
		TargetRoles:     canonicalList(profile.TargetRoles),
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	return hasher.Hash(raw)
}

// CacheKey addresses a match by profile fingerprint and posting content.
func CacheKey(fingerprint string, posting discovery.JobPosting, hasher discovery.Hasher) (string, error) {
	sum, err := hasher.Hash([]byte(fingerprint + "|" + normalizedContent(posting)))
	if err != nil {
		return "", err
	}
	return KeyPrefix + sum, nil
}

func normalizedContent(p discovery.JobPosting) string {
	text := strings.ToLower(strings.Join(strings.Fields(p.Title+" "+p.Description), " "))
	return capRunes(text, descriptionCap)
}

func canonicalList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func capRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
