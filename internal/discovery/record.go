package discovery

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DescriptionCap bounds stored descriptions.
const DescriptionCap = 5000

var (
	// ErrMissingTitle marks records the extractor could not title.
	ErrMissingTitle = errors.New("record has no title")

	jobViewID = regexp.MustCompile(`/jobs/view/(?:[^/]*-)?(\d+)`)
	urnID     = regexp.MustCompile(`(\d{5,})$`)
)

// JobRecord is the raw result of selector-cascade extraction. Every field is
// optional until Normalize decides whether the record is usable.
type JobRecord struct {
	CardID      string
	Title       string
	Company     string
	Location    string
	URL         string
	PostedAt    string
	Description string
	Remote      bool
}

// Normalize turns the record into a posting. It fails only when the title is
// missing; other gaps are returned as field names for warning aggregation.
func (r JobRecord) Normalize(baseURL string, now time.Time, hasher Hasher) (JobPosting, []string, error) {
	title := collapse(r.Title)
	if title == "" {
		return JobPosting{}, nil, ErrMissingTitle
	}
	p := JobPosting{
		Title:        title,
		Company:      collapse(r.Company),
		Location:     collapse(r.Location),
		PostedAt:     strings.TrimSpace(r.PostedAt),
		Description:  truncate(strings.TrimSpace(r.Description), DescriptionCap),
		URL:          CleanURL(baseURL, r.URL),
		DiscoveredAt: now,
		Raw:          map[string]string{},
	}
	p.Remote = r.Remote || strings.Contains(strings.ToLower(p.Location), "remote")

	var missing []string
	for field, v := range map[string]string{
		"company":     p.Company,
		"location":    p.Location,
		"url":         p.URL,
		"posted_at":   p.PostedAt,
		"description": p.Description,
	} {
		if v == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	if r.CardID != "" {
		p.Raw["card_id"] = r.CardID
	}

	id, err := externalID(r.CardID, p, hasher)
	if err != nil {
		return JobPosting{}, missing, err
	}
	p.ExternalID = id
	return p, missing, nil
}

// CleanURL strips the query string and resolves relative links against base.
func CleanURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return raw
	}
	return b.ResolveReference(u).String()
}

func externalID(cardID string, p JobPosting, hasher Hasher) (string, error) {
	if m := urnID.FindStringSubmatch(strings.TrimSpace(cardID)); m != nil {
		return m[1], nil
	}
	if m := jobViewID.FindStringSubmatch(p.URL); m != nil {
		return m[1], nil
	}
	if hasher == nil {
		return "", errors.New("hasher required for synthetic external id")
	}
	key := strings.ToLower(p.Title + "|" + p.Company + "|" + p.Location)
	sum, err := hasher.Hash([]byte(key))
	if err != nil {
		return "", fmt.Errorf("hash external id: %w", err)
	}
	return "h-" + sum[:24], nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
