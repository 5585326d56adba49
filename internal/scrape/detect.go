package scrape

import (
	"bytes"
	"errors"
	"net/url"
	"strings"
)

// ErrBlocked marks a page that loaded but is a login wall, a challenge, or a
// script-only shell with nothing to extract.
var ErrBlocked = errors.New("page blocked")

const shellBodyThreshold = 2048

var wallPaths = []string{"/authwall", "/checkpoint/", "/uas/login", "/login"}

var challengeMarkers = [][]byte{
	[]byte(`id="captcha-internal"`),
	[]byte(`/checkpoint/challenge`),
	[]byte(`name="session_key"`),
}

// DetectBlock reports why a page cannot be scraped, or "" when it looks usable.
func DetectBlock(page Page) string {
	if page.URL != "" {
		if u, err := url.Parse(page.URL); err == nil {
			for _, p := range wallPaths {
				if strings.HasPrefix(u.Path, p) {
					return "redirected to " + p
				}
			}
		}
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(page.Body, marker) {
			return "challenge page"
		}
	}
	if len(page.Body) > 0 && len(page.Body) < shellBodyThreshold && scriptDensityHigh(page.Body) {
		return "script-only shell"
	}
	return ""
}

// scriptDensityHigh reports whether script elements cover a quarter or more of body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// malformed tag swallows the rest
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
