package scrape

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const (
	// PageSize is how many cards one search page holds.
	PageSize = 25
	maxPages = 5
)

// PageCount returns how many search pages to visit for maxResults.
func PageCount(maxResults int) int {
	return min(maxPages, maxResults/PageSize+1)
}

// SearchURL builds the search page URL for a 1-based page number.
func SearchURL(baseURL string, req discovery.SearchRequest, page int) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString("/jobs/search/?keywords=")
	b.WriteString(url.QueryEscape(req.Query))
	if req.Location != "" {
		b.WriteString("&location=")
		b.WriteString(url.QueryEscape(req.Location))
	}
	b.WriteString("&f_AL=true")
	if req.RemoteOnly {
		b.WriteString("&f_WT=2")
	}
	if page > 1 {
		b.WriteString("&start=")
		b.WriteString(strconv.Itoa(PageSize * (page - 1)))
	}
	return b.String()
}
