package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// field is one step of a selector cascade. Text must be longer than minLen.
type field struct {
	selector string
	attr     string
	minLen   int
}

var cardSelectors = []string{
	"li.jobs-search-results__list-item",
	"li.scaffold-layout__list-item",
	"div.job-search-card",
	"li[data-occludable-job-id]",
}

var cardIDAttrs = []string{"data-occludable-job-id", "data-entity-urn", "data-job-id"}

var (
	titleFields = []field{
		{selector: "h3.base-search-card__title", minLen: 3},
		{selector: "a.base-card__full-link", minLen: 3},
		{selector: `h3[class*="job-card-list__title"]`, minLen: 3},
		{selector: "a.job-card-list__title", minLen: 3},
		{selector: "div.base-card__title", minLen: 3},
		{selector: "span.sr-only", minLen: 3},
		{selector: `a[class*="job-card-container__link"] strong`, minLen: 3},
	}
	companyFields = []field{
		{selector: "h4.base-search-card__subtitle"},
		{selector: "a.hidden-nested-link"},
		{selector: "span.job-card-container__company-name"},
		{selector: `h4[class*="job-card-container__company-name"]`},
		{selector: "div.base-card__subtitle"},
	}
	locationFields = []field{
		{selector: "span.job-search-card__location"},
		{selector: "div.base-card__metadata span"},
		{selector: `span[class*="job-card-container__metadata-item"]`},
		{selector: "li.job-card-container__metadata-item"},
	}
	urlFields = []field{
		{selector: "a.base-card__full-link", attr: "href"},
		{selector: `a[class*="job-card-container__link"]`, attr: "href"},
		{selector: `a[href*="/jobs/view/"]`, attr: "href"},
	}
	postedFields = []field{
		{selector: "time.job-search-card__listdate", attr: "datetime"},
		{selector: "time.job-search-card__listdate"},
		{selector: "time", attr: "datetime"},
		{selector: "time"},
	}
	descriptionFields = []field{
		{selector: "#job-details", minLen: 100},
		{selector: "div.jobs-box__html-content", minLen: 100},
		{selector: "div.jobs-description__content", minLen: 100},
		{selector: "div.jobs-details__main-content", minLen: 100},
		{selector: "div.show-more-less-html__markup", minLen: 100},
		{selector: "article.jobs-description", minLen: 100},
		{selector: "div.description__text", minLen: 100},
		{selector: `div[class*="jobs-description"]`, minLen: 100},
	}
)

// ExtractCards parses a search results page into raw records.
func ExtractCards(body []byte) ([]discovery.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil, nil
	}

	records := make([]discovery.JobRecord, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		records = append(records, discovery.JobRecord{
			CardID:   cardID(card),
			Title:    cascade(card, titleFields),
			Company:  cascade(card, companyFields),
			Location: cascade(card, locationFields),
			URL:      cascade(card, urlFields),
			PostedAt: cascade(card, postedFields),
		})
	})
	return records, nil
}

// ExtractDescription pulls the description text from a job detail page.
func ExtractDescription(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	return cascade(doc.Selection, descriptionFields), nil
}

func cardID(card *goquery.Selection) string {
	for _, attr := range cardIDAttrs {
		if v, ok := card.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := card.Find("[" + attr + "]").First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// cascade returns the first value that satisfies its field's length rule.
func cascade(root *goquery.Selection, fields []field) string {
	for _, f := range fields {
		var value string
		root.Find(f.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v := s.Text()
			if f.attr != "" {
				v, _ = s.Attr(f.attr)
			}
			v = strings.Join(strings.Fields(v), " ")
			if len(v) > f.minLen {
				value = v
				return false
			}
			return true
		})
		if value != "" {
			return value
		}
	}
	return ""
}
