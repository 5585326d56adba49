// Package scrape runs job searches through a primary engine with a single
// fallback attempt, and turns result pages into normalized postings.
package scrape

import (
	"context"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// Page is one fetched document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Session is an authenticated browsing context bound to one credential.
type Session interface {
	Fetch(ctx context.Context, url string) (Page, error)
	Close()
}

// Engine opens sessions. Implementations live under internal/engine.
type Engine interface {
	Name() string
	Open(ctx context.Context, cred discovery.Credential) (Session, error)
}
