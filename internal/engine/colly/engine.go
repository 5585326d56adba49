// Package collyengine is the fallback scrape engine: plain HTTP fetches through a
// gocolly collector carrying the credential's cookies.
package collyengine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/scrape"
)

// Name identifies the engine in metrics and failure reasons.
const Name = "colly"

// Config controls collector behavior.
type Config struct {
	BaseURL    string
	UserAgents []string
	Timeout    time.Duration
}

// Engine implements scrape.Engine using Colly collectors over a shared transport.
type Engine struct {
	cfg       Config
	base      *url.URL
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.linkedin.com"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		base:      base,
		transport: newRetryTransport(newHTTPTransport()),
	}, nil
}

// Name implements scrape.Engine.
func (e *Engine) Name() string { return Name }

// Open creates a cookie jar seeded with the credential's cookies. Each session
// gets its own jar so identities never mix.
func (e *Engine) Open(_ context.Context, cred discovery.Credential) (scrape.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	jar.SetCookies(e.base, toHTTPCookies(cred.Cookies))

	ua := ""
	if len(e.cfg.UserAgents) > 0 {
		ua = e.cfg.UserAgents[rand.IntN(len(e.cfg.UserAgents))]
	}
	return &session{engine: e, jar: jar, userAgent: ua}, nil
}

type session struct {
	engine    *Engine
	jar       http.CookieJar
	userAgent string
}

// Fetch executes a single GET through a fresh collector bound to the session jar.
func (s *session) Fetch(ctx context.Context, target string) (scrape.Page, error) {
	var (
		page     scrape.Page
		fetchErr error
	)
	collector := s.buildCollector(&page, &fetchErr)
	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return scrape.Page{}, err
	}
	return page, nil
}

// Close is a no-op; the jar is garbage collected with the session.
func (s *session) Close() {}

func (s *session) buildCollector(page *scrape.Page, fetchErr *error) *colly.Collector {
	collector := colly.NewCollector(colly.AllowURLRevisit())
	if s.userAgent != "" {
		collector.UserAgent = s.userAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(s.engine.transport)
	collector.SetCookieJar(s.jar)
	collector.SetRequestTimeout(s.engine.cfg.Timeout)
	configureCollectorHooks(collector, page, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, page *scrape.Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = scrape.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func toHTTPCookies(cookies []discovery.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires != nil {
			hc.Expires = *c.Expires
		}
		out = append(out, hc)
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
