// Package stealth is the primary scrape engine: a headless Chrome session
// driven through chromedp with randomized identity and human-like pacing.
package stealth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/scrape"
)

// Name identifies the engine in metrics and failure reasons.
const Name = "stealth"

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

type viewport struct {
	width, height int64
}

var viewports = []viewport{
	{1920, 1080}, {1680, 1050}, {1536, 864}, {1440, 900}, {1366, 768},
}

// Config controls the headless engine.
type Config struct {
	MaxParallel       int
	UserAgents        []string
	NavigationTimeout time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	CookieDomain      string
}

// Engine implements scrape.Engine using chromedp and headless Chrome.
type Engine struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates the engine and its browser allocator. Chrome starts lazily on the first session.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.CookieDomain == "" {
		cfg.CookieDomain = ".linkedin.com"
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Name implements scrape.Engine.
func (e *Engine) Name() string { return Name }

// Close shuts down the browser allocator.
func (e *Engine) Close() {
	e.allocCancel()
}

// Open starts a tab with a randomized identity and the credential's cookies installed.
func (e *Engine) Open(ctx context.Context, cred discovery.Credential) (scrape.Session, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	ua := e.cfg.UserAgents[rand.IntN(len(e.cfg.UserAgents))]
	vp := viewports[rand.IntN(len(viewports))]

	// The first Run allocates the target, so it must use tabCtx itself.
	guard := time.AfterFunc(e.cfg.NavigationTimeout, tabCancel)
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, e.setupAction(ua, vp, cred.Cookies))
	guard.Stop()
	stop()
	if err != nil {
		tabCancel()
		e.release()
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	return &session{engine: e, tabCtx: tabCtx, cancel: tabCancel, meta: meta}, nil
}

func (e *Engine) setupAction(ua string, vp viewport, cookies []discovery.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(vp.width, vp.height, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if params := toCookieParams(cookies, e.cfg.CookieDomain); len(params) > 0 {
			if err := network.SetCookies(params).Do(ctx); err != nil {
				return fmt.Errorf("install cookies: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

// pause returns a random duration in [MinDelay, MaxDelay].
func (e *Engine) pause() time.Duration {
	spread := e.cfg.MaxDelay - e.cfg.MinDelay
	if spread <= 0 {
		return e.cfg.MinDelay
	}
	return e.cfg.MinDelay + rand.N(spread+1)
}

type session struct {
	engine *Engine
	tabCtx context.Context
	cancel context.CancelFunc
	meta   *responseMeta
	once   sync.Once
}

// Fetch navigates the tab, scrolls to trigger lazy-loaded cards, and returns the rendered DOM.
func (s *session) Fetch(ctx context.Context, url string) (scrape.Page, error) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.engine.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.meta.reset()
	var html, finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.engine.pause()),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(s.engine.pause()/2),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return scrape.Page{}, fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return scrape.Page{}, fmt.Errorf("chromedp run: %w", err)
	}
	status, respURL := s.meta.snapshotWithFallbacks(url, finalURL)
	return scrape.Page{URL: respURL, StatusCode: status, Body: []byte(html)}, nil
}

// Close closes the tab and frees its slot.
func (s *session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.engine.release()
	})
}

func toCookieParams(cookies []discovery.Cookie, defaultDomain string) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Domain == "" {
			p.Domain = defaultDomain
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if c.Expires != nil {
			exp := cdp.TimeSinceEpoch(*c.Expires)
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status, m.url = 0, ""
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}
