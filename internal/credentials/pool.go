// Package credentials manages rotation, quotas, and cooldowns for scraping identities.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/metrics"
)

// Config controls pool limits.
type Config struct {
	DailyLimit int
	Cooldown   time.Duration
	// Lease bounds how long a claimed credential stays reserved if its holder never reports back.
	Lease time.Duration
}

// Pool hands out credentials with claim-on-select semantics.
type Pool struct {
	store  discovery.CredentialStore
	clock  discovery.Clock
	ids    discovery.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// NewPool builds a Pool over the given store.
func NewPool(
	store discovery.CredentialStore,
	clock discovery.Clock,
	ids discovery.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 100
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{store: store, clock: clock, ids: ids, cfg: cfg, logger: logger}
}

// Acquire claims the best eligible credential. It returns
// discovery.ErrCredentialExhausted when none qualify.
func (p *Pool) Acquire(ctx context.Context) (discovery.Credential, error) {
	now := p.clock.Now()
	cred, err := p.store.Claim(ctx, now, p.cfg.DailyLimit, now.Add(p.cfg.Lease))
	if err != nil {
		if errors.Is(err, discovery.ErrCredentialExhausted) {
			metrics.ObserveCredentialAcquire("exhausted")
			p.logger.Warn("credential pool exhausted")
			return discovery.Credential{}, fmt.Errorf("acquire credential: %w", err)
		}
		metrics.ObserveCredentialAcquire("error")
		return discovery.Credential{}, fmt.Errorf("claim credential: %w", err)
	}
	metrics.ObserveCredentialAcquire("ok")
	p.logger.Debug("credential acquired",
		zap.String("credential_id", cred.ID),
		zap.Bool("premium", cred.IsPremium),
		zap.Int("daily_count", cred.DailyRequestCount),
	)
	return cred, nil
}

// MarkSuccess counts a successful use and releases the claim.
func (p *Pool) MarkSuccess(ctx context.Context, cred discovery.Credential) error {
	if err := p.store.RecordSuccess(ctx, cred.ID, p.clock.Now()); err != nil {
		return fmt.Errorf("record credential success: %w", err)
	}
	return nil
}

// MarkFailure puts the credential into cooldown and releases the claim.
func (p *Pool) MarkFailure(ctx context.Context, cred discovery.Credential) error {
	until := p.clock.Now().Add(p.cfg.Cooldown)
	if err := p.store.RecordFailure(ctx, cred.ID, until); err != nil {
		return fmt.Errorf("record credential failure: %w", err)
	}
	p.logger.Info("credential cooling down",
		zap.String("credential_id", cred.ID),
		zap.Time("cooldown_until", until),
	)
	return nil
}

// Release drops the claim without counting a use.
func (p *Pool) Release(ctx context.Context, cred discovery.Credential) error {
	if err := p.store.Release(ctx, cred.ID); err != nil {
		return fmt.Errorf("release credential: %w", err)
	}
	return nil
}

// ResetDailyCounts zeroes every daily counter.
func (p *Pool) ResetDailyCounts(ctx context.Context) error {
	n, err := p.store.ResetDailyCounts(ctx)
	if err != nil {
		return fmt.Errorf("reset daily counts: %w", err)
	}
	p.logger.Info("daily credential counts reset", zap.Int64("credentials", n))
	return nil
}

// Stats summarizes the pool for operators. Every active credential lands in
// exactly one of the buckets.
func (p *Pool) Stats(ctx context.Context) (discovery.CredentialStats, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return discovery.CredentialStats{}, fmt.Errorf("list credentials: %w", err)
	}
	now := p.clock.Now()
	stats := discovery.CredentialStats{
		DailyLimitPerCredential: p.cfg.DailyLimit,
		CooldownMinutes:         int(p.cfg.Cooldown / time.Minute),
	}
	for _, c := range creds {
		if !c.Active {
			continue
		}
		stats.TotalActive++
		switch {
		case c.DailyRequestCount >= p.cfg.DailyLimit:
			stats.RateLimited++
		case c.CooldownUntil != nil && c.CooldownUntil.After(now):
			stats.InCooldown++
		case c.LeasedUntil != nil && c.LeasedUntil.After(now):
			stats.InUse++
		default:
			stats.Available++
		}
	}
	return stats, nil
}

// Add provisions a new active credential.
func (p *Pool) Add(ctx context.Context, email string, premium bool, cookies []discovery.Cookie) (discovery.Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return discovery.Credential{}, errors.New("email is required")
	}
	id, err := p.ids.NewID()
	if err != nil {
		return discovery.Credential{}, fmt.Errorf("generate credential id: %w", err)
	}
	cred := discovery.Credential{
		ID:        id,
		Email:     email,
		Active:    true,
		IsPremium: premium,
		Cookies:   cookies,
		CreatedAt: p.clock.Now(),
	}
	if err := p.store.Add(ctx, cred); err != nil {
		return discovery.Credential{}, fmt.Errorf("add credential: %w", err)
	}
	return cred, nil
}

// List returns every credential with its email masked.
func (p *Pool) List(ctx context.Context) ([]discovery.Credential, error) {
	creds, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	for i := range creds {
		creds[i].Email = MaskEmail(creds[i].Email)
		creds[i].Cookies = nil
	}
	return creds, nil
}

// Deactivate removes a credential from rotation without deleting it.
func (p *Pool) Deactivate(ctx context.Context, id string) error {
	if err := p.store.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	return nil
}

// MaskEmail keeps the first two characters of the local part.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + domain
}
