package capability

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/model"
)

// ReconType classifies why a jurisdiction needs agent attention.
type ReconType string

const (
	ReconFull    ReconType = "full"    // no profile exists
	ReconRefresh ReconType = "refresh" // profile expired or schema predates current
	ReconPartial ReconType = "partial" // inside the warning window; pre-warm
)

// Target is one jurisdiction the dispatch partition selected for recon.
type Target struct {
	JurisdictionID string    `json:"jurisdiction_id"`
	Type           ReconType `json:"type"`
}

// DispatchPlan partitions a jurisdiction set into recon work and
// already-fresh profiles. Exhaustive and disjoint over the input.
type DispatchPlan struct {
	ToRecon      []Target `json:"to_recon"`
	AlreadyFresh []string `json:"already_fresh"`
}

// ProfileStore is the persistence contract for capability profiles.
// Get returns (nil, nil) when no profile exists. Upsert enforces the
// optimistic expected-version check and returns *model.ConflictError on
// mismatch.
type ProfileStore interface {
	GetProfile(ctx context.Context, jurisdictionID string) (*Profile, error)
	UpsertProfile(ctx context.Context, jurisdictionID string, p Profile, expectedVersion int) error
}

// ZipResolver maps a zip code to its jurisdiction id. Deterministic;
// returns *model.NotFoundError for unmapped zips.
type ZipResolver interface {
	ResolveZip(zip string) (string, error)
}

// Config tunes cache freshness behavior.
type Config struct {
	TTL           time.Duration
	WarningWindow time.Duration
	SchemaVersion int
}

// Cache decides, per jurisdiction, whether stored capability knowledge
// is usable or recon must be dispatched.
type Cache struct {
	store    ProfileStore
	resolver ZipResolver
	cfg      Config
	now      func() time.Time // injectable for testing
}

// NewCache builds a cache over the given store and zip resolver.
func NewCache(store ProfileStore, resolver ZipResolver, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 90 * 24 * time.Hour
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 7 * 24 * time.Hour
	}
	return &Cache{store: store, resolver: resolver, cfg: cfg, now: time.Now}
}

// WithNow fixes the clock for testing.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

// ResolveJurisdiction maps a zip to its jurisdiction id.
func (c *Cache) ResolveJurisdiction(zip string) (string, error) {
	return c.resolver.ResolveZip(zip)
}

// GetProfile fetches the stored profile, or (nil, nil) when missing.
// No side effects.
func (c *Cache) GetProfile(ctx context.Context, jurisdictionID string) (*Profile, error) {
	return c.store.GetProfile(ctx, jurisdictionID)
}

// NeedsRefresh reports whether a profile is unusable as-is: missing,
// expired, or written under an older recon schema.
func (c *Cache) NeedsRefresh(p *Profile) bool {
	if p == nil {
		return true
	}
	if p.IsExpired(c.now()) {
		return true
	}
	return p.Metadata.SchemaVersion < c.cfg.SchemaVersion
}

// classify maps one profile state to its recon type, or "" when fresh.
func (c *Cache) classify(p *Profile) ReconType {
	switch {
	case p == nil:
		return ReconFull
	case p.IsExpired(c.now()) || p.Metadata.SchemaVersion < c.cfg.SchemaVersion:
		return ReconRefresh
	case p.ExpiresSoon(c.now(), c.cfg.WarningWindow):
		return ReconPartial
	default:
		return ""
	}
}

// DispatchRecon partitions the jurisdiction set by current profile
// state. The partition is a pure function of stored state: no ordering
// dependency on call order, exhaustive and disjoint over the input.
func (c *Cache) DispatchRecon(ctx context.Context, jurisdictionIDs []string) (DispatchPlan, error) {
	plan := DispatchPlan{}
	seen := make(map[string]bool, len(jurisdictionIDs))
	for _, id := range jurisdictionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		p, err := c.store.GetProfile(ctx, id)
		if err != nil {
			return DispatchPlan{}, eris.Wrapf(err, "capability: get profile %s", id)
		}
		if rt := c.classify(p); rt != "" {
			plan.ToRecon = append(plan.ToRecon, Target{JurisdictionID: id, Type: rt})
		} else {
			plan.AlreadyFresh = append(plan.AlreadyFresh, id)
		}
	}
	return plan, nil
}

// WriteProfile replaces the stored profile wholesale: version bumped,
// verified_at set to now, expires_at set to now+TTL, schema stamped to
// current. A version conflict is retried once with a re-read, then
// surfaced.
func (c *Cache) WriteProfile(ctx context.Context, jurisdictionID string, p Profile) (*Profile, error) {
	for attempt := 0; ; attempt++ {
		current, err := c.store.GetProfile(ctx, jurisdictionID)
		if err != nil {
			return nil, eris.Wrapf(err, "capability: read before write %s", jurisdictionID)
		}
		expected := 0
		if current != nil {
			expected = current.Metadata.Version
		}

		now := c.now().UTC()
		p.JurisdictionID = jurisdictionID
		p.Metadata.Version = expected + 1
		p.Metadata.VerifiedAt = now
		p.Metadata.ExpiresAt = now.Add(c.cfg.TTL)
		p.Metadata.SchemaVersion = c.cfg.SchemaVersion

		err = c.store.UpsertProfile(ctx, jurisdictionID, p, expected)
		if err == nil {
			return &p, nil
		}

		var conflict *model.ConflictError
		if errors.As(err, &conflict) && attempt == 0 {
			zap.L().Warn("capability: profile write conflict, retrying",
				zap.String("jurisdiction", jurisdictionID),
				zap.Int("expected_version", conflict.ExpectedVersion),
				zap.Int("actual_version", conflict.ActualVersion),
			)
			continue
		}
		return nil, eris.Wrapf(err, "capability: upsert profile %s", jurisdictionID)
	}
}
