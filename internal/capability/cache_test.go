package capability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/model"
)

// memStore is an in-memory ProfileStore with optimistic versioning.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	// forceConflicts makes the next N upserts fail with ConflictError.
	forceConflicts int
	upserts        int
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[string]Profile)}
}

func (m *memStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (m *memStore) UpsertProfile(_ context.Context, id string, p Profile, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.forceConflicts > 0 {
		m.forceConflicts--
		return &model.ConflictError{JurisdictionID: id, ExpectedVersion: expectedVersion, ActualVersion: expectedVersion + 1}
	}
	current, ok := m.profiles[id]
	actual := 0
	if ok {
		actual = current.Metadata.Version
	}
	if actual != expectedVersion {
		return &model.ConflictError{JurisdictionID: id, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}
	m.profiles[id] = p
	return nil
}

type staticResolver map[string]string

func (r staticResolver) ResolveZip(zip string) (string, error) {
	id, ok := r[zip]
	if !ok {
		return "", &model.NotFoundError{Kind: "jurisdiction", Key: zip}
	}
	return id, nil
}

func testCache(store ProfileStore, now time.Time) *Cache {
	c := NewCache(store, staticResolver{"78701": "48453"}, Config{
		TTL:           90 * 24 * time.Hour,
		WarningWindow: 7 * 24 * time.Hour,
		SchemaVersion: 3,
	})
	return c.WithNow(func() time.Time { return now })
}

func profileWith(id string, version, schema int, expiresAt time.Time) Profile {
	return Profile{
		JurisdictionID: id,
		Pass0:          MethodSection{Method: "api", Coverage: 1.0},
		Pass2:          MethodSection{Method: "portal", Coverage: 0.8},
		Metadata: Metadata{
			Version:       version,
			SchemaVersion: schema,
			VerifiedAt:    expiresAt.Add(-90 * 24 * time.Hour),
			ExpiresAt:     expiresAt,
			Confidence:    0.9,
		},
	}
}

func TestResolveJurisdiction(t *testing.T) {
	c := testCache(newMemStore(), time.Now())

	id, err := c.ResolveJurisdiction("78701")
	require.NoError(t, err)
	assert.Equal(t, "48453", id)

	_, err = c.ResolveJurisdiction("00000")
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := testCache(newMemStore(), now)

	fresh := profileWith("48453", 1, 3, now.Add(30*24*time.Hour))
	expired := profileWith("48453", 1, 3, now.Add(-time.Hour))
	oldSchema := profileWith("48453", 1, 2, now.Add(30*24*time.Hour))

	assert.True(t, c.NeedsRefresh(nil), "missing profile")
	assert.True(t, c.NeedsRefresh(&expired), "expired profile")
	assert.True(t, c.NeedsRefresh(&oldSchema), "schema predates ledger")
	assert.False(t, c.NeedsRefresh(&fresh))
}

func TestNeedsRefresh_MonotonicUntilExpiry(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	expiresAt := base.Add(10 * 24 * time.Hour)
	p := profileWith("48453", 1, 3, expiresAt)

	store := newMemStore()
	// Fresh at base and at every probe strictly before expires_at.
	for _, offset := range []time.Duration{0, 24 * time.Hour, 9 * 24 * time.Hour, 10*24*time.Hour - time.Second} {
		c := testCache(store, base.Add(offset))
		assert.False(t, c.NeedsRefresh(&p), "offset %s", offset)
	}
	c := testCache(store, expiresAt.Add(time.Second))
	assert.True(t, c.NeedsRefresh(&p))
}

func TestDispatchRecon_Partition(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.profiles["expired"] = profileWith("expired", 2, 3, now.Add(-time.Hour))
	store.profiles["soon"] = profileWith("soon", 1, 3, now.Add(3*24*time.Hour))
	store.profiles["fresh"] = profileWith("fresh", 1, 3, now.Add(60*24*time.Hour))
	store.profiles["stale_schema"] = profileWith("stale_schema", 1, 1, now.Add(60*24*time.Hour))

	c := testCache(store, now)
	plan, err := c.DispatchRecon(context.Background(), []string{"missing", "expired", "soon", "fresh", "stale_schema"})
	require.NoError(t, err)

	byID := map[string]ReconType{}
	for _, tgt := range plan.ToRecon {
		byID[tgt.JurisdictionID] = tgt.Type
	}
	assert.Equal(t, ReconFull, byID["missing"])
	assert.Equal(t, ReconRefresh, byID["expired"])
	assert.Equal(t, ReconPartial, byID["soon"])
	assert.Equal(t, ReconRefresh, byID["stale_schema"])
	assert.Equal(t, []string{"fresh"}, plan.AlreadyFresh)

	// Exhaustive and disjoint.
	assert.Equal(t, 5, len(plan.ToRecon)+len(plan.AlreadyFresh))
}

func TestDispatchRecon_ExpiredOnly(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.profiles["48453"] = profileWith("48453", 4, 3, now.Add(-24*time.Hour))

	c := testCache(store, now)
	plan, err := c.DispatchRecon(context.Background(), []string{"48453"})
	require.NoError(t, err)

	require.Len(t, plan.ToRecon, 1)
	assert.Equal(t, Target{JurisdictionID: "48453", Type: ReconRefresh}, plan.ToRecon[0])
	assert.Empty(t, plan.AlreadyFresh)
}

func TestWriteProfile_VersionBumpAndStamp(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	c := testCache(store, now)

	p1, err := c.WriteProfile(context.Background(), "48453", Profile{
		Pass0: MethodSection{Method: "api", Coverage: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Metadata.Version)
	assert.Equal(t, 3, p1.Metadata.SchemaVersion)
	assert.Equal(t, now.Add(90*24*time.Hour), p1.Metadata.ExpiresAt)

	// Identical content, rewritten: version is monotonic, never rolls back.
	p2, err := c.WriteProfile(context.Background(), "48453", Profile{
		Pass0: MethodSection{Method: "api", Coverage: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p2.Metadata.Version)
	assert.Greater(t, p2.Metadata.Version, p1.Metadata.Version)
}

func TestWriteProfile_OverwritesWholesale(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.profiles["48453"] = profileWith("48453", 1, 3, now.Add(time.Hour))

	c := testCache(store, now)
	_, err := c.WriteProfile(context.Background(), "48453", Profile{
		Pass0: MethodSection{Method: "scrape", Coverage: 0.5},
	})
	require.NoError(t, err)

	stored, err := c.GetProfile(context.Background(), "48453")
	require.NoError(t, err)
	// The old pass2 section must not leak through the refresh.
	assert.Empty(t, stored.Pass2.Method)
	assert.Equal(t, "scrape", stored.Pass0.Method)
}

func TestWriteProfile_ConflictRetriesOnce(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.forceConflicts = 1

	c := testCache(store, now)
	p, err := c.WriteProfile(context.Background(), "48453", Profile{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Metadata.Version)
	assert.Equal(t, 2, store.upserts)
}

func TestWriteProfile_ConflictSurfacedAfterRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.forceConflicts = 2

	c := testCache(store, now)
	_, err := c.WriteProfile(context.Background(), "48453", Profile{})
	require.Error(t, err)
	var conflict *model.ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, store.upserts)
}
