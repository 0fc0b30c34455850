// Package capability maintains per-jurisdiction capability profiles:
// how pass-0 and pass-2 data can be fetched for a county, how fresh
// that knowledge is, and when a recon agent needs to be dispatched.
package capability

import "time"

// CurrentSchemaVersion is the current recon schema. Profiles written
// under an older version are refreshed on next dispatch.
const CurrentSchemaVersion = 3

// MethodSection describes how one pass's data is obtained for a
// jurisdiction: the access method, how much of the pass it covers, and
// the concrete sources behind it.
type MethodSection struct {
	Method   string   `json:"method"` // api | portal | scrape | manual
	Coverage float64  `json:"coverage"`
	Sources  []string `json:"sources,omitempty"`
}

// Metadata carries the freshness and versioning envelope of a profile.
type Metadata struct {
	VerifiedAt    time.Time `json:"verified_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Confidence    float64   `json:"confidence"`
	Version       int       `json:"version"`
	SchemaVersion int       `json:"schema_version"`
}

// Profile is the per-jurisdiction capability record. Created on first
// successful recon and replaced wholesale on refresh; fields are never
// merged across versions.
type Profile struct {
	JurisdictionID string        `json:"jurisdiction_id"`
	County         string        `json:"county,omitempty"`
	State          string        `json:"state,omitempty"`
	Pass0          MethodSection `json:"pass0"`
	Pass2          MethodSection `json:"pass2"`
	Metadata       Metadata      `json:"metadata"`
}

// IsExpired reports whether the profile's TTL has elapsed.
func (p *Profile) IsExpired(now time.Time) bool {
	return now.After(p.Metadata.ExpiresAt)
}

// ExpiresSoon reports whether the profile is inside the warning window
// but not yet expired. Used for opportunistic partial recon.
func (p *Profile) ExpiresSoon(now time.Time, window time.Duration) bool {
	return !p.IsExpired(now) && now.After(p.Metadata.ExpiresAt.Add(-window))
}
