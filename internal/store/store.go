// Package store persists credentials and site interaction statistics. Two
// backends exist: SQLite for embedded use and Postgres for a shared decision
// service. Lookups for HTML realms are public-suffix extended: rows from
// sibling subdomains of the same registrable domain are returned flagged as
// public-suffix matches.
package store

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/credengine/internal/model"
)

// Store is the persistence interface for the credential engine.
type Store interface {
	// GetLogins returns every stored credential relevant to the realm,
	// including blacklist rows. For HTML realms the lookup extends across
	// the registrable domain; cross-realm rows come back with
	// IsPublicSuffixMatch set. Zero results is not an error.
	GetLogins(ctx context.Context, signonRealm string, scheme model.Scheme) ([]model.StoredCredential, error)

	// GetSiteStats returns prompt interaction statistics for an origin
	// domain.
	GetSiteStats(ctx context.Context, originDomain string) ([]model.InteractionStats, error)

	AddLogin(ctx context.Context, cred *model.StoredCredential) error
	UpdateLogin(ctx context.Context, cred *model.StoredCredential) error

	// UpdateLoginWithPrimaryKey rewrites the row stored under oldKey,
	// changing its primary key to the credential's current one.
	UpdateLoginWithPrimaryKey(ctx context.Context, cred *model.StoredCredential, oldKey model.CredentialKey) error

	RemoveLogin(ctx context.Context, key model.CredentialKey) error

	// RecordDismissal bumps the dismissal counter for an origin/username
	// pair.
	RecordDismissal(ctx context.Context, originDomain, usernameValue string) error

	Migrate(ctx context.Context) error
	Close() error
}

// OriginDomain reduces an origin URL to its registrable domain, the unit at
// which interaction statistics and public-suffix matching operate. Hosts
// without a registrable domain (IPs, localhost) fall back to the bare host.
func OriginDomain(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// RealmDomain reduces a signon realm (scheme://host[:port]) to its
// registrable domain for the public-suffix-extended lookup.
func RealmDomain(signonRealm string) string {
	return OriginDomain(signonRealm)
}
