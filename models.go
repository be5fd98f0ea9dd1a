package connect

import (
	"strings"
	"time"
	"unicode"
)

// Category groups platforms on the connection screen.
type Category string

const (
	CategorySearchAnalytics Category = "search-analytics"
	CategoryWebsiteCMS      Category = "website-cms"
	CategorySiteBuilder     Category = "site-builder"
	CategorySocial          Category = "social"
)

// PlatformDescriptor is the static description of a connectable platform.
type PlatformDescriptor struct {
	ID                   string   `json:"id" yaml:"id"`
	DisplayName          string   `json:"displayName" yaml:"display_name"`
	Category             Category `json:"category" yaml:"category"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty" yaml:"required_capabilities"`
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	// MultiAccount platforms may return several external accounts per grant.
	MultiAccount bool `json:"multiAccount" yaml:"multi_account"`
}

// HasCapability reports whether the platform requires capability.
func (d PlatformDescriptor) HasCapability(capability string) bool {
	for _, c := range d.RequiredCapabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// MarkerParam returns the query parameter the redirect fallback uses to
// report the outcome for this platform, e.g. "searchAnalyticsConnected".
func (d PlatformDescriptor) MarkerParam() string {
	return MarkerParam(d.ID)
}

func (d PlatformDescriptor) clone() PlatformDescriptor {
	d.RequiredCapabilities = append([]string(nil), d.RequiredCapabilities...)
	return d
}

// MarkerParam derives the camelCase marker parameter for a platform id.
func MarkerParam(platformID string) string {
	var b strings.Builder
	upper := false
	for i, r := range platformID {
		if r == '-' || r == '_' || r == '.' || r == ' ' {
			upper = true
			continue
		}
		switch {
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		case upper:
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(r)
		}
		upper = false
	}
	return b.String() + "Connected"
}

// AuthorizationAttempt is the client side record of one in-flight OAuth
// authorization, keyed by its state.
type AuthorizationAttempt struct {
	State          string    `json:"state"`
	PlatformID     string    `json:"platformId"`
	CreatedAt      time.Time `json:"createdAt"`
	RedirectTarget string    `json:"redirectTarget"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the attempt is past its expiry at now.
func (a AuthorizationAttempt) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// Equal compares attempts field by field using time equality.
func (a AuthorizationAttempt) Equal(b AuthorizationAttempt) bool {
	return a.State == b.State &&
		a.PlatformID == b.PlatformID &&
		a.RedirectTarget == b.RedirectTarget &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}

// ConnectionRecord is the backend's authoritative view of one connected
// external account.
type ConnectionRecord struct {
	ID                 string     `json:"recordId"`
	PlatformID         string     `json:"platformId"`
	ExternalAccountRef string     `json:"externalAccountRef"`
	DisplayName        string     `json:"displayName,omitempty"`
	ConnectedAt        time.Time  `json:"connectedAt"`
	LastSyncAt         *time.Time `json:"lastSyncAt,omitempty"`
	SiteCount          int        `json:"siteCount"`
}

// SiteRef is a per-site summary rendered under a connected platform.
type SiteRef struct {
	RecordID           string `json:"recordId"`
	PlatformID         string `json:"platformId"`
	ExternalAccountRef string `json:"externalAccountRef"`
	DisplayName        string `json:"displayName,omitempty"`
	SiteCount          int    `json:"siteCount"`
}

// SiteRef summarizes the record for display.
func (r ConnectionRecord) SiteRef() SiteRef {
	return SiteRef{
		RecordID:           r.ID,
		PlatformID:         r.PlatformID,
		ExternalAccountRef: r.ExternalAccountRef,
		DisplayName:        r.DisplayName,
		SiteCount:          r.SiteCount,
	}
}
