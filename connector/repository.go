package connector

import (
	"context"
	"time"

	"github.com/goliatone/go-connect"
)

// ConnectionStatus tracks whether a stored grant finished processing.
type ConnectionStatus string

const (
	// StatusPending rows hold credentials whose accounts were not listed yet.
	StatusPending ConnectionStatus = "pending"
	StatusActive  ConnectionStatus = "active"
)

// Connection is one stored grant for one external account. Credentials
// are never serialized.
type Connection struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	PlatformID         string           `json:"platform_id"`
	ExternalAccountRef string           `json:"external_account_ref"`
	DisplayName        string           `json:"display_name,omitempty"`
	SiteCount          int              `json:"site_count"`
	Status             ConnectionStatus `json:"status"`
	AccessToken        string           `json:"-"`
	RefreshToken       string           `json:"-"`
	TokenExpiresAt     *time.Time       `json:"token_expires_at,omitempty"`
	Scopes             []string         `json:"scopes,omitempty"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
	ConnectedAt        time.Time        `json:"connected_at"`
	LastSyncAt         *time.Time       `json:"last_sync_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Record returns the public view of the connection.
func (c *Connection) Record() connect.ConnectionRecord {
	return connect.ConnectionRecord{
		ID:                 c.ID,
		PlatformID:         c.PlatformID,
		ExternalAccountRef: c.ExternalAccountRef,
		DisplayName:        c.DisplayName,
		ConnectedAt:        c.ConnectedAt,
		LastSyncAt:         c.LastSyncAt,
		SiteCount:          c.SiteCount,
	}
}

// ConnectionRepository persists connections. Upsert is keyed on user,
// platform and external account ref; FindByID returns an error matching
// connect.ErrConnectionNotFound when no row exists.
type ConnectionRepository interface {
	Upsert(ctx context.Context, conn *Connection) (*Connection, error)
	ListByUser(ctx context.Context, userID string, status ConnectionStatus) ([]*Connection, error)
	FindByID(ctx context.Context, id string) (*Connection, error)
	Delete(ctx context.Context, id string) error
	DeleteByStatus(ctx context.Context, userID, platformID string, status ConnectionStatus) (int, error)
}
