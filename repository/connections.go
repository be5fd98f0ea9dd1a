package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
	"github.com/uptrace/bun"
)

// ConnectionModel is the Bun model for stored connections.
type ConnectionModel struct {
	bun.BaseModel `bun:"table:connections"`

	ID                 string         `bun:"id,pk"`
	UserID             string         `bun:"user_id,notnull"`
	PlatformID         string         `bun:"platform_id,notnull"`
	ExternalAccountRef string         `bun:"external_account_ref,notnull"`
	DisplayName        string         `bun:"display_name"`
	SiteCount          int            `bun:"site_count,notnull,default:0"`
	Status             string         `bun:"status,notnull"`
	AccessToken        string         `bun:"access_token"`
	RefreshToken       string         `bun:"refresh_token"`
	TokenExpiresAt     *time.Time     `bun:"token_expires_at"`
	Scopes             []string       `bun:"scopes,type:jsonb"`
	Metadata           map[string]any `bun:"metadata,type:jsonb"`
	ConnectedAt        time.Time      `bun:"connected_at,notnull"`
	LastSyncAt         *time.Time     `bun:"last_sync_at"`
	UpdatedAt          time.Time      `bun:"updated_at,notnull"`
}

// ConnectionRepository implements connector.ConnectionRepository using Bun.
type ConnectionRepository struct {
	db  bun.IDB
	now func() time.Time
}

var _ connector.ConnectionRepository = (*ConnectionRepository)(nil)

// NewConnectionRepository creates a repository over db.
func NewConnectionRepository(db bun.IDB) *ConnectionRepository {
	return &ConnectionRepository{db: db, now: time.Now}
}

// Upsert inserts conn or refreshes the row with the same user, platform
// and external account. The stored row is returned; its id is the id of
// the existing row on conflict.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *connector.Connection) (*connector.Connection, error) {
	model := fromConnection(conn)
	model.UpdatedAt = r.now()

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (user_id, platform_id, external_account_ref) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("site_count = EXCLUDED.site_count").
		Set("status = EXCLUDED.status").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("scopes = EXCLUDED.scopes").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	var stored ConnectionModel
	err = r.db.NewSelect().
		Model(&stored).
		Where("user_id = ? AND platform_id = ? AND external_account_ref = ?", model.UserID, model.PlatformID, model.ExternalAccountRef).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toConnection(&stored), nil
}

// ListByUser implements connector.ConnectionRepository.
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string, status connector.ConnectionStatus) ([]*connector.Connection, error) {
	var models []ConnectionModel
	err := r.db.NewSelect().
		Model(&models).
		Where("user_id = ? AND status = ?", userID, string(status)).
		OrderExpr("platform_id ASC, connected_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := make([]*connector.Connection, len(models))
	for i := range models {
		out[i] = toConnection(&models[i])
	}
	return out, nil
}

// FindByID implements connector.ConnectionRepository.
func (r *ConnectionRepository) FindByID(ctx context.Context, id string) (*connector.Connection, error) {
	var model ConnectionModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connect.WrapError(connect.ErrConnectionNotFound, err, map[string]any{"record_id": id})
	}
	if err != nil {
		return nil, err
	}
	return toConnection(&model), nil
}

// Delete implements connector.ConnectionRepository.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*ConnectionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteByStatus implements connector.ConnectionRepository.
func (r *ConnectionRepository) DeleteByStatus(ctx context.Context, userID, platformID string, status connector.ConnectionStatus) (int, error) {
	res, err := r.db.NewDelete().
		Model((*ConnectionModel)(nil)).
		Where("user_id = ? AND platform_id = ? AND status = ?", userID, platformID, string(status)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func toConnection(m *ConnectionModel) *connector.Connection {
	return &connector.Connection{
		ID:                 m.ID,
		UserID:             m.UserID,
		PlatformID:         m.PlatformID,
		ExternalAccountRef: m.ExternalAccountRef,
		DisplayName:        m.DisplayName,
		SiteCount:          m.SiteCount,
		Status:             connector.ConnectionStatus(m.Status),
		AccessToken:        m.AccessToken,
		RefreshToken:       m.RefreshToken,
		TokenExpiresAt:     m.TokenExpiresAt,
		Scopes:             m.Scopes,
		Metadata:           m.Metadata,
		ConnectedAt:        m.ConnectedAt,
		LastSyncAt:         m.LastSyncAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromConnection(c *connector.Connection) *ConnectionModel {
	metadata := map[string]any{}
	if c.Metadata != nil {
		metadata = c.Metadata
	}
	scopes := []string{}
	if c.Scopes != nil {
		scopes = c.Scopes
	}
	connectedAt := c.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}
	return &ConnectionModel{
		ID:                 c.ID,
		UserID:             c.UserID,
		PlatformID:         c.PlatformID,
		ExternalAccountRef: c.ExternalAccountRef,
		DisplayName:        c.DisplayName,
		SiteCount:          c.SiteCount,
		Status:             string(c.Status),
		AccessToken:        c.AccessToken,
		RefreshToken:       c.RefreshToken,
		TokenExpiresAt:     c.TokenExpiresAt,
		Scopes:             scopes,
		Metadata:           metadata,
		ConnectedAt:        connectedAt,
		LastSyncAt:         c.LastSyncAt,
		UpdatedAt:          c.UpdatedAt,
	}
}
