package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupConnectionRepo(t *testing.T) (*Manager, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	m := NewManager(bunDB)
	m.connections.now = func() time.Time { return testNow }
	require.NoError(t, m.CreateSchema(context.Background()))

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}
	return m, cleanup
}

func newConnection(userID, platformID, ref string, status connector.ConnectionStatus) *connector.Connection {
	return &connector.Connection{
		ID:                 uuid.NewString(),
		UserID:             userID,
		PlatformID:         platformID,
		ExternalAccountRef: ref,
		DisplayName:        ref,
		SiteCount:          1,
		Status:             status,
		AccessToken:        "access-" + ref,
		Scopes:             []string{"read"},
		ConnectedAt:        testNow,
	}
}

func TestConnectionRepositoryUpsertAndFind(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	repo := m.Connections()
	ctx := context.Background()

	expires := testNow.Add(time.Hour)
	conn := newConnection("user-1", connect.PlatformSearchAnalytics, "sc-domain:example.com", connector.StatusActive)
	conn.TokenExpiresAt = &expires
	conn.Metadata = map[string]any{"permission": "siteOwner"}

	stored, err := repo.Upsert(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, stored.ID)
	assert.Equal(t, connector.StatusActive, stored.Status)
	assert.Equal(t, []string{"read"}, stored.Scopes)
	assert.Equal(t, "siteOwner", stored.Metadata["permission"])
	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, expires.Equal(*stored.TokenExpiresAt))

	found, err := repo.FindByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-sc-domain:example.com", found.AccessToken)
	assert.True(t, testNow.Equal(found.UpdatedAt))
}

func TestConnectionRepositoryUpsertKeepsExistingRow(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	repo := m.Connections()
	ctx := context.Background()

	first, err := repo.Upsert(ctx, newConnection("user-1", connect.PlatformCMS, "123", connector.StatusActive))
	require.NoError(t, err)

	again := newConnection("user-1", connect.PlatformCMS, "123", connector.StatusActive)
	again.DisplayName = "Renamed"
	again.AccessToken = "rotated"
	second, err := repo.Upsert(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Renamed", second.DisplayName)
	assert.Equal(t, "rotated", second.AccessToken)

	rows, err := repo.ListByUser(ctx, "user-1", connector.StatusActive)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestConnectionRepositoryListByUserFiltersStatus(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	repo := m.Connections()
	ctx := context.Background()

	for _, c := range []*connector.Connection{
		newConnection("user-1", connect.PlatformSiteBuilder, "site-1", connector.StatusActive),
		newConnection("user-1", connect.PlatformCMS, "blog-1", connector.StatusActive),
		newConnection("user-1", connect.PlatformCMS, "pending:abc", connector.StatusPending),
		newConnection("user-2", connect.PlatformCMS, "blog-2", connector.StatusActive),
	} {
		_, err := repo.Upsert(ctx, c)
		require.NoError(t, err)
	}

	active, err := repo.ListByUser(ctx, "user-1", connector.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, connect.PlatformCMS, active[0].PlatformID)
	assert.Equal(t, connect.PlatformSiteBuilder, active[1].PlatformID)

	pending, err := repo.ListByUser(ctx, "user-1", connector.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pending:abc", pending[0].ExternalAccountRef)

	none, err := repo.ListByUser(ctx, "user-3", connector.StatusActive)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConnectionRepositoryFindMissing(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()

	_, err := m.Connections().FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeConnectionNotFound))
}

func TestConnectionRepositoryDelete(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	repo := m.Connections()
	ctx := context.Background()

	conn, err := repo.Upsert(ctx, newConnection("user-1", connect.PlatformCMS, "123", connector.StatusActive))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, conn.ID))
	_, err = repo.FindByID(ctx, conn.ID)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeConnectionNotFound))
}

func TestConnectionRepositoryDeleteByStatus(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	repo := m.Connections()
	ctx := context.Background()

	for _, c := range []*connector.Connection{
		newConnection("user-1", connect.PlatformCMS, "pending:a", connector.StatusPending),
		newConnection("user-1", connect.PlatformCMS, "pending:b", connector.StatusPending),
		newConnection("user-1", connect.PlatformCMS, "123", connector.StatusActive),
		newConnection("user-1", connect.PlatformSiteBuilder, "pending:c", connector.StatusPending),
	} {
		_, err := repo.Upsert(ctx, c)
		require.NoError(t, err)
	}

	n, err := repo.DeleteByStatus(ctx, "user-1", connect.PlatformCMS, connector.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := repo.ListByUser(ctx, "user-1", connector.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	pending, err := repo.ListByUser(ctx, "user-1", connector.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, connect.PlatformSiteBuilder, pending[0].PlatformID)
}

func TestManagerRunInTxRollsBack(t *testing.T) {
	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	ctx := context.Background()

	err := m.RunInTx(ctx, nil, func(ctx context.Context, repo *ConnectionRepository) error {
		_, err := repo.Upsert(ctx, newConnection("user-1", connect.PlatformCMS, "123", connector.StatusActive))
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	rows, err := m.Connections().ListByUser(ctx, "user-1", connector.StatusActive)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestManagerValidate(t *testing.T) {
	assert.Error(t, (&Manager{}).Validate())

	m, cleanup := setupConnectionRepo(t)
	defer cleanup()
	assert.NoError(t, m.Validate())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), connect.DatabaseConfig{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.True(t, connect.HasTextCode(err, connect.TextCodeInvalidConfig))
}
