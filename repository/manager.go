package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/goliatone/go-connect"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Manager groups the repositories backed by one database handle.
type Manager struct {
	db          *bun.DB
	connections *ConnectionRepository
}

// NewManager wires the repositories over db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:          db,
		connections: NewConnectionRepository(db),
	}
}

// Open connects to the configured database and returns a Manager.
func Open(ctx context.Context, cfg connect.DatabaseConfig) (*Manager, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		// sqlite in-memory databases are per connection
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, connect.WrapError(connect.ErrInvalidConfig,
			fmt.Errorf("unsupported database driver %q", cfg.Driver),
			map[string]any{"driver": cfg.Driver})
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"driver": cfg.Driver})
	}

	m := NewManager(db)
	if err := m.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// CreateSchema creates the connections table and its unique index when
// they do not exist yet.
func (m *Manager) CreateSchema(ctx context.Context) error {
	if _, err := m.db.NewCreateTable().
		Model((*ConnectionModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create connections table: %w", err)
	}

	if _, err := m.db.NewCreateIndex().
		Model((*ConnectionModel)(nil)).
		Index("connections_account_idx").
		Unique().
		IfNotExists().
		Column("user_id", "platform_id", "external_account_ref").
		Exec(ctx); err != nil {
		return fmt.Errorf("create connections index: %w", err)
	}
	return nil
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}
	if m.connections == nil {
		return errors.New("repository connections should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx runs f in a transaction. The repository handed to f writes
// through the transaction.
func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, repo *ConnectionRepository) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
			repo := NewConnectionRepository(tx)
			repo.now = m.connections.now
			return f(ctx, repo)
		})
	}
}

func (m *Manager) Connections() *ConnectionRepository {
	return m.connections
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Close() error {
	return m.db.Close()
}
