package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"checkin/cmd/internal/session"
)

// NewDBPool builds a small pgxpool for the shared token store and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	pcfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for file and memory token stores.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// tokenStores holds the durable and volatile token stores for the session manager.
type tokenStores struct {
	durable  session.TokenStore
	volatile session.TokenStore
	closer   Store
}

// openTokenStores decides where remembered tokens live.
// Session-scoped tokens always stay in process memory.
func openTokenStores(ctx context.Context, cfg Config, log Logger) (tokenStores, error) {
	out := tokenStores{volatile: session.NewMemoryStore(), closer: nopStore{}}

	switch cfg.TokenStore {
	case TokenStoreMemory:
		log.Info("token_store.memory")
		out.durable = session.NewMemoryStore()

	case TokenStorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return tokenStores{}, fmt.Errorf("open token database: %w", err)
		}
		st := session.NewPostgresStore(pool, cfg.Profile)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return tokenStores{}, err
		}
		log.Info("token_store.postgres", "profile", cfg.Profile)
		out.durable = st
		out.closer = dbStore{pool: pool}

	default:
		path := cfg.TokenFile
		if path == "" {
			p, err := session.DefaultTokenPath(cfg.Profile)
			if err != nil {
				return tokenStores{}, err
			}
			path = p
		}
		st, err := session.NewFileStore(path, cfg.TokenPassphrase)
		if err != nil {
			return tokenStores{}, err
		}
		log.Info("token_store.file", "path", st.Path(), "sealed", cfg.TokenPassphrase != "")
		out.durable = st
	}
	return out, nil
}
