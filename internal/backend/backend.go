// Package backend opens the storage selected on the command line.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/board/pgstore"
	"github.com/andrebq/lockboard/board/sqlitestore"
	"github.com/andrebq/lockboard/board/token"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/andrebq/lockboard/internal/rootkey"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	TokensDB     = "db"
	TokensMemory = "memory"
)

type (
	Config struct {
		Store  string
		DBPath string
		DSN    string
		// Tokens selects where tokens live: next to the posts or in memory.
		Tokens string
		// MaxTokenTTL bounds how long the memory store keeps entries.
		MaxTokenTTL time.Duration
		Clock       tokenstore.Clock
	}

	Backend struct {
		Posts  board.PostStore
		Tokens tokenstore.Store

		closers []func() error
	}

	UnknownOption struct {
		Option string
		Value  string
	}
)

func (u UnknownOption) Error() string {
	return fmt.Sprintf("backend: unknown %v %q", u.Option, u.Value)
}

func Open(ctx context.Context, cfg Config) (*Backend, error) {
	log := logutil.GetOrDefault(ctx)
	b := &Backend{}
	var tokens tokenstore.Store
	switch cfg.Store {
	case StoreSQLite, "":
		if cfg.DBPath == "" {
			return nil, errors.New("backend: sqlite requires a database path")
		}
		ctl, err := sqlitestore.Open(ctx, cfg.DBPath, cfg.Clock)
		if err != nil {
			return nil, err
		}
		b.Posts, tokens = ctl, ctl
		b.closers = append(b.closers, ctl.Close)
	case StorePostgres:
		if cfg.DSN == "" {
			return nil, errors.New("backend: postgres requires a dsn")
		}
		if err := pgstore.Migrate(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		db, err := pgstore.New(ctx, cfg.DSN, cfg.Clock)
		if err != nil {
			return nil, err
		}
		b.Posts, tokens = db, db
		b.closers = append(b.closers, func() error { db.Close(); return nil })
	default:
		return nil, UnknownOption{Option: "store", Value: cfg.Store}
	}

	switch cfg.Tokens {
	case TokensDB, "":
		b.Tokens = tokens
	case TokensMemory:
		ttl := cfg.MaxTokenTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		mem, err := tokenstore.NewMemory(ttl, cfg.Clock)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Tokens = mem
		b.closers = append(b.closers, mem.Close)
	default:
		b.Close()
		return nil, UnknownOption{Option: "token store", Value: cfg.Tokens}
	}
	log.Info().Str("store", cfg.Store).Str("tokens", cfg.Tokens).Msg("Backend ready")
	return b, nil
}

// Close releases every resource in reverse opening order.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// Engine wires the decision engine over b. The token pepper is derived from
// key and never stored.
func (b *Backend) Engine(key rootkey.Key, cfg authz.Config) (*authz.Engine, error) {
	pepper := key.Derive(rootkey.PurposeTokenPepper)
	defer pepper.Zero()
	codec, err := token.NewCodec(pepper[:])
	if err != nil {
		return nil, err
	}
	return authz.New(b.Posts, b.Tokens, codec, cfg)
}
