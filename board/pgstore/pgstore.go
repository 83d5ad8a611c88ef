// Package pgstore keeps posts and tokens in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/migrations"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type (
	// PgxPool is the part of *pgxpool.Pool used here. pgxmock pools
	// satisfy it as well.
	PgxPool interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
		Close()
	}

	DB struct {
		Pool PgxPool
		Now  tokenstore.Clock
	}
)

const (
	codeInvalidText = "22P02"
)

var (
	_ board.PostStore  = (*DB)(nil)
	_ tokenstore.Store = (*DB)(nil)
)

// New connects to dsn. Call Migrate first when the schema may be stale.
func New(ctx context.Context, dsn string, now tokenstore.Clock) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to configure postgres pool, cause %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres, cause %w", err)
	}
	return &DB{Pool: pool, Now: now}, nil
}

// Migrate applies the embedded postgres schema through the pgx stdlib driver.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("unable to open postgres for migrations, cause %w", err)
	}
	defer db.Close()
	return migrations.Up(ctx, db, migrations.Postgres)
}

func (db *DB) Close() { db.Pool.Close() }

func (db *DB) now() time.Time {
	if db.Now == nil {
		return time.Now()
	}
	return db.Now()
}

func (db *DB) GetPost(ctx context.Context, id string) (board.Post, error) {
	const q = `
SELECT post_id::text, title, content, pw_salt, pw_iterations, pw_digest, pw_key_length, pw_hash, created_at, updated_at
FROM posts WHERE post_id=$1`
	var p board.Post
	err := db.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Title, &p.Content,
		&p.Credential.Salt, &p.Credential.Iterations, &p.Credential.Digest, &p.Credential.KeyLength, &p.Credential.Hash,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
		return board.Post{}, board.NotFoundError{PostID: id}
	} else if err != nil {
		return board.Post{}, board.Dependency("get post", err)
	}
	return p, nil
}

func (db *DB) CreatePost(ctx context.Context, p board.Post) error {
	const q = `
INSERT INTO posts (post_id, title, content, pw_salt, pw_iterations, pw_digest, pw_key_length, pw_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := db.Pool.Exec(ctx, q, p.ID, p.Title, p.Content,
		p.Credential.Salt, p.Credential.Iterations, p.Credential.Digest, p.Credential.KeyLength, p.Credential.Hash,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return board.Dependency("create post", err)
	}
	return nil
}

func (db *DB) UpdatePost(ctx context.Context, id, title, content string, at time.Time) error {
	const q = `UPDATE posts SET title=$2, content=$3, updated_at=$4 WHERE post_id=$1`
	tag, err := db.Pool.Exec(ctx, q, id, title, content, at)
	return expectOne(tag, err, id, "update post")
}

// DeletePost removes the post. Tokens bound to it are removed by the
// foreign key cascade.
func (db *DB) DeletePost(ctx context.Context, id string) error {
	const q = `DELETE FROM posts WHERE post_id=$1`
	tag, err := db.Pool.Exec(ctx, q, id)
	return expectOne(tag, err, id, "delete post")
}

func (db *DB) Put(ctx context.Context, r tokenstore.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO tokens (token_hash, token_salt, kind, post_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	var postID *string
	if r.PostID != "" {
		postID = &r.PostID
	}
	_, err := db.Pool.Exec(ctx, q, r.Hash, r.Salt, string(r.Kind), postID, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return board.Dependency("put token", err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, hash string) (tokenstore.Record, error) {
	return db.LookupByHash(ctx, hash, nil)
}

func (db *DB) LookupByHash(ctx context.Context, hash string, match func(tokenstore.Record) bool) (tokenstore.Record, error) {
	const q = `
SELECT token_hash, token_salt, kind, post_id::text, created_at, expires_at
FROM tokens WHERE token_hash=$1 AND expires_at > $2`
	var r tokenstore.Record
	var kind string
	var postID *string
	err := db.Pool.QueryRow(ctx, q, hash, db.now()).Scan(&r.Hash, &r.Salt, &kind, &postID, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tokenstore.Record{}, tokenstore.ErrNotFound
	} else if err != nil {
		return tokenstore.Record{}, board.Dependency("get token", err)
	}
	r.Kind = tokenstore.Kind(kind)
	if postID != nil {
		r.PostID = *postID
	}
	if match != nil && !match(r) {
		return tokenstore.Record{}, tokenstore.ErrNotFound
	}
	return r, nil
}

func (db *DB) Delete(ctx context.Context, hash string) error {
	const q = `DELETE FROM tokens WHERE token_hash=$1`
	if _, err := db.Pool.Exec(ctx, q, hash); err != nil {
		return board.Dependency("delete token", err)
	}
	return nil
}

func (db *DB) DeleteExpired(ctx context.Context) (int, error) {
	const q = `DELETE FROM tokens WHERE expires_at <= $1`
	tag, err := db.Pool.Exec(ctx, q, db.now())
	if err != nil {
		return 0, board.Dependency("delete expired tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) DeleteByPost(ctx context.Context, postID string) error {
	const q = `DELETE FROM tokens WHERE post_id=$1`
	_, err := db.Pool.Exec(ctx, q, postID)
	if err != nil && !isInvalidText(err) {
		return board.Dependency("delete post tokens", err)
	}
	return nil
}

func expectOne(tag pgconn.CommandTag, err error, id, op string) error {
	if isInvalidText(err) {
		return board.NotFoundError{PostID: id}
	} else if err != nil {
		return board.Dependency(op, err)
	}
	if tag.RowsAffected() == 0 {
		return board.NotFoundError{PostID: id}
	}
	return nil
}

// isInvalidText reports a malformed uuid sent as post id.
func isInvalidText(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == codeInvalidText
}
