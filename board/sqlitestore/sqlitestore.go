// Package sqlitestore keeps posts and tokens in a single sqlite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/migrations"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

type (
	Control struct {
		db  *sql.DB
		now tokenstore.Clock
	}
)

var (
	_ board.PostStore  = (*Control)(nil)
	_ tokenstore.Store = (*Control)(nil)
)

func openDatabase(ctx context.Context, file string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return nil, fmt.Errorf("unable to create directory to store %v, cause %w", file, err)
	}
	connstr := fmt.Sprintf("file:%v?_foreign_keys=on&_journal=wal&_busy_timeout=5000&mode=rwc", file)
	conn, err := sql.Open("sqlite3", connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %v", file, err)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database %v, cause %v", file, err)
	}
	return conn, nil
}

// Open loads (or creates) the board stored at file and brings its schema up
// to date.
func Open(ctx context.Context, file string, now tokenstore.Clock) (*Control, error) {
	conn, err := openDatabase(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(ctx, conn, migrations.SQLite); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to init board %v, cause %w", file, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Control{db: conn, now: now}, nil
}

func (c *Control) GetPost(ctx context.Context, id string) (board.Post, error) {
	var p board.Post
	var created, updated int64
	err := c.db.QueryRowContext(ctx, `select post_id, title, content,
		pw_salt, pw_iterations, pw_digest, pw_key_length, pw_hash,
		created_at, updated_at
	from posts where post_id = ?`, id).Scan(&p.ID, &p.Title, &p.Content,
		&p.Credential.Salt, &p.Credential.Iterations, &p.Credential.Digest, &p.Credential.KeyLength, &p.Credential.Hash,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Post{}, board.NotFoundError{PostID: id}
	} else if err != nil {
		return board.Post{}, board.Dependency("get post", fmt.Errorf("unable to load post %v, cause %w", id, err))
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

func (c *Control) CreatePost(ctx context.Context, p board.Post) error {
	_, err := c.db.ExecContext(ctx, `insert into posts(post_id, title, content,
		pw_salt, pw_iterations, pw_digest, pw_key_length, pw_hash,
		created_at, updated_at) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content,
		p.Credential.Salt, p.Credential.Iterations, p.Credential.Digest, p.Credential.KeyLength, p.Credential.Hash,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt))
	if err != nil {
		return board.Dependency("create post", fmt.Errorf("unable to store post %v, cause %w", p.ID, err))
	}
	return nil
}

func (c *Control) UpdatePost(ctx context.Context, id, title, content string, at time.Time) error {
	res, err := c.db.ExecContext(ctx, `update posts set title = ?, content = ?, updated_at = ? where post_id = ?`,
		title, content, toNanos(at), id)
	if err != nil {
		return board.Dependency("update post", fmt.Errorf("unable to update post %v, cause %w", id, err))
	}
	return expectOne(res, id, "update post")
}

// DeletePost removes the post; its tokens go with it through the foreign key.
func (c *Control) DeletePost(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `delete from posts where post_id = ?`, id)
	if err != nil {
		return board.Dependency("delete post", fmt.Errorf("unable to delete post %v, cause %w", id, err))
	}
	return expectOne(res, id, "delete post")
}

func (c *Control) Put(ctx context.Context, r tokenstore.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var postID interface{}
	if r.PostID != "" {
		postID = r.PostID
	}
	_, err := c.db.ExecContext(ctx, `insert into tokens(token_hash, token_hash64, token_salt, kind, post_id, created_at, expires_at)
	values (?, ?, ?, ?, ?, ?, ?)`,
		r.Hash, hash64(r.Hash), r.Salt, string(r.Kind), postID, toNanos(r.CreatedAt), toNanos(r.ExpiresAt))
	if err != nil {
		return board.Dependency("put token", fmt.Errorf("unable to store token, cause %w", err))
	}
	return nil
}

func (c *Control) Get(ctx context.Context, hash string) (tokenstore.Record, error) {
	return c.LookupByHash(ctx, hash, nil)
}

func (c *Control) LookupByHash(ctx context.Context, hash string, match func(tokenstore.Record) bool) (tokenstore.Record, error) {
	var r tokenstore.Record
	var kind string
	var postID sql.NullString
	var created, expires int64
	err := c.db.QueryRowContext(ctx, `select token_hash, token_salt, kind, post_id, created_at, expires_at
	from tokens where token_hash64 = ? and token_hash = ? and expires_at > ?`,
		hash64(hash), hash, toNanos(c.now())).Scan(&r.Hash, &r.Salt, &kind, &postID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return tokenstore.Record{}, tokenstore.ErrNotFound
	} else if err != nil {
		return tokenstore.Record{}, board.Dependency("get token", fmt.Errorf("unable to lookup token, cause %w", err))
	}
	r.Kind = tokenstore.Kind(kind)
	r.PostID = postID.String
	r.CreatedAt = fromNanos(created)
	r.ExpiresAt = fromNanos(expires)
	if match != nil && !match(r) {
		return tokenstore.Record{}, tokenstore.ErrNotFound
	}
	return r, nil
}

func (c *Control) Delete(ctx context.Context, hash string) error {
	_, err := c.db.ExecContext(ctx, `delete from tokens where token_hash64 = ? and token_hash = ?`, hash64(hash), hash)
	if err != nil {
		return board.Dependency("delete token", err)
	}
	return nil
}

func (c *Control) DeleteExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, `delete from tokens where expires_at <= ?`, toNanos(c.now()))
	if err != nil {
		return 0, board.Dependency("delete expired tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, board.Dependency("delete expired tokens", err)
	}
	return int(n), nil
}

func (c *Control) DeleteByPost(ctx context.Context, postID string) error {
	_, err := c.db.ExecContext(ctx, `delete from tokens where post_id = ?`, postID)
	if err != nil {
		return board.Dependency("delete post tokens", err)
	}
	return nil
}

func (c *Control) Close() error {
	return c.db.Close()
}

func expectOne(res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return board.Dependency(op, err)
	}
	if n == 0 {
		return board.NotFoundError{PostID: id}
	}
	return nil
}

func hash64(hash string) int64 {
	return int64(xxhash.Sum64String(hash))
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
