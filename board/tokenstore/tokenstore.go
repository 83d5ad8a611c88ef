// Package tokenstore defines where issued tokens live once the codec has
// produced them. Records are keyed by the token hash, never by the secret.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type (
	Kind string

	Record struct {
		Hash      string    `json:"hash"`
		Salt      string    `json:"salt"`
		Kind      Kind      `json:"kind"`
		PostID    string    `json:"postId,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	// Store must be safe for concurrent use. Get and LookupByHash treat
	// expired records as absent.
	Store interface {
		Put(ctx context.Context, r Record) error
		Get(ctx context.Context, hash string) (Record, error)
		Delete(ctx context.Context, hash string) error
		DeleteExpired(ctx context.Context) (int, error)
		DeleteByPost(ctx context.Context, postID string) error
		// LookupByHash returns the unexpired record for hash only if match
		// accepts it.
		LookupByHash(ctx context.Context, hash string, match func(Record) bool) (Record, error)
	}

	Clock func() time.Time

	InvalidRecord struct {
		Reason string
	}
)

const (
	KindAdmin Kind = "admin"
	KindView  Kind = "view"
)

var (
	ErrNotFound = errors.New("tokenstore: token not found")
)

func (i InvalidRecord) Error() string {
	return fmt.Sprintf("tokenstore: invalid record, %v", i.Reason)
}

// Expired reports whether r is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r Record) Validate() error {
	switch {
	case r.Hash == "":
		return InvalidRecord{Reason: "missing hash"}
	case r.Salt == "":
		return InvalidRecord{Reason: "missing salt"}
	case r.Kind != KindAdmin && r.Kind != KindView:
		return InvalidRecord{Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	case r.Kind == KindView && r.PostID == "":
		return InvalidRecord{Reason: "view token without post"}
	case r.Kind == KindAdmin && r.PostID != "":
		return InvalidRecord{Reason: "admin token bound to a post"}
	case !r.ExpiresAt.After(r.CreatedAt):
		return InvalidRecord{Reason: "expiry must be after creation"}
	}
	return nil
}

// ForPost matches view tokens scoped to postID.
func ForPost(postID string) func(Record) bool {
	return func(r Record) bool {
		return r.Kind == KindView && r.PostID == postID
	}
}

// IsAdmin matches admin session tokens.
func IsAdmin(r Record) bool {
	return r.Kind == KindAdmin
}

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
