package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/andrebq/lockboard/board"
)

type (
	// Memory keeps tokens in a sharded bigcache. Entries are dropped by
	// bigcache some time after MaxTTL; validity is always decided by the
	// record expiry.
	Memory struct {
		cache *bigcache.BigCache
		now   Clock
	}
)

var _ Store = (*Memory)(nil)

func NewMemory(maxTTL time.Duration, now Clock) (*Memory, error) {
	if maxTTL <= 0 {
		return nil, fmt.Errorf("tokenstore: max ttl must be positive got %v", maxTTL)
	}
	cfg := bigcache.DefaultConfig(maxTTL + time.Minute)
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: unable to create memory cache, cause %w", err)
	}
	return &Memory{cache: cache, now: now}, nil
}

func (m *Memory) Put(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	buf, err := json.Marshal(r)
	if err != nil {
		return board.Internal(err)
	}
	if err := m.cache.Set(r.Hash, buf); err != nil {
		return board.Dependency("put token", err)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, hash string) (Record, error) {
	buf, err := m.cache.Get(hash)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, board.Dependency("get token", err)
	}
	var r Record
	if err := json.Unmarshal(buf, &r); err != nil {
		return Record{}, board.Internal(fmt.Errorf("tokenstore: corrupted entry, cause %w", err))
	}
	if r.Expired(m.now.now()) {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) LookupByHash(ctx context.Context, hash string, match func(Record) bool) (Record, error) {
	r, err := m.Get(ctx, hash)
	if err != nil {
		return Record{}, err
	}
	if match != nil && !match(r) {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Delete(ctx context.Context, hash string) error {
	err := m.cache.Delete(hash)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return board.Dependency("delete token", err)
	}
	return nil
}

func (m *Memory) DeleteExpired(ctx context.Context) (int, error) {
	now := m.now.now()
	return m.deleteWhere(func(r Record) bool { return r.Expired(now) })
}

func (m *Memory) DeleteByPost(ctx context.Context, postID string) error {
	_, err := m.deleteWhere(func(r Record) bool { return r.PostID == postID })
	return err
}

// Len counts entries still resident, expired or not.
func (m *Memory) Len() int {
	return m.cache.Len()
}

func (m *Memory) Close() error {
	return m.cache.Close()
}

func (m *Memory) deleteWhere(pred func(Record) bool) (int, error) {
	var victims []string
	it := m.cache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			// entry removed while iterating
			continue
		}
		var r Record
		if err := json.Unmarshal(entry.Value(), &r); err != nil || pred(r) {
			victims = append(victims, entry.Key())
		}
	}
	count := 0
	for _, key := range victims {
		err := m.cache.Delete(key)
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			continue
		} else if err != nil {
			return count, board.Dependency("delete tokens", err)
		}
		count++
	}
	return count, nil
}
