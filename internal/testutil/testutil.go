package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/board/sqlitestore"
	"github.com/andrebq/lockboard/board/token"
	"github.com/andrebq/lockboard/board/tokenstore"
)

const (
	AdminPassword = "admin-secret"
	// FastIterations keeps pbkdf2 cheap in tests.
	FastIterations = 1000
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}

	// Clock is a manually driven clock safe for concurrent use.
	Clock struct {
		sync.Mutex
		t time.Time
	}

	EngineOptions struct {
		// MemoryTokens keeps tokens in bigcache instead of the board database.
		MemoryTokens bool
		ViewTTL      time.Duration
		AdminTTL     time.Duration
	}

	Engine struct {
		*authz.Engine
		Board  *sqlitestore.Control
		Tokens tokenstore.Store
		Clock  *Clock
	}
)

var (
	Pepper = []byte("lockboard-test-pepper-0123456789")
	Epoch  = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.Lock()
	defer c.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.Lock()
	c.t = t
	c.Unlock()
}

// AcquireBoard opens a fresh sqlite board in a temp dir.
func AcquireBoard(ctx context.Context, t TestLog, now tokenstore.Clock) (*sqlitestore.Control, func()) {
	dir, err := os.MkdirTemp("", "lockboard-tests")
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := sqlitestore.Open(ctx, filepath.Join(dir, "board.db"), now)
	if err != nil {
		t.Fatal(err)
	}
	return ctl, func() {
		err := ctl.Close()
		if err != nil {
			t.Log("unable to close board", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}

// AcquireEngine wires an engine over a temp board with a manual clock set
// to Epoch and an admin password of AdminPassword.
func AcquireEngine(ctx context.Context, t TestLog, opts EngineOptions) (*Engine, func()) {
	clock := NewClock(Epoch)
	ctl, cleanupBoard := AcquireBoard(ctx, t, clock.Now)
	var tokens tokenstore.Store = ctl
	cleanup := cleanupBoard
	if opts.MemoryTokens {
		mem, err := tokenstore.NewMemory(48*time.Hour, clock.Now)
		if err != nil {
			cleanupBoard()
			t.Fatal(err)
		}
		tokens = mem
		cleanup = func() {
			mem.Close()
			cleanupBoard()
		}
	}
	codec, err := token.NewCodec(Pepper)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	hasher := credential.ForTesting(FastIterations)
	admin, err := hasher.MakeRecord(AdminPassword)
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	engine, err := authz.New(ctl, tokens, codec, authz.Config{
		ViewTTL:         opts.ViewTTL,
		AdminTTL:        opts.AdminTTL,
		Hasher:          hasher,
		AdminCredential: admin,
		Clock:           clock.Now,
	})
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	return &Engine{Engine: engine, Board: ctl, Tokens: tokens, Clock: clock}, cleanup
}
