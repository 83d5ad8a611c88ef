package authz_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/board/token"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/andrebq/lockboard/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func requireKind(t *testing.T, err error, kind board.Kind) {
	t.Helper()
	require.Error(t, err)
	if got := board.KindOf(err); got != kind {
		t.Fatalf("Error kind should be %v got %v (%v)", kind, got, err)
	}
}

func eachTokenStore(t *testing.T, fn func(t *testing.T, opts testutil.EngineOptions)) {
	t.Run("db", func(t *testing.T) { fn(t, testutil.EngineOptions{}) })
	t.Run("memory", func(t *testing.T) { fn(t, testutil.EngineOptions{MemoryTokens: true}) })
}

func createPost(ctx context.Context, t *testing.T, e *testutil.Engine, password string) authz.Result {
	t.Helper()
	res, err := e.CreatePost(ctx, authz.NewPost{Title: "hello", Content: "secret content", Password: password})
	require.NoError(t, err)
	return res
}

func TestCreateAndView(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()

	created := createPost(ctx, t, e, "pw")
	require.NotEmpty(t, created.ViewToken, "the author gets a view token")
	require.Equal(t, testutil.Epoch.Add(authz.DefaultViewTTL), created.ViewTokenExpiresAt)
	_, err := uuid.Parse(created.Post.ID)
	require.NoError(t, err)

	summary, err := e.GetPost(ctx, created.Post.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", summary.Title)

	_, err = e.View(ctx, created.Post.ID, authz.Credentials{Password: "nope"})
	requireKind(t, err, board.KindAuthentication)
	_, err = e.View(ctx, created.Post.ID, authz.Credentials{})
	requireKind(t, err, board.KindAuthentication)

	res, err := e.View(ctx, created.Post.ID, authz.Credentials{Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "secret content", res.Post.Content)
	require.Equal(t, authz.OutcomePassword, res.Decision.Outcome)
	require.NotEmpty(t, res.ViewToken)
	require.NotEqual(t, created.ViewToken, res.ViewToken)
}

func TestViewIgnoresViewTokens(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	created := createPost(ctx, t, e, "pw")

	_, err := e.View(ctx, created.Post.ID, authz.Credentials{ViewToken: created.ViewToken})
	requireKind(t, err, board.KindAuthentication)
}

func TestAdminBypass(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()
		a := createPost(ctx, t, e, "pw-a")
		b := createPost(ctx, t, e, "pw-b")

		_, err := e.Login(ctx, "not the admin password")
		requireKind(t, err, board.KindAuthentication)

		session, err := e.Login(ctx, testutil.AdminPassword)
		require.NoError(t, err)
		require.Equal(t, testutil.Epoch.Add(authz.DefaultAdminTTL), session.ExpiresAt)
		admin := authz.Credentials{AdminToken: session.Token}

		viewed, err := e.View(ctx, a.Post.ID, admin)
		require.NoError(t, err)
		require.Equal(t, authz.OutcomeAdmin, viewed.Decision.Outcome)
		require.Empty(t, viewed.ViewToken, "admins never get view tokens")
		require.Equal(t, "secret content", viewed.Post.Content)

		updated, err := e.UpdatePost(ctx, a.Post.ID, "by admin", "edited", admin)
		require.NoError(t, err)
		require.Equal(t, authz.OutcomeAdmin, updated.Decision.Outcome)
		require.Empty(t, updated.ViewToken)

		// a wrong password alongside a valid admin token is irrelevant
		admin.Password = "wrong"
		d, err := e.DeletePost(ctx, b.Post.ID, admin)
		require.NoError(t, err)
		require.Equal(t, authz.OutcomeAdmin, d.Outcome)

		_, err = e.GetPost(ctx, b.Post.ID)
		requireKind(t, err, board.KindNotFound)
	})
}

func TestTokenThenEdit(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()
		a := createPost(ctx, t, e, "pw-a")
		b := createPost(ctx, t, e, "pw-b")

		viewed, err := e.View(ctx, a.Post.ID, authz.Credentials{Password: "pw-a"})
		require.NoError(t, err)
		tk := viewed.ViewToken

		res, err := e.UpdatePost(ctx, a.Post.ID, "new title", "new content", authz.Credentials{ViewToken: tk})
		require.NoError(t, err)
		require.Equal(t, authz.OutcomeViewToken, res.Decision.Outcome)
		require.Empty(t, res.ViewToken, "a valid token is not replaced")
		require.Equal(t, "new title", res.Post.Title)

		_, err = e.UpdatePost(ctx, b.Post.ID, "hijack", "hijack", authz.Credentials{ViewToken: tk})
		requireKind(t, err, board.KindAuthentication)
		_, err = e.DeletePost(ctx, b.Post.ID, authz.Credentials{ViewToken: tk})
		requireKind(t, err, board.KindAuthentication)

		_, err = e.AdminStatus(ctx, tk)
		require.NoError(t, err)
		isAdmin, _ := e.AdminStatus(ctx, tk)
		require.False(t, isAdmin, "view tokens never grant admin")

		summary, err := e.GetPost(ctx, b.Post.ID)
		require.NoError(t, err)
		require.Equal(t, "hello", summary.Title)
	})
}

func TestPasswordOnEditMintsToken(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	a := createPost(ctx, t, e, "pw")

	res, err := e.UpdatePost(ctx, a.Post.ID, "t", "c", authz.Credentials{ViewToken: "garbage", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, authz.OutcomePassword, res.Decision.Outcome)
	require.NotEmpty(t, res.ViewToken)

	res, err = e.UpdatePost(ctx, a.Post.ID, "t2", "c2", authz.Credentials{ViewToken: res.ViewToken})
	require.NoError(t, err)
	require.Equal(t, authz.OutcomeViewToken, res.Decision.Outcome)

	_, err = e.UpdatePost(ctx, a.Post.ID, "t3", "c3", authz.Credentials{ViewToken: "garbage", Password: "wrong"})
	requireKind(t, err, board.KindAuthentication)
}

func TestExpiryMonotonicity(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		opts.ViewTTL = 10 * time.Minute
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()
		a := createPost(ctx, t, e, "pw")
		tk := a.ViewToken
		require.Equal(t, testutil.Epoch.Add(10*time.Minute), a.ViewTokenExpiresAt)

		for _, at := range []time.Duration{0, time.Minute, 10*time.Minute - time.Nanosecond} {
			e.Clock.Set(testutil.Epoch.Add(at))
			_, err := e.UpdatePost(ctx, a.Post.ID, "t", "c", authz.Credentials{ViewToken: tk})
			require.NoError(t, err, "token should be accepted %v after issue", at)
		}
		for _, at := range []time.Duration{10 * time.Minute, 10*time.Minute + time.Nanosecond, time.Hour} {
			e.Clock.Set(testutil.Epoch.Add(at))
			_, err := e.UpdatePost(ctx, a.Post.ID, "t", "c", authz.Credentials{ViewToken: tk})
			requireKind(t, err, board.KindAuthentication)
		}
	})
}

func TestAdminSessionExpires(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{AdminTTL: time.Hour})
	defer cleanup()

	session, err := e.Login(ctx, testutil.AdminPassword)
	require.NoError(t, err)
	ok, err := e.AdminStatus(ctx, session.Token)
	require.NoError(t, err)
	require.True(t, ok)

	e.Clock.Advance(time.Hour)
	ok, err = e.AdminStatus(ctx, session.Token)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := e.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLogout(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()
		session, err := e.Login(ctx, testutil.AdminPassword)
		require.NoError(t, err)

		require.NoError(t, e.Logout(ctx, session.Token))
		ok, err := e.AdminStatus(ctx, session.Token)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, e.Logout(ctx, session.Token), "logout is idempotent")
		require.NoError(t, e.Logout(ctx, "not.a-token"))
		require.NoError(t, e.Logout(ctx, ""))
	})
}

func TestConcurrentVerification(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()
		a := createPost(ctx, t, e, "pw")

		const workers = 8
		tokens := make([]string, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := e.View(ctx, a.Post.ID, authz.Credentials{Password: "pw"})
				tokens[i], errs[i] = res.ViewToken, err
			}(i)
		}
		wg.Wait()
		seen := map[string]bool{}
		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			require.False(t, seen[tokens[i]], "each verification mints its own token")
			seen[tokens[i]] = true
		}
		for _, tk := range tokens {
			res, err := e.UpdatePost(ctx, a.Post.ID, "t", "c", authz.Credentials{ViewToken: tk})
			require.NoError(t, err)
			require.Equal(t, authz.OutcomeViewToken, res.Decision.Outcome)
		}
	})
}

func TestMissingPost(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	missing := uuid.NewString()

	_, err := e.UpdatePost(ctx, missing, "t", "c", authz.Credentials{Password: "pw"})
	requireKind(t, err, board.KindAuthentication)
	_, err = e.DeletePost(ctx, missing, authz.Credentials{})
	requireKind(t, err, board.KindAuthentication)
	_, err = e.View(ctx, missing, authz.Credentials{Password: "pw"})
	requireKind(t, err, board.KindAuthentication)
	_, err = e.DeletePost(ctx, "not-a-uuid", authz.Credentials{Password: "pw"})
	requireKind(t, err, board.KindAuthentication)
	_, err = e.DeletePost(ctx, missing, authz.Credentials{ViewToken: "garbage"})
	requireKind(t, err, board.KindAuthentication)

	session, err := e.Login(ctx, testutil.AdminPassword)
	require.NoError(t, err)
	_, err = e.DeletePost(ctx, missing, authz.Credentials{AdminToken: session.Token})
	requireKind(t, err, board.KindNotFound)
	_, err = e.View(ctx, missing, authz.Credentials{AdminToken: session.Token})
	requireKind(t, err, board.KindNotFound)
	_, err = e.GetPost(ctx, missing)
	requireKind(t, err, board.KindNotFound)
}

func TestSwordfish(t *testing.T) {
	eachTokenStore(t, func(t *testing.T, opts testutil.EngineOptions) {
		ctx := context.Background()
		e, cleanup := testutil.AcquireEngine(ctx, t, opts)
		defer cleanup()

		created, err := e.CreatePost(ctx, authz.NewPost{Title: "fish", Content: "blub", Password: "swordfish"})
		require.NoError(t, err)
		id := created.Post.ID

		_, err = e.View(ctx, id, authz.Credentials{Password: "wrong"})
		requireKind(t, err, board.KindAuthentication)

		viewed, err := e.View(ctx, id, authz.Credentials{Password: "swordfish"})
		require.NoError(t, err)
		require.Equal(t, "blub", viewed.Post.Content)
		tk := viewed.ViewToken
		require.NotEmpty(t, tk)

		updated, err := e.UpdatePost(ctx, id, "swordfish renamed", "blub", authz.Credentials{ViewToken: tk})
		require.NoError(t, err)
		require.Equal(t, "swordfish renamed", updated.Post.Title)

		_, err = e.DeletePost(ctx, id, authz.Credentials{ViewToken: tk})
		require.NoError(t, err)

		_, err = e.DeletePost(ctx, id, authz.Credentials{ViewToken: tk})
		requireKind(t, err, board.KindNotFound)

		hash, ok := tokenCodec(t).HashOf(tk)
		require.True(t, ok)
		_, err = e.Tokens.Get(ctx, hash)
		require.ErrorIs(t, err, tokenstore.ErrNotFound, "deleting a post drops its tokens")
	})
}

func TestValidationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()

	_, err := e.CreatePost(ctx, authz.NewPost{Title: "", Content: "c", Password: "pw"})
	requireKind(t, err, board.KindValidation)
	_, err = e.CreatePost(ctx, authz.NewPost{Title: "t", Content: "c", Password: ""})
	requireKind(t, err, board.KindValidation)

	a := createPost(ctx, t, e, "pw")
	_, err = e.UpdatePost(ctx, a.Post.ID, strings.Repeat("t", board.MaxTitleLength+1), "c", authz.Credentials{Password: "pw"})
	requireKind(t, err, board.KindValidation)
	_, err = e.View(ctx, a.Post.ID, authz.Credentials{Password: strings.Repeat("p", board.MaxPasswordLength+1)})
	requireKind(t, err, board.KindValidation)

	summary, err := e.GetPost(ctx, a.Post.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", summary.Title)
}

type failingTokens struct {
	tokenstore.Store
}

func (failingTokens) LookupByHash(context.Context, string, func(tokenstore.Record) bool) (tokenstore.Record, error) {
	return tokenstore.Record{}, board.Dependency("get token", errors.New("store offline"))
}

func TestDependencyFailure(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	a := createPost(ctx, t, e, "pw")

	broken, err := authz.New(e.Board, failingTokens{Store: e.Tokens}, tokenCodec(t), authz.Config{})
	require.NoError(t, err)
	_, err = broken.UpdatePost(ctx, a.Post.ID, "t", "c", authz.Credentials{ViewToken: a.ViewToken})
	requireKind(t, err, board.KindDependency)
	_, err = broken.AdminStatus(ctx, "some.token")
	requireKind(t, err, board.KindDependency)
}

type failingPut struct {
	tokenstore.Store
}

func (failingPut) Put(context.Context, tokenstore.Record) error {
	return board.Dependency("put token", errors.New("store offline"))
}

type failingCleanup struct {
	tokenstore.Store
}

func (failingCleanup) DeleteByPost(context.Context, string) error {
	return board.Dependency("delete post tokens", errors.New("store offline"))
}

func brokenEngine(t *testing.T, e *testutil.Engine, tokens tokenstore.Store, cfg authz.Config) *authz.Engine {
	t.Helper()
	cfg.Hasher = credential.ForTesting(testutil.FastIterations)
	cfg.Clock = e.Clock.Now
	broken, err := authz.New(e.Board, tokens, tokenCodec(t), cfg)
	require.NoError(t, err)
	return broken
}

func TestCreateRollsBackWhenTokenCannotBeStored(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()

	id := uuid.NewString()
	broken := brokenEngine(t, e, failingPut{Store: e.Tokens}, authz.Config{NewID: func() string { return id }})
	_, err := broken.CreatePost(ctx, authz.NewPost{Title: "t", Content: "c", Password: "pw"})
	requireKind(t, err, board.KindDependency)

	_, err = e.Board.GetPost(ctx, id)
	requireKind(t, err, board.KindNotFound)
}

func TestUpdateSucceedsWithoutToken(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	a := createPost(ctx, t, e, "pw")

	broken := brokenEngine(t, e, failingPut{Store: e.Tokens}, authz.Config{})
	res, err := broken.UpdatePost(ctx, a.Post.ID, "changed", "c", authz.Credentials{Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, authz.OutcomePassword, res.Decision.Outcome)
	require.Empty(t, res.ViewToken)
	require.True(t, res.ViewTokenExpiresAt.IsZero())

	p, err := e.Board.GetPost(ctx, a.Post.ID)
	require.NoError(t, err)
	require.Equal(t, "changed", p.Title)
}

func TestDeleteIgnoresTokenCleanupFailure(t *testing.T) {
	ctx := context.Background()
	e, cleanup := testutil.AcquireEngine(ctx, t, testutil.EngineOptions{})
	defer cleanup()
	a := createPost(ctx, t, e, "pw")

	broken := brokenEngine(t, e, failingCleanup{Store: e.Tokens}, authz.Config{})
	d, err := broken.DeletePost(ctx, a.Post.ID, authz.Credentials{ViewToken: a.ViewToken})
	require.NoError(t, err)
	require.Equal(t, authz.OutcomeViewToken, d.Outcome)

	_, err = e.Board.GetPost(ctx, a.Post.ID)
	requireKind(t, err, board.KindNotFound)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := authz.New(nil, nil, nil, authz.Config{})
	require.Error(t, err)
}

func tokenCodec(t *testing.T) *token.Codec {
	c, err := token.NewCodec(testutil.Pepper)
	require.NoError(t, err)
	return c
}
