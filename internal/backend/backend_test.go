package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/board/sqlitestore"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) string {
	dir, err := os.MkdirTemp("", "lockboard-backend")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "board.db")
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Config{Store: StoreSQLite, DBPath: tempDB(t)})
	require.NoError(t, err)
	defer b.Close()
	require.IsType(t, &sqlitestore.Control{}, b.Tokens)
	require.Same(t, b.Posts, b.Tokens)
}

func TestOpenMemoryTokens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, err := Open(ctx, Config{DBPath: tempDB(t), Tokens: TokensMemory, MaxTokenTTL: time.Hour})
	require.NoError(t, err)
	defer b.Close()
	require.IsType(t, &tokenstore.Memory{}, b.Tokens)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "closing twice is a no-op")
}

func TestOpenRejectsUnknownOptions(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Store: "mongodb"})
	var unknown UnknownOption
	if !errors.As(err, &unknown) {
		t.Fatalf("Error should be UnknownOption got %#v", err)
	}
	_, err = Open(ctx, Config{DBPath: tempDB(t), Tokens: "redis"})
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "redis", unknown.Value)

	_, err = Open(ctx, Config{Store: StorePostgres})
	require.Error(t, err)
	_, err = Open(ctx, Config{Store: StoreSQLite})
	require.Error(t, err)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Config{DBPath: tempDB(t)})
	require.NoError(t, err)
	defer b.Close()

	var key rootkey.Key
	copy(key[:], "a root key used only by this test")
	engine, err := b.Engine(key, authz.Config{Hasher: credential.ForTesting(1000)})
	require.NoError(t, err)

	res, err := engine.CreatePost(ctx, authz.NewPost{Title: "t", Content: "c", Password: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, res.ViewToken)

	// a different root key yields a different pepper, so old tokens stop working
	var other rootkey.Key
	copy(other[:], "another root key for this test!!")
	rotated, err := b.Engine(other, authz.Config{Hasher: credential.ForTesting(1000)})
	require.NoError(t, err)
	_, err = rotated.UpdatePost(ctx, res.Post.ID, "t2", "c2", authz.Credentials{ViewToken: res.ViewToken})
	require.Error(t, err)

	_, err = engine.UpdatePost(ctx, res.Post.ID, "t2", "c2", authz.Credentials{ViewToken: res.ViewToken})
	require.NoError(t, err)
}
