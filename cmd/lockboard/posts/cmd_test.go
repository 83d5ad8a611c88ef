package posts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/internal/backend"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestCreate(t *testing.T) {
	dir, err := os.MkdirTemp("", "lockboard-tests")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	dbfile := filepath.Join(dir, "board.db")

	key, err := rootkey.Generate(nil)
	require.NoError(t, err)
	t.Setenv("TEST_LOCKBOARD_ROOTKEY", key.Encode())

	out := &bytes.Buffer{}
	app := &cli.App{
		Reader:   strings.NewReader("swordfish\n"),
		Writer:   out,
		Commands: []*cli.Command{Cmd()},
	}
	require.NoError(t, app.Run([]string{"lockboard", "posts", "create",
		"--title", "hello", "--content", "world",
		"--db", dbfile, "--root-key-envvar-name", "TEST_LOCKBOARD_ROOTKEY"}))
	require.Empty(t, os.Getenv("TEST_LOCKBOARD_ROOTKEY"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	id, viewToken := lines[0], lines[1]

	ctx := context.Background()
	b, err := backend.Open(ctx, backend.Config{Store: backend.StoreSQLite, DBPath: dbfile})
	require.NoError(t, err)
	defer b.Close()
	engine, err := b.Engine(key, authz.Config{})
	require.NoError(t, err)
	res, err := engine.View(ctx, id, authz.Credentials{Password: "swordfish"})
	require.NoError(t, err)
	require.Equal(t, "world", res.Post.Content)

	res, err = engine.UpdatePost(ctx, id, "hello", "edited", authz.Credentials{ViewToken: viewToken})
	require.NoError(t, err)
	require.Equal(t, authz.OutcomeViewToken, res.Decision.Outcome)
}

func TestCreateRequiresRootKey(t *testing.T) {
	dir, err := os.MkdirTemp("", "lockboard-tests")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	t.Setenv("TEST_LOCKBOARD_ROOTKEY", "")
	app := &cli.App{
		Reader:   strings.NewReader("swordfish\n"),
		Writer:   &bytes.Buffer{},
		Commands: []*cli.Command{Cmd()},
	}
	err = app.Run([]string{"lockboard", "posts", "create", "--title", "hello",
		"--db", filepath.Join(dir, "board.db"), "--root-key-envvar-name", "TEST_LOCKBOARD_ROOTKEY"})
	var missing rootkey.MissingSecret
	require.ErrorAs(t, err, &missing)
}
