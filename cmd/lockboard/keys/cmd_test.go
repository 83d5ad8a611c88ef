package keys

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestHashPassword(t *testing.T) {
	encoded, err := HashPassword(strings.NewReader("correct horse\n"))
	require.NoError(t, err)
	r, err := credential.Decode(encoded)
	require.NoError(t, err)
	require.True(t, credential.Verify("correct horse", r))

	_, err = HashPassword(strings.NewReader(""))
	require.Error(t, err)
	_, err = HashPassword(strings.NewReader("\n"))
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	out := &bytes.Buffer{}
	app := &cli.App{Writer: out, Commands: []*cli.Command{Cmd()}}
	require.NoError(t, app.Run([]string{"lockboard", "keys", "generate"}))
	_, err := rootkey.Decode(strings.TrimSpace(out.String()))
	require.NoError(t, err)
}
