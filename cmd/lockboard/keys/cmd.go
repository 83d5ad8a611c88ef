package keys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Generate the secrets lockboard needs to run",
		Subcommands: []*cli.Command{
			generateCmd(),
			hashPasswordCmd(),
		},
	}
}

func generateCmd() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Print a new random root key (base64). Store it in the root key environment variable",
		Action: func(ctx *cli.Context) error {
			k, err := rootkey.Generate(nil)
			if err != nil {
				return err
			}
			defer k.Zero()
			_, err = fmt.Fprintln(ctx.App.Writer, k.Encode())
			return err
		},
	}
}

func hashPasswordCmd() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Hash the admin password read from stdin, the output can be used in place of the plain password",
		Action: func(ctx *cli.Context) error {
			encoded, err := HashPassword(ctx.App.Reader)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(ctx.App.Writer, encoded)
			return err
		},
	}
}

// HashPassword reads one line from in and returns its encoded credential.
func HashPassword(in io.Reader) (string, error) {
	password, err := ReadSecretLine(in)
	if err != nil {
		return "", err
	}
	r, err := credential.MakeRecord(password)
	if err != nil {
		return "", err
	}
	return credential.Encode(r), nil
}

func ReadSecretLine(in io.Reader) (string, error) {
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if sc.Err() != nil {
			return "", sc.Err()
		}
		return "", errors.New("missing password from stdin")
	}
	password := strings.TrimRight(sc.Text(), "\r\n")
	if err := board.ValidatePassword(password); err != nil {
		return "", err
	}
	return password, nil
}
