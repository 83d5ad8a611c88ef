package tokens

import (
	"fmt"

	"github.com/andrebq/lockboard/internal/backend"
	"github.com/andrebq/lockboard/internal/cmdflags"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Maintenance of view tokens and admin sessions",
		Subcommands: []*cli.Command{
			sweepCmd(),
		},
	}
}

func sweepCmd() *cli.Command {
	var storage backend.Config
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove every expired token from the token store and print how many were removed",
		Flags: cmdflags.Backend(&storage),
		Action: func(ctx *cli.Context) error {
			if storage.Tokens == backend.TokensMemory {
				return fmt.Errorf("nothing to sweep, the memory token store lives inside the server process")
			}
			b, err := backend.Open(ctx.Context, storage)
			if err != nil {
				return err
			}
			defer b.Close()
			n, err := b.Tokens.DeleteExpired(ctx.Context)
			if err != nil {
				return err
			}
			log := logutil.GetOrDefault(ctx.Context)
			log.Info().Int("removed", n).Msg("Expired tokens removed")
			_, err = fmt.Fprintln(ctx.App.Writer, n)
			return err
		},
	}
}
