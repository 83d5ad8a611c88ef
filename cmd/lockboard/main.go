package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrebq/lockboard/cmd/lockboard/keys"
	"github.com/andrebq/lockboard/cmd/lockboard/posts"
	"github.com/andrebq/lockboard/cmd/lockboard/serve"
	"github.com/andrebq/lockboard/cmd/lockboard/tokens"
	"github.com/andrebq/lockboard/internal/cmdflags"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	var logLevel string
	var console bool
	app := &cli.App{
		Name:  "lockboard",
		Usage: "A bulletin board where every post has its own password",
		Flags: []cli.Flag{
			cmdflags.LogLevel(&logLevel),
			&cli.BoolFlag{
				Name:        "log-console",
				Usage:       "Human friendly logs instead of json",
				EnvVars:     []string{"LOCKBOARD_LOG_CONSOLE"},
				Destination: &console,
			},
		},
		Before: func(ctx *cli.Context) error {
			logger, err := logutil.New(os.Stderr, logLevel, console)
			if err != nil {
				return err
			}
			log.Logger = logger
			ctx.Context = logutil.WithLogger(ctx.Context, logger)
			return nil
		},
		Commands: []*cli.Command{
			serve.Cmd(),
			keys.Cmd(),
			tokens.Cmd(),
			posts.Cmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
