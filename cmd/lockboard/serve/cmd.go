package serve

import (
	"context"
	"errors"
	"time"

	"github.com/andrebq/lockboard/board/api"
	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/internal/backend"
	"github.com/andrebq/lockboard/internal/cmdflags"
	"github.com/andrebq/lockboard/internal/httpserver"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	opts := httpserver.Options{Bind: "localhost:7008"}
	var storage backend.Config
	var rootKeyEnvVar, adminEnvVar string
	var insecureCookie bool
	viewTTL := authz.DefaultViewTTL
	adminTTL := authz.DefaultAdminTTL
	var sweepInterval time.Duration

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bind",
			Usage:       "Address to bind the HTTP server",
			EnvVars:     []string{"LOCKBOARD_BIND"},
			Value:       opts.Bind,
			Destination: &opts.Bind,
		},
		&cli.StringFlag{
			Name:        "tls-cert",
			Usage:       "TLS certificate file, enables HTTPS together with --tls-key",
			EnvVars:     []string{"LOCKBOARD_TLS_CERT"},
			Destination: &opts.CertFile,
		},
		&cli.StringFlag{
			Name:        "tls-key",
			Usage:       "TLS private key file",
			EnvVars:     []string{"LOCKBOARD_TLS_KEY"},
			Destination: &opts.KeyFile,
		},
		&cli.BoolFlag{
			Name:        "insecure-cookie",
			Usage:       "Send the admin cookie without the Secure attribute (plain HTTP development only)",
			Destination: &insecureCookie,
		},
		cmdflags.Duration("view-ttl", "How long a view token is valid", "LOCKBOARD_VIEW_TTL", &viewTTL),
		cmdflags.Duration("admin-ttl", "How long an admin session is valid", "LOCKBOARD_ADMIN_TTL", &adminTTL),
		cmdflags.Duration("sweep-interval", "How often expired tokens are removed, 0 disables the sweep", "LOCKBOARD_SWEEP_INTERVAL", &sweepInterval),
		cmdflags.RootKeyEnvVar(&rootKeyEnvVar),
		cmdflags.AdminPasswordEnvVar(&adminEnvVar),
	}
	flags = append(flags, cmdflags.Backend(&storage)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the lockboard HTTP API",
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			log := logutil.GetOrDefault(ctx.Context)
			key, err := rootkey.FromEnv(rootKeyEnvVar, nil, nil)
			if err != nil {
				return err
			}
			defer key.Zero()
			admin, err := AdminCredential(adminEnvVar, nil, nil)
			if err != nil {
				return err
			}
			if admin.Hash == "" {
				log.Warn().Str("envvar", adminEnvVar).Msg("No admin password configured, admin login is disabled")
			}
			if insecureCookie {
				log.Warn().Msg("Admin cookie will be sent over plain HTTP")
			}

			storage.MaxTokenTTL = viewTTL
			if adminTTL > viewTTL {
				storage.MaxTokenTTL = adminTTL
			}
			b, err := backend.Open(ctx.Context, storage)
			if err != nil {
				return err
			}
			defer b.Close()

			engine, err := b.Engine(key, authz.Config{
				ViewTTL:         viewTTL,
				AdminTTL:        adminTTL,
				AdminCredential: admin,
			})
			if err != nil {
				return err
			}
			handler, err := api.AsHandler(ctx.Context, engine, api.Options{InsecureCookie: insecureCookie})
			if err != nil {
				return err
			}
			if sweepInterval > 0 {
				go Sweep(ctx.Context, engine, sweepInterval)
			}
			return httpserver.Serve(ctx.Context, opts, handler)
		},
	}
}

// AdminCredential loads the admin password from varname. A missing variable
// yields an empty record, which disables admin login.
func AdminCredential(varname string, getfn rootkey.GetEnvFn, setfn rootkey.SetEnvFn) (credential.Record, error) {
	secret, err := rootkey.SecretFromEnv(varname, getfn, setfn)
	var missing rootkey.MissingSecret
	if errors.As(err, &missing) {
		return credential.Record{}, nil
	} else if err != nil {
		return credential.Record{}, err
	}
	return credential.FromSecret(secret)
}

type Sweeper interface {
	SweepExpired(context.Context) (int, error)
}

// Sweep removes expired tokens every interval until ctx is done.
func Sweep(ctx context.Context, engine Sweeper, interval time.Duration) {
	log := logutil.GetOrDefault(ctx).With().Str("component", "sweeper").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Unable to remove expired tokens")
				continue
			}
			log.Debug().Int("removed", n).Msg("Sweep completed")
		}
	}
}
