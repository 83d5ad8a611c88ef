package cmdflags

import (
	"time"

	"github.com/andrebq/lockboard/internal/backend"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/urfave/cli/v2"
)

func RootKeyEnvVar(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = rootkey.RootKeyEnvVar
	}
	return &cli.StringFlag{
		Name:        "root-key-envvar-name",
		Usage:       "Name of the environment variable that holds the root key. The key itself should not be passed as an argument",
		Value:       *out,
		Destination: out,
	}
}

func AdminPasswordEnvVar(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = rootkey.AdminPasswordEnvVar
	}
	return &cli.StringFlag{
		Name:        "admin-password-envvar-name",
		Usage:       "Name of the environment variable that holds the admin password (plain or the output of keys hash-password)",
		Value:       *out,
		Destination: out,
	}
}

// Backend registers every flag needed to open the storage.
func Backend(cfg *backend.Config) []cli.Flag {
	if cfg.Store == "" {
		cfg.Store = backend.StoreSQLite
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "lockboard.db"
	}
	if cfg.Tokens == "" {
		cfg.Tokens = backend.TokensDB
	}
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Where posts are kept: sqlite or postgres",
			EnvVars:     []string{"LOCKBOARD_STORE"},
			Value:       cfg.Store,
			Destination: &cfg.Store,
		},
		&cli.StringFlag{
			Name:        "db",
			Usage:       "Path to the sqlite database",
			EnvVars:     []string{"LOCKBOARD_DB"},
			Value:       cfg.DBPath,
			Destination: &cfg.DBPath,
		},
		&cli.StringFlag{
			Name:        "dsn",
			Usage:       "Postgres connection string",
			EnvVars:     []string{"LOCKBOARD_DSN"},
			Value:       cfg.DSN,
			Destination: &cfg.DSN,
		},
		&cli.StringFlag{
			Name:        "token-store",
			Usage:       "Where tokens are kept: db (next to posts) or memory",
			EnvVars:     []string{"LOCKBOARD_TOKEN_STORE"},
			Value:       cfg.Tokens,
			Destination: &cfg.Tokens,
		},
	}
}

func Duration(name, usage, envvar string, out *time.Duration) cli.Flag {
	return &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envvar},
		Value:       *out,
		Destination: out,
	}
}

func LogLevel(out *string) cli.Flag {
	if len(*out) == 0 {
		*out = "info"
	}
	return &cli.StringFlag{
		Name:        "log-level",
		Usage:       "One of trace, debug, info, warn, error",
		EnvVars:     []string{"LOCKBOARD_LOG_LEVEL"},
		Value:       *out,
		Destination: out,
	}
}
