package posts

import (
	"fmt"

	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/cmd/lockboard/keys"
	"github.com/andrebq/lockboard/internal/backend"
	"github.com/andrebq/lockboard/internal/cmdflags"
	"github.com/andrebq/lockboard/internal/rootkey"
	"github.com/urfave/cli/v2"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "posts",
		Usage: "Manage posts directly on the database",
		Subcommands: []*cli.Command{
			createCmd(),
		},
	}
}

func createCmd() *cli.Command {
	var storage backend.Config
	var rootKeyEnvVar string
	var np authz.NewPost
	viewTTL := authz.DefaultViewTTL
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "title",
			Usage:       "Title of the new post",
			Required:    true,
			Destination: &np.Title,
		},
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Content of the new post",
			Destination: &np.Content,
		},
		cmdflags.Duration("view-ttl", "How long the printed view token is valid", "LOCKBOARD_VIEW_TTL", &viewTTL),
		cmdflags.RootKeyEnvVar(&rootKeyEnvVar),
	}
	flags = append(flags, cmdflags.Backend(&storage)...)
	return &cli.Command{
		Name:  "create",
		Usage: "Create a post, the password is read from stdin. Prints the post id and a view token",
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			if storage.Tokens == backend.TokensMemory {
				return fmt.Errorf("a view token minted into the memory store would be lost when this command exits, use --token-store=%v", backend.TokensDB)
			}
			password, err := keys.ReadSecretLine(ctx.App.Reader)
			if err != nil {
				return err
			}
			np.Password = password
			key, err := rootkey.FromEnv(rootKeyEnvVar, nil, nil)
			if err != nil {
				return err
			}
			defer key.Zero()

			storage.MaxTokenTTL = viewTTL
			b, err := backend.Open(ctx.Context, storage)
			if err != nil {
				return err
			}
			defer b.Close()
			engine, err := b.Engine(key, authz.Config{ViewTTL: viewTTL})
			if err != nil {
				return err
			}
			res, err := engine.CreatePost(ctx.Context, np)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(ctx.App.Writer, "%v\n%v\n", res.Post.ID, res.ViewToken)
			return err
		},
	}
}
