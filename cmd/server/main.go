// Command server runs the telehealth medical record service and its
// maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/telehealth/internal/flagx"
	"github.com/dmitrijs2005/telehealth/internal/server"
	"github.com/dmitrijs2005/telehealth/internal/server/config"
	"github.com/dmitrijs2005/telehealth/internal/server/models"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Encrypted medical record storage with version history",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), tokenCmd(), userCmd())
	return root
}

// withApp loads the configuration, builds the app, and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := server.NewApp(ctx, config.LoadConfig(), os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			app.Logger().Error(ctx, "shutdown", "error", err)
		}
	}()

	return fn(ctx, app)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "serve",
		Short:              "Apply migrations and serve HTTP and gRPC",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				return app.Run(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "migrate",
		Short:              "Apply pending database migrations",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				return app.Migrate(ctx)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "sweep",
		Short:              "Delete stored files no record or version references",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				n, err := app.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned objects\n", n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "token <user-id>",
		Short:              "Print an access token for an existing user",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := flagx.Positional(args)
			if len(pos) != 1 {
				return fmt.Errorf("usage: server token <user-id>")
			}
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				token, err := app.Users().IssueToken(ctx, pos[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:                "add <name> <email> <patient|doctor|admin>",
		Short:              "Create a user and print its id",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := flagx.Positional(args)
			if len(pos) != 3 {
				return fmt.Errorf("usage: server user add <name> <email> <role>")
			}
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				u, err := app.Users().Register(ctx, pos[0], pos[1], models.Role(pos[2]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u.ID)
				return nil
			})
		},
	})
	return cmd
}
