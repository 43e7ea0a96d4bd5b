package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/diewo77/quotemaster/internal/app"
	"github.com/diewo77/quotemaster/internal/auth"
	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/db"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quotemaster",
		Short:         "QuoteMaster invoicing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newSeedCommand(), newTokenCommand(), newHashPasswordCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, cfg, "api")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			rt.Log.Error("close failed", "error", err)
		}
	}()
	return serve(ctx, rt)
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the SQL migrations",
	}
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := db.RunSQLMigrations(migrationURL(cfg)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := db.RollbackSQLMigrations(migrationURL(cfg), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(up, down)
	return cmd
}

func migrationURL(cfg *config.Config) string {
	return db.ToURLDSN(db.NormalizeDSN(cfg.Database.DSN()))
}

func newSeedCommand() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo data for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			cfg.App.Seed = false
			rt, err := app.Open(cmd.Context(), cfg, "seed")
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			return db.Seed(cmd.Context(), rt.DB, tenant, rt.Log)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", db.DemoTenant, "tenant identifier to seed")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		tenant string
		role   string
		ttl    time.Duration
		cookie bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if cookie {
				if tenant == "" {
					return errors.New("--cookie needs --tenant")
				}
				value := auth.NewCookieResolver(cfg.Auth.SessionSecret).Encode(tenant)
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", auth.SessionCookieName, value)
				return nil
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
			tok, err := tokens.GenerateToken(tenant, role, "", ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant identifier carried by the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
	cmd.Flags().BoolVar(&cookie, "cookie", false, "print a signed session cookie for --tenant instead of a JWT")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(h))
			return nil
		},
	}
}
