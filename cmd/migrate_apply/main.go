package main

import (
	"context"
	"database/sql"
	"errors"
	"os"

	"fairwager/internal/logger"
	"fairwager/internal/migrations"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	logger.Init("info", false)

	var dsn string
	root := &cobra.Command{
		Use:          "migrate_apply",
		Short:        "Apply the embedded database migrations",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return errors.New("set DATABASE_URL or pass --dsn")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "database URL (default $DATABASE_URL)")

	step := func(use, short string, fn func(context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return fn(cmd.Context(), dsn)
			},
		}
	}
	root.AddCommand(
		step("up", "Apply every pending migration", withDB(migrations.Up)),
		step("down", "Roll back the latest migration", withDB(migrations.Down)),
		step("status", "Print the state of every migration", withDB(migrations.Status)),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Fatal("migration failed", "error", err)
	}
}

func withDB(fn func(context.Context, *sql.DB) error) func(context.Context, string) error {
	return func(ctx context.Context, dsn string) error {
		db, err := migrations.Open(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, db)
	}
}
