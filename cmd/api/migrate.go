package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"camdesk/internal/catalog"
	"camdesk/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MongoDB indexes for recording metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URI == "" {
			return fmt.Errorf("no database configured, set DB_URI")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := database.New(ctx, cfg.Database.URI, cfg.Database.Name)
		if err != nil {
			return err
		}
		defer db.Close()

		slog.Info("creating indexes", "database", cfg.Database.Name, "collection", catalog.CollectionName)
		if err := catalog.NewMongoRepository(db.GetDatabase()).EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		slog.Info("migration completed")
		return nil
	},
}
