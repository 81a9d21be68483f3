package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shortlink/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, sync := bootstrap()
			defer sync()

			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(db, log); err != nil {
					log.Error("failed to close database connection", zap.Error(err))
				}
			}()

			return database.AutoMigrate(db, log)
		},
	}
}
