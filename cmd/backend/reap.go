package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shortlink/internal/database"
	"shortlink/internal/domain"
	"shortlink/internal/quota"
	"shortlink/internal/reaper"
	"shortlink/internal/repository/postgres"
)

func reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Deactivate expired links once and exit",
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

			c, closeCache, err := openCache(&cfg.Cache, log)
			if err != nil {
				return err
			}
			defer closeCache()

			storage := postgres.New(db, log)
			enforcer := quota.NewEnforcer(domain.NewPolicies(cfg.Quota.FreeMaxLinks, cfg.Quota.PremiumMaxLinks), log)

			n, err := reaper.New(storage, c, enforcer, &cfg.Reaper, log).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("expiry sweep finished", zap.Int("deactivated", n))
			return nil
		},
	}
}
