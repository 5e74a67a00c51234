package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"runwarden/internal/config"
	"runwarden/internal/database"
	"runwarden/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates the run store tables",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		logging.Init(conf.LogLevel, conf.LogFormat)

		db, err := database.New(conf)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close db cleanly")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		log.Info().Str("driver", db.DriverName()).Msg("Run store is up to date")
	},
}
