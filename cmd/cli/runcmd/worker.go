package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"runwarden/internal/client"
	"runwarden/internal/config"
	"runwarden/internal/logging"
	"runwarden/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs a worker process",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		logging.Init(conf.LogLevel, conf.LogFormat)
		log.Info().Msg("Running worker process")

		if conf.Worker.Command == "" {
			log.Fatal().Msg("worker.command is not set, nothing to run")
		}

		queue := mustQueue(conf)
		logs := mustLogStore(conf)

		api := client.New(conf.Worker.ControlPlaneURL, 30*time.Second)
		api.UserHeader = conf.Auth.Header
		api.Token = conf.Worker.Token

		ctx, cancel := context.WithCancel(context.Background())
		wrk := worker.New(worker.NewControlPlane(api), queue, logs, worker.Options{
			Command:           conf.Worker.Command,
			ControlPlaneURL:   conf.Worker.ControlPlaneURL,
			HeartbeatInterval: seconds(conf.Worker.HeartbeatIntervalSec),
		})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			errCh <- wrk.Start(ctx)
		}()

		defer func() {
			if err := queue.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close redis queue cleanly on shutdown")
			}

			cancel()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				log.Fatal().Err(err).Str("worker_id", wrk.ID).Msg("Ran into problems")
			}
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
		}
	},
}
