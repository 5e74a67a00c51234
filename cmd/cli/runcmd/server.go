package runcmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"runwarden/internal/api"
	"runwarden/internal/auth"
	"runwarden/internal/config"
	"runwarden/internal/database"
	"runwarden/internal/lifecycle"
	"runwarden/internal/liveness"
	"runwarden/internal/logging"
	"runwarden/internal/queue"
	"runwarden/internal/store"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the control plane API",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		logging.Init(conf.LogLevel, conf.LogFormat)
		log.Info().Msg("Running control plane")

		db := mustDatabase(conf)
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(migrateCtx, db)
		cancelMigrate()
		if err != nil {
			log.Fatal().Err(err).Msg("Could not migrate run store")
		}

		thresholds := liveness.Thresholds{
			DeadAfter:  seconds(conf.Liveness.DeadAfterSec),
			StaleAfter: seconds(conf.Liveness.StaleAfterSec),
		}
		opts := []lifecycle.Option{}

		// the queue is optional for the control plane, runs can still be driven by hand
		var redisQueue *queue.RedisClient
		if q, err := queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, conf.Queue.Name); err != nil {
			log.Warn().Err(err).Msg("Redis queue unavailable, new runs will not be dispatched")
		} else {
			redisQueue = q
			opts = append(opts, lifecycle.WithQueue(q))
		}

		service := lifecycle.NewService(store.New(db), mustLogStore(conf), thresholds, opts...)

		var authenticator auth.Authenticator
		switch conf.Auth.Mode {
		case "redis":
			if redisQueue == nil {
				log.Fatal().Msg("auth.mode redis needs a reachable redis")
			}
			authenticator = auth.NewRedisSessions(redisQueue.Redis(), conf.Auth.SessionPrefix)
		default:
			authenticator = auth.HeaderAuthenticator{Header: conf.Auth.Header}
		}

		ctx, cancel := context.WithCancel(context.Background())
		var sweeper *liveness.Sweeper
		if conf.Liveness.SweepCron != "" {
			sweeper = liveness.NewSweeper(service.Reclaimer(), conf.Liveness.SweepCron)
			if err := sweeper.Start(ctx); err != nil {
				log.Fatal().Err(err).Str("schedule", conf.Liveness.SweepCron).Msg("Could not start liveness sweeper")
			}
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port),
			Handler:           api.New(service, authenticator),
			ReadHeaderTimeout: 10 * time.Second,
		}

		defer func() {
			cancel()
			if sweeper != nil {
				sweeper.Stop()
			}

			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
			}

			if redisQueue != nil {
				if err := redisQueue.Close(); err != nil {
					log.Error().Err(err).Msg("Could not close redis queue cleanly on shutdown")
				}
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("Server stopped")
			}
			return
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server cleanly")
		}
	},
}
