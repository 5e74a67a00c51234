package runcmd

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"runwarden/internal/config"
	"runwarden/internal/database"
	"runwarden/internal/logstore"
	"runwarden/internal/queue"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(serverCmd)
	Command.AddCommand(workerCmd)
}

func mustDatabase(conf *config.RWConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}

	return db
}

func mustQueue(conf *config.RWConfig) *queue.RedisClient {
	redis, err := queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, conf.Queue.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to redis queue")
	}
	return redis
}

func mustLogStore(conf *config.RWConfig) logstore.Store {
	switch conf.Logs.Backend {
	case "minio":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := logstore.NewMinioStore(ctx, logstore.MinioConfig{
			Endpoint:  conf.Minio.Endpoint,
			AccessKey: conf.Minio.AccessKey,
			SecretKey: conf.Minio.SecretKey,
			UseSSL:    conf.Minio.UseSSL,
			Region:    conf.Minio.Region,
			Bucket:    conf.Logs.Bucket,
			Prefix:    conf.Logs.Prefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open minio log store")
		}
		return store

	case "file", "":
		store, err := logstore.NewFileStore(conf.Logs.Dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", conf.Logs.Dir).Msg("Could not open log directory")
		}
		return store

	default:
		log.Fatal().Str("backend", conf.Logs.Backend).Msg("Unknown log backend, use file or minio")
		return nil
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
