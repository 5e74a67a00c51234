package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// RWConfig holds the application configuration
type RWConfig struct {
	Database struct {
		Driver   string `mapstructure:"driver"` // pgx or sqlite3
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		DSN      string `mapstructure:"dsn"` // overrides the fields above when set
	} `mapstructure:"database"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Liveness struct {
		DeadAfterSec  int    `mapstructure:"dead_after_sec"`
		StaleAfterSec int    `mapstructure:"stale_after_sec"`
		SweepCron     string `mapstructure:"sweep_cron"`
	} `mapstructure:"liveness"`

	Logs struct {
		Backend string `mapstructure:"backend"` // file or minio
		Dir     string `mapstructure:"dir"`
		Bucket  string `mapstructure:"bucket"`
		Prefix  string `mapstructure:"prefix"`
	} `mapstructure:"logs"`

	Minio struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		UseSSL    bool   `mapstructure:"use_ssl"`
		Region    string `mapstructure:"region"`
	} `mapstructure:"minio"`

	Queue struct {
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"queue"`

	Auth struct {
		Mode          string `mapstructure:"mode"` // header or redis
		Header        string `mapstructure:"header"`
		SessionPrefix string `mapstructure:"session_prefix"`
	} `mapstructure:"auth"`

	Worker struct {
		ControlPlaneURL      string `mapstructure:"control_plane_url"`
		Command              string `mapstructure:"command"`
		Token                string `mapstructure:"token"` // bearer token for operator endpoints when auth.mode is redis
		HeartbeatIntervalSec int    `mapstructure:"heartbeat_interval_sec"`
	} `mapstructure:"worker"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*RWConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("RW_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// no file at all, run purely on defaults and environment
		config = &RWConfig{}
		if err := v.Unmarshal(config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "runwarden")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.dsn", "")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9002)

	// Liveness defaults. The heartbeat deadline must stay well below the stale deadline so the
	// resumable recovery path fires first
	v.SetDefault("liveness.dead_after_sec", 60)
	v.SetDefault("liveness.stale_after_sec", 1800)
	v.SetDefault("liveness.sweep_cron", "")

	v.SetDefault("logs.backend", "file")
	v.SetDefault("logs.dir", "logs")
	v.SetDefault("logs.bucket", "runwarden-logs")
	v.SetDefault("logs.prefix", "runs/")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minio")
	v.SetDefault("minio.secret_key", "minio123")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "")

	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "redis")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.name", "runwarden:runs")

	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.header", "X-User-ID")
	v.SetDefault("auth.session_prefix", "runwarden:session:")

	// Worker defaults
	v.SetDefault("worker.control_plane_url", "http://localhost:9002")
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.token", "")
	v.SetDefault("worker.heartbeat_interval_sec", 10)

	// Log defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetEnvPrefix("RW")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*RWConfig, error) {
	var config RWConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns a formatted database connection string
func (c *RWConfig) GetDatabaseURL() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// DeadAfter is how long a running run may go without a heartbeat before it is paused
func (c *RWConfig) DeadAfter() time.Duration {
	return time.Duration(c.Liveness.DeadAfterSec) * time.Second
}

// StaleAfter is the wall-clock age past which a running run is failed outright
func (c *RWConfig) StaleAfter() time.Duration {
	return time.Duration(c.Liveness.StaleAfterSec) * time.Second
}

// GetServerAddress returns the host:port the API server listens on
func (c *RWConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
