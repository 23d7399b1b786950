package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/quizlive/go/internal/dbconfig"
)

// Config is the process-wide configuration shared by every binary.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	Port          string `yaml:"port"`
	GatewayPort   string `yaml:"gateway_port"`
	RelayPort     string `yaml:"relay_port"`
	PublicBaseURL string `yaml:"public_base_url"`
	NATSURL       string `yaml:"nats_url"`
	JWTSecret     string `yaml:"jwt_secret"`

	Mirror struct {
		RedisAddr     string        `yaml:"redis_addr"`
		RedisPassword string        `yaml:"redis_password"`
		RedisDB       int           `yaml:"redis_db"`
		TTL           time.Duration `yaml:"ttl"`
	} `yaml:"mirror"`

	Game struct {
		CountdownSeconds int `yaml:"countdown_seconds"`
	} `yaml:"game"`

	ClockSync struct {
		Samples        int           `yaml:"samples"`
		ResyncInterval time.Duration `yaml:"resync_interval"`
	} `yaml:"clock_sync"`

	Outbox struct {
		FallbackInterval time.Duration `yaml:"fallback_interval"`
	} `yaml:"outbox"`

	Housekeeping struct {
		Schedule          string        `yaml:"schedule"`
		FinishedRetention time.Duration `yaml:"finished_retention"`
		OutboxRetention   time.Duration `yaml:"outbox_retention"`
	} `yaml:"housekeeping"`

	Database dbconfig.Config `yaml:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var c Config
	c.LogLevel = "info"
	c.Port = "8080"
	c.GatewayPort = "8081"
	c.RelayPort = "8082"
	c.PublicBaseURL = "http://localhost:8080"
	c.NATSURL = "nats://localhost:4222"
	c.Mirror.TTL = 6 * time.Hour
	c.Game.CountdownSeconds = 5
	c.ClockSync.Samples = 1
	c.Outbox.FallbackInterval = 30 * time.Second
	c.Housekeeping.Schedule = "0 * * * *"
	c.Housekeeping.FinishedRetention = 24 * time.Hour
	c.Housekeeping.OutboxRetention = 7 * 24 * time.Hour
	return c
}

// MirrorEnabled reports whether the realtime mirror is configured.
func (c Config) MirrorEnabled() bool {
	return c.Mirror.RedisAddr != ""
}

// Load builds the configuration from .env, an optional YAML file and the environment,
// in increasing order of precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	path := getEnv("CONFIG_PATH", "config.yaml")
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	cfg.Database = dbconfig.NewConfigFromEnv()
	return cfg, nil
}

// SetupLogging configures the global zerolog logger for a binary.
func SetupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Port = getEnv("PORT", c.Port)
	c.GatewayPort = getEnv("GATEWAY_PORT", c.GatewayPort)
	c.RelayPort = getEnv("RELAY_PORT", c.RelayPort)
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.Mirror.RedisAddr = getEnv("REDIS_ADDR", c.Mirror.RedisAddr)
	c.Mirror.RedisPassword = getEnv("REDIS_PASSWORD", c.Mirror.RedisPassword)
	c.Mirror.RedisDB = getEnvAsInt("REDIS_DB", c.Mirror.RedisDB)
	c.Game.CountdownSeconds = getEnvAsInt("COUNTDOWN_SECONDS", c.Game.CountdownSeconds)
	c.ClockSync.Samples = getEnvAsInt("CLOCKSYNC_SAMPLES", c.ClockSync.Samples)
	c.ClockSync.ResyncInterval = getEnvAsDuration("CLOCKSYNC_RESYNC_INTERVAL", c.ClockSync.ResyncInterval)
	c.Outbox.FallbackInterval = getEnvAsDuration("FALLBACK_INTERVAL", c.Outbox.FallbackInterval)
	c.Housekeeping.Schedule = getEnv("HOUSEKEEPING_SCHEDULE", c.Housekeeping.Schedule)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
