package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"arena/internal/common/cache"
	"arena/internal/common/db"
	"arena/internal/common/http/middleware"
	"arena/internal/common/mq"
	"arena/internal/common/storage"
	"arena/internal/contest/catalog"
	"arena/internal/contest/gate"
	"arena/internal/contest/judge"
	"arena/internal/contest/leaderboard"
	"arena/internal/contest/ledger"
	"arena/internal/contest/scoring"
	"arena/pkg/utils/logger"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "ARENA_"

	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCAddr        = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the health server settings.
type GRPCConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TopicConfig names the attempt event stream.
type TopicConfig struct {
	Attempts      string `yaml:"attempts"`
	ConsumerGroup string `yaml:"consumerGroup" env:"CONSUMER_GROUP"`
}

// ContestConfig holds contest engine settings.
type ContestConfig struct {
	Scoring         scoring.Engine           `yaml:"scoring"`
	Leaderboard     leaderboard.Config       `yaml:"leaderboard"`
	PersistRuns     *bool                    `yaml:"persistRuns"`
	Languages       []string                 `yaml:"languages"`
	MaxCodeBytes    int                      `yaml:"maxCodeBytes"`
	IdempotencyTTL  time.Duration            `yaml:"idempotencyTTL"`
	RateLimit       gate.RateLimitConfig     `yaml:"rateLimit"`
	Timeouts        gate.TimeoutConfig       `yaml:"timeouts"`
	SourceBucket    string                   `yaml:"sourceBucket"`
	SourceKeyPrefix string                   `yaml:"sourceKeyPrefix"`
	LockMode        string                   `yaml:"lockMode" env:"LOCK_MODE"` // local or redis
	Lock            ledger.RedisLockerConfig `yaml:"lock"`
	ContestCacheTTL time.Duration            `yaml:"contestCacheTTL"`
	ContestEmptyTTL time.Duration            `yaml:"contestEmptyTTL"`
	SweepInterval   time.Duration            `yaml:"sweepInterval"`
	StaleAfter      time.Duration            `yaml:"staleAfter"`
	JudgeParallel   int                      `yaml:"judgeParallel"`
	JudgeQueueWait  time.Duration            `yaml:"judgeQueueWait"`
	StreamPing      time.Duration            `yaml:"streamPing"`
	StreamRefresh   time.Duration            `yaml:"streamRefresh"`
}

// CatalogConfig selects the problem source: a YAML file or the problem service.
type CatalogConfig struct {
	File  string               `yaml:"file" env:"FILE"`
	HTTP  catalog.HTTPConfig   `yaml:"http" envPrefix:"HTTP_"`
	Cache catalog.CachedConfig `yaml:"cache"`
}

// AppConfig holds contest-service configuration.
type AppConfig struct {
	Server   ServerConfig              `yaml:"server" envPrefix:"HTTP_"`
	GRPC     GRPCConfig                `yaml:"grpc" envPrefix:"GRPC_"`
	Logger   logger.Config             `yaml:"logger"`
	Database db.Config                 `yaml:"database" envPrefix:"DATABASE_"`
	Redis    cache.RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	Kafka    mq.KafkaConfig            `yaml:"kafka" envPrefix:"KAFKA_"`
	Topics   TopicConfig               `yaml:"topics" envPrefix:"KAFKA_"`
	MinIO    storage.MinIOConfig       `yaml:"minio" envPrefix:"MINIO_"`
	Judge    judge.HTTPConfig          `yaml:"judge" envPrefix:"JUDGE_"`
	Catalog  CatalogConfig             `yaml:"catalog" envPrefix:"CATALOG_"`
	Contest  ContestConfig             `yaml:"contest" envPrefix:"CONTEST_"`
	Auth     middleware.IdentityConfig `yaml:"auth" envPrefix:"AUTH_"`
	CORS     middleware.CORSConfig     `yaml:"cors"`
	// InstanceID distinguishes this process on the attempt event stream.
	InstanceID string `yaml:"instanceID" env:"INSTANCE_ID"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the YAML file, then a .env file if present, then ARENA_*
// environment overrides, then fills defaults.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment failed: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Topics.Attempts == "" {
		cfg.Topics.Attempts = "contest.attempts"
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = host
	}
	if cfg.Topics.ConsumerGroup == "" {
		cfg.Topics.ConsumerGroup = "contest-service-" + cfg.InstanceID
	}

	c := &cfg.Contest
	if c.PersistRuns == nil {
		persist := true
		c.PersistRuns = &persist
	}
	if c.MaxCodeBytes == 0 {
		c.MaxCodeBytes = 64 * 1024
	}
	if c.IdempotencyTTL == 0 {
		c.IdempotencyTTL = 10 * time.Minute
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Max == 0 {
		c.RateLimit.Max = 20
	}
	if c.Timeouts.Judge == 0 {
		c.Timeouts.Judge = 30 * time.Second
	}
	if c.Timeouts.Cache == 0 {
		c.Timeouts.Cache = time.Second
	}
	if c.Timeouts.Storage == 0 {
		c.Timeouts.Storage = 5 * time.Second
	}
	if c.SourceBucket == "" {
		c.SourceBucket = cfg.MinIO.Bucket
	}
	if c.LockMode == "" {
		c.LockMode = "redis"
	}
	if c.ContestCacheTTL == 0 {
		c.ContestCacheTTL = 10 * time.Minute
	}
	if c.ContestEmptyTTL == 0 {
		c.ContestEmptyTTL = time.Minute
	}
	if c.JudgeParallel == 0 {
		c.JudgeParallel = 16
	}
	if c.JudgeQueueWait == 0 {
		c.JudgeQueueWait = 5 * time.Second
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Database.Driver {
	case "mysql", "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %q", cfg.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	switch cfg.Contest.LockMode {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported lock mode %q", cfg.Contest.LockMode)
	}
	if cfg.Contest.LockMode == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for redis lock mode")
	}
	if cfg.Judge.BaseURL == "" {
		return fmt.Errorf("judge baseURL is required")
	}
	if cfg.Catalog.File == "" && cfg.Catalog.HTTP.BaseURL == "" {
		return fmt.Errorf("catalog file or http baseURL is required")
	}
	return nil
}
