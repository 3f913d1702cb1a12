// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Server      ServerConfig      `mapstructure:"server"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Points      PointsConfig      `mapstructure:"points"`
	Referral    ReferralConfig    `mapstructure:"referral"`
	Badges      BadgesConfig      `mapstructure:"badges"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Reorg       ReorgConfig       `mapstructure:"reorg"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`
	Rotate  LogRotateConfig `mapstructure:"rotate"`
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"`
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// TemporalConfig holds Temporal-related configuration.
// When Enabled is false, reorgs run in-process.
type TemporalConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	HostPort  string          `mapstructure:"host_port"`
	Namespace string          `mapstructure:"namespace"`
	TaskQueue string          `mapstructure:"task_queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Activity  ActivityOptions `mapstructure:"activity"`
	Workflow  WorkflowOptions `mapstructure:"workflow"`
}

// WorkerConfig holds Temporal worker configuration.
type WorkerConfig struct {
	MaxConcurrentActivityExecutions int     `mapstructure:"max_concurrent_activities"`
	MaxConcurrentWorkflows          int     `mapstructure:"max_concurrent_workflows"`
	ActivitiesPerSecond             float64 `mapstructure:"activities_per_second"`
}

// ActivityOptions holds common activity options.
type ActivityOptions struct {
	StartToCloseTimeout time.Duration `mapstructure:"start_to_close_timeout"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	RetryPolicy         RetryPolicy   `mapstructure:"retry_policy"`
}

// RetryPolicy defines retry behavior for activities.
type RetryPolicy struct {
	InitialInterval    time.Duration `mapstructure:"initial_interval"`
	BackoffCoefficient float64       `mapstructure:"backoff_coefficient"`
	MaximumInterval    time.Duration `mapstructure:"maximum_interval"`
	MaximumAttempts    int32         `mapstructure:"maximum_attempts"`
}

// WorkflowOptions holds common workflow options.
type WorkflowOptions struct {
	WorkflowExecutionTimeout time.Duration `mapstructure:"workflow_execution_timeout"`
	WorkflowTaskTimeout      time.Duration `mapstructure:"workflow_task_timeout"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
	AdminToken     string   `mapstructure:"admin_token"`     // Empty disables the check on admin routes
}

// EngineConfig tunes the write path.
type EngineConfig struct {
	Lanes              int           `mapstructure:"lanes"`
	BufferWindowBlocks uint64        `mapstructure:"buffer_window_blocks"`
	BufferCapacity     int           `mapstructure:"buffer_capacity"`
	BufferSweep        time.Duration `mapstructure:"buffer_sweep"`
	RankEpochBlocks    uint64        `mapstructure:"rank_epoch_blocks"`
	CascadeTimeout     time.Duration `mapstructure:"cascade_timeout"`
	CascadeRetries     uint          `mapstructure:"cascade_retries"`
	EventBuffer        int           `mapstructure:"event_buffer"`
}

// PointsConfig is the grant rule table.
type PointsConfig struct {
	Sign              int64         `mapstructure:"sign"`
	DailyFirstSign    int64         `mapstructure:"daily_first_sign"`
	SignatureReceived int64         `mapstructure:"signature_received"`
	ReactionReceived  int64         `mapstructure:"reaction_received"`
	StreakMilestones  []int         `mapstructure:"streak_milestones"`
	StreakBonus       map[int]int64 `mapstructure:"streak_bonus"`
}

// ReferralConfig holds the referral bonus policy.
type ReferralConfig struct {
	BonusBasisPoints     int64 `mapstructure:"bonus_basis_points"`
	BonusCap             int64 `mapstructure:"bonus_cap"`
	RequireKnownReferrer bool  `mapstructure:"require_known_referrer"`
}

// BadgesConfig points at an optional YAML rule table overriding the defaults.
type BadgesConfig struct {
	DefinitionsPath string `mapstructure:"definitions_path"`
}

// LeaderboardConfig controls the reconciler and snapshot persistence.
type LeaderboardConfig struct {
	RebuildInterval time.Duration `mapstructure:"rebuild_interval"`
	SnapshotSize    int           `mapstructure:"snapshot_size"`
	RetainBuckets   int           `mapstructure:"retain_buckets"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

// CheckpointConfig controls the projection checkpoint store.
type CheckpointConfig struct {
	Path        string `mapstructure:"path"`
	EveryEpochs int    `mapstructure:"every_epochs"`
	Keep        int    `mapstructure:"keep"`
}

// ReorgConfig controls shadow replay.
type ReorgConfig struct {
	SegmentSize int `mapstructure:"segment_size"`
}

// IngestConfig controls the parallel ingestion pipeline.
type IngestConfig struct {
	Workers    int     `mapstructure:"workers"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
	MaxBatch   int     `mapstructure:"max_batch"`
}

// TelemetryConfig holds tracing exporter settings.
type TelemetryConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Environment string            `mapstructure:"environment"`
	Endpoint    string            `mapstructure:"endpoint"`
	Insecure    bool              `mapstructure:"insecure"`
	Headers     map[string]string `mapstructure:"headers"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rankledger/")
		v.AddConfigPath("$HOME/.rankledger")
	}

	v.SetEnvPrefix("RANKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration. Tests and the CLI start from it.
func Default() *AppConfig {
	cfg := defaultConfig()
	return &cfg
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "rankledger.db",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "console",
					Enabled: true,
				},
				{
					Type:    "file",
					Enabled: false,
					Path:    "./logs/rankledger.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
			},
			Levels: map[string]string{
				"engine":       "INFO",
				"ledger":       "INFO",
				"badges":       "INFO",
				"leaderboard":  "INFO",
				"reorg":        "INFO",
				"ingest":       "INFO",
				"database":     "INFO",
				"checkpoint":   "INFO",
				"temporal":     "WARN",
				"api":          "INFO",
				"orchestrator": "INFO",
				"cli":          "WARN",
			},
			Context: LogContextConfig{
				IncludeCaller:     false,
				IncludeTimestamp:  true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Temporal: TemporalConfig{
			Enabled:   false,
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "rankledger-reorg",
			Worker: WorkerConfig{
				MaxConcurrentActivityExecutions: 4,
				MaxConcurrentWorkflows:          4,
				ActivitiesPerSecond:             1000,
			},
			Activity: ActivityOptions{
				StartToCloseTimeout: 10 * time.Minute,
				HeartbeatTimeout:    30 * time.Second,
				RetryPolicy: RetryPolicy{
					InitialInterval:    time.Second,
					BackoffCoefficient: 2.0,
					MaximumInterval:    time.Minute,
					MaximumAttempts:    5,
				},
			},
			Workflow: WorkflowOptions{
				WorkflowExecutionTimeout: 6 * time.Hour,
				WorkflowTaskTimeout:      10 * time.Second,
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Engine: EngineConfig{
			Lanes:              64,
			BufferWindowBlocks: 12,
			BufferCapacity:     10000,
			BufferSweep:        5 * time.Second,
			RankEpochBlocks:    100,
			CascadeTimeout:     5 * time.Second,
			CascadeRetries:     3,
			EventBuffer:        1024,
		},
		Points: PointsConfig{
			Sign:              10,
			DailyFirstSign:    5,
			SignatureReceived: 2,
			ReactionReceived:  1,
			StreakMilestones:  []int{3, 7, 30},
			StreakBonus:       map[int]int64{7: 50},
		},
		Referral: ReferralConfig{
			BonusBasisPoints:     2500,
			BonusCap:             25,
			RequireKnownReferrer: true,
		},
		Leaderboard: LeaderboardConfig{
			RebuildInterval: time.Minute,
			SnapshotSize:    100,
			RetainBuckets:   12,
			MaxPageSize:     500,
		},
		Checkpoint: CheckpointConfig{
			Path:        "./data/checkpoints",
			EveryEpochs: 10,
			Keep:        8,
		},
		Reorg: ReorgConfig{
			SegmentSize: 5000,
		},
		Ingest: IngestConfig{
			Workers:    8,
			RatePerSec: 0,
			Burst:      256,
			MaxBatch:   1000,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "rankledger",
			Endpoint:    "localhost:4318",
			Insecure:    true,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Checkpoint.Path != "" {
		c.Checkpoint.Path = expandPath(c.Checkpoint.Path)
	}
	if c.Badges.DefinitionsPath != "" {
		c.Badges.DefinitionsPath = expandPath(c.Badges.DefinitionsPath)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Engine.Lanes <= 0 {
		return fmt.Errorf("engine.lanes must be positive, got: %d", c.Engine.Lanes)
	}
	if c.Engine.RankEpochBlocks == 0 {
		return errors.New("engine.rank_epoch_blocks must be positive")
	}
	if c.Engine.BufferCapacity < 0 {
		return fmt.Errorf("engine.buffer_capacity must not be negative, got: %d", c.Engine.BufferCapacity)
	}

	if c.Referral.BonusBasisPoints < 0 || c.Referral.BonusBasisPoints > 10000 {
		return fmt.Errorf("referral.bonus_basis_points must be within [0, 10000], got: %d", c.Referral.BonusBasisPoints)
	}
	if c.Referral.BonusCap < 0 {
		return fmt.Errorf("referral.bonus_cap must not be negative, got: %d", c.Referral.BonusCap)
	}

	for _, m := range c.Points.StreakMilestones {
		if m <= 0 {
			return fmt.Errorf("points.streak_milestones must be positive, got: %d", m)
		}
	}

	if c.Reorg.SegmentSize <= 0 {
		return fmt.Errorf("reorg.segment_size must be positive, got: %d", c.Reorg.SegmentSize)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got: %d", c.Ingest.Workers)
	}

	return nil
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "sqlite":
		dsn := dc.Database
		if dsn == ":memory:" {
			dsn = "file::memory:"
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	default:
		return dc.Database
	}
}
