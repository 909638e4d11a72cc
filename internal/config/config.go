package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Pipeline struct {
	QueueLength    int           `mapstructure:"queue_length"`
	WorkerCount    int           `mapstructure:"worker_count"`
	ContinueOnErr  bool          `mapstructure:"continue_on_error"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	PendingHandles int           `mapstructure:"pending_handles"`
}

type Batch struct {
	RowLimit        int           `mapstructure:"row_limit"`
	ByteLimit       int64         `mapstructure:"byte_limit"`
	FieldTerminator string        `mapstructure:"field_terminator"`
	LineTerminator  string        `mapstructure:"line_terminator"`
	FieldWrapper    string        `mapstructure:"field_wrapper"`
}

type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Base        time.Duration `mapstructure:"base"`
	Max         time.Duration `mapstructure:"max"`
}

type Source struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Schema       string `mapstructure:"schema"`
	FetchCount   int    `mapstructure:"fetch_count"`
	UnloadBucket string `mapstructure:"unload_bucket"`
	UnloadRegion string `mapstructure:"unload_region"`
}

type Destination struct {
	Driver         string        `mapstructure:"driver"`
	Host           string        `mapstructure:"host"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	UploadRoot     string        `mapstructure:"upload_root"`
	MaxInFlight    int64         `mapstructure:"max_in_flight"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ImportStrategy selects how batches reach the destination: "stream"
	// sends them inline, "file" writes them to disk first and issues a
	// file-based load command.
	ImportStrategy string `mapstructure:"import_strategy"`
	UserFolder     string `mapstructure:"user_folder"`
	FileExt        string `mapstructure:"file_ext"`
	IgnoreSkipData bool   `mapstructure:"ignore_skip_data"`
}

type Trigger struct {
	Mode       string        `mapstructure:"mode"`
	Tables     []string      `mapstructure:"tables"`
	QueueKey   string        `mapstructure:"queue_key"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	CronSpec   string        `mapstructure:"cron_spec"`
}

type Control struct {
	SkipGlobs     []string `mapstructure:"skip_globs"`
	SkipUntil     string   `mapstructure:"skip_until"`
	LimitRows     int64    `mapstructure:"limit_rows"`
	TablePrefix   string   `mapstructure:"table_prefix"`
	JumbleColumns []string `mapstructure:"jumble_columns"`
}

type Observability struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

type Config struct {
	Pipeline      Pipeline      `mapstructure:"pipeline"`
	Batch         Batch         `mapstructure:"batch"`
	Retry         Retry         `mapstructure:"retry"`
	Source        Source        `mapstructure:"source"`
	Destination   Destination   `mapstructure:"destination"`
	Trigger       Trigger       `mapstructure:"trigger"`
	Control       Control       `mapstructure:"control"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Pipeline: Pipeline{
			QueueLength:    256,
			WorkerCount:    8,
			ContinueOnErr:  true,
			ShutdownGrace:  5 * time.Second,
			PendingHandles: 4,
		},
		Batch: Batch{
			RowLimit:        10000,
			ByteLimit:       16 << 20,
			FieldTerminator: "|",
			LineTerminator:  "\n",
			FieldWrapper:    "\"",
		},
		Retry: Retry{
			MaxAttempts: 3,
			Base:        500 * time.Millisecond,
			Max:         10 * time.Second,
		},
		Source: Source{
			Driver:     "postgres",
			FetchCount: 20000,
		},
		Destination: Destination{
			Driver:         "blazing",
			UploadRoot:     "/var/lib/blazemigrate/uploads",
			MaxInFlight:    5,
			RequestTimeout: 30 * time.Second,
			ImportStrategy: "stream",
			UserFolder:     "data",
			FileExt:        "dat",
		},
		Trigger: Trigger{
			Mode: "table-list",
		},
		Control: Control{},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
	}
}

// Load reads configuration from a YAML file, applying env var overrides and
// defaults for any unset field.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("pipeline.queue_length", def.Pipeline.QueueLength)
	v.SetDefault("pipeline.worker_count", def.Pipeline.WorkerCount)
	v.SetDefault("pipeline.continue_on_error", def.Pipeline.ContinueOnErr)
	v.SetDefault("pipeline.shutdown_grace", def.Pipeline.ShutdownGrace)
	v.SetDefault("pipeline.pending_handles", def.Pipeline.PendingHandles)

	v.SetDefault("batch.row_limit", def.Batch.RowLimit)
	v.SetDefault("batch.byte_limit", def.Batch.ByteLimit)
	v.SetDefault("batch.field_terminator", def.Batch.FieldTerminator)
	v.SetDefault("batch.line_terminator", def.Batch.LineTerminator)
	v.SetDefault("batch.field_wrapper", def.Batch.FieldWrapper)

	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.base", def.Retry.Base)
	v.SetDefault("retry.max", def.Retry.Max)

	v.SetDefault("source.driver", def.Source.Driver)
	v.SetDefault("source.fetch_count", def.Source.FetchCount)

	v.SetDefault("destination.driver", def.Destination.Driver)
	v.SetDefault("destination.upload_root", def.Destination.UploadRoot)
	v.SetDefault("destination.max_in_flight", def.Destination.MaxInFlight)
	v.SetDefault("destination.request_timeout", def.Destination.RequestTimeout)
	v.SetDefault("destination.import_strategy", def.Destination.ImportStrategy)
	v.SetDefault("destination.user_folder", def.Destination.UserFolder)
	v.SetDefault("destination.file_ext", def.Destination.FileExt)

	v.SetDefault("trigger.mode", def.Trigger.Mode)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Pipeline.WorkerCount < 1 {
		return fmt.Errorf("pipeline.worker_count must be >= 1")
	}
	if cfg.Pipeline.QueueLength < 1 {
		return fmt.Errorf("pipeline.queue_length must be >= 1")
	}
	if cfg.Batch.RowLimit <= 0 {
		return fmt.Errorf("batch.row_limit must be > 0")
	}
	if cfg.Batch.ByteLimit <= 0 {
		return fmt.Errorf("batch.byte_limit must be > 0")
	}
	if cfg.Batch.FieldTerminator == cfg.Batch.LineTerminator {
		return fmt.Errorf("batch.field_terminator and batch.line_terminator must differ")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if cfg.Destination.MaxInFlight < 1 {
		return fmt.Errorf("destination.max_in_flight must be >= 1")
	}
	switch cfg.Destination.ImportStrategy {
	case "stream", "file", "":
	default:
		return fmt.Errorf("destination.import_strategy must be one of stream, file")
	}
	switch cfg.Trigger.Mode {
	case "table-list", "queue", "loop":
	default:
		return fmt.Errorf("trigger.mode must be one of table-list, queue, loop")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
