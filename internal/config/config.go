// Package config loads planner configuration from an optional YAML file and
// PLANNER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

// Research providers.
const (
	ResearchNone   = "none"
	ResearchStatic = "static"
	ResearchVector = "vector"
)

// Config holds the complete planner configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	LLM       LLMConfig       `koanf:"llm"`
	Research  ResearchConfig  `koanf:"research"`
	Store     StoreConfig     `koanf:"store"`
	Audit     AuditConfig     `koanf:"audit"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Registry  RegistryConfig  `koanf:"registry"`
	Scrub     ScrubConfig     `koanf:"scrub"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PipelineConfig tunes the S0-S6 run.
type PipelineConfig struct {
	MaxParallelLanes int      `koanf:"max_parallel_lanes"`
	CallTimeout      Duration `koanf:"call_timeout"`
	TopRankThreshold int      `koanf:"top_rank_threshold"`
	WarnOnClinical   bool     `koanf:"warn_on_clinical"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	Mock          bool     `koanf:"mock"`
	BaseURL       string   `koanf:"base_url"`
	Model         string   `koanf:"model"`
	APIKey        Secret   `koanf:"api_key"`
	MaxTokens     int      `koanf:"max_tokens"`
	Temperature   *float64 `koanf:"temperature"`
	RatePerMinute float64  `koanf:"rate_per_minute"`
	Burst         int      `koanf:"burst"`
	MaxRetries    int      `koanf:"max_retries"`
	BaseBackoff   Duration `koanf:"base_backoff"`
}

// ResearchConfig selects and tunes the research provider.
type ResearchConfig struct {
	Provider       string   `koanf:"provider"`
	CacheTTL       Duration `koanf:"cache_ttl"`
	CacheEntries   int      `koanf:"cache_entries"`
	VectorPath     string   `koanf:"vector_path"`
	Collection     string   `koanf:"collection"`
	TopK           int      `koanf:"top_k"`
	EmbeddingURL   string   `koanf:"embedding_url"`
	EmbeddingModel string   `koanf:"embedding_model"`
	EmbeddingKey   Secret   `koanf:"embedding_key"`
}

// StoreConfig selects the plan store backend.
type StoreConfig struct {
	Backend        string `koanf:"backend"`
	Path           string `koanf:"path"`
	Bucket         string `koanf:"bucket"`
	Prefix         string `koanf:"prefix"`
	Region         string `koanf:"region"`
	Endpoint       string `koanf:"endpoint"`
	ForcePathStyle bool   `koanf:"force_path_style"`
}

// AuditConfig configures where gate records are published.
type AuditConfig struct {
	NATSURL      string `koanf:"nats_url"`
	StageSubject string `koanf:"stage_subject"`
	RunSubject   string `koanf:"run_subject"`
}

// TemporalConfig configures the durable workflow worker.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// RegistryConfig points at an alternate rule table file.
type RegistryConfig struct {
	Path string `koanf:"path"`
}

// ScrubConfig controls redaction of identifiers from free text sent to
// the model. Scrubbing is on unless Disabled is set.
type ScrubConfig struct {
	Disabled  bool     `koanf:"disabled"`
	AllowList []string `koanf:"allow_list"`
}

// LogConfig holds the log settings exposed through configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
	ServiceName    string   `koanf:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Pipeline.MaxParallelLanes == 0 {
		cfg.Pipeline.MaxParallelLanes = 4
	}
	if cfg.Pipeline.CallTimeout == 0 {
		cfg.Pipeline.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Pipeline.TopRankThreshold == 0 {
		cfg.Pipeline.TopRankThreshold = 20
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}

	if cfg.Research.Provider == "" {
		cfg.Research.Provider = ResearchStatic
	}
	if cfg.Research.CacheTTL == 0 {
		cfg.Research.CacheTTL = Duration(time.Hour)
	}
	if cfg.Research.CacheEntries == 0 {
		cfg.Research.CacheEntries = 128
	}
	if cfg.Research.Collection == "" {
		cfg.Research.Collection = "planner_research"
	}
	if cfg.Research.TopK == 0 {
		cfg.Research.TopK = 5
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreSQLite
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.Path == "" {
		cfg.Store.Path = "planner.db"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "planner"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "planner"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Pipeline.MaxParallelLanes < 1 {
		return fmt.Errorf("pipeline.max_parallel_lanes must be >= 1, got %d", c.Pipeline.MaxParallelLanes)
	}
	if c.Pipeline.CallTimeout <= 0 {
		return errors.New("pipeline.call_timeout must be positive")
	}
	if c.Pipeline.TopRankThreshold < 1 {
		return fmt.Errorf("pipeline.top_rank_threshold must be >= 1, got %d", c.Pipeline.TopRankThreshold)
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", *t)
	}
	if !c.LLM.Mock && !c.LLM.APIKey.IsSet() && c.LLM.BaseURL == "" {
		return errors.New("llm.api_key or llm.base_url is required unless llm.mock is set")
	}

	switch c.Research.Provider {
	case ResearchNone, ResearchStatic:
	case ResearchVector:
		if c.Research.VectorPath == "" {
			return errors.New("research.vector_path is required for the vector provider")
		}
		if c.Research.EmbeddingURL == "" || c.Research.EmbeddingModel == "" {
			return errors.New("research.embedding_url and research.embedding_model are required for the vector provider")
		}
	default:
		return fmt.Errorf("unknown research provider %q", c.Research.Provider)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case StoreS3:
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}
