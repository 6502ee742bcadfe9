// Package config provides configuration loading for docqa.
//
// Values are resolved from built-in defaults, an optional YAML file and
// DOCQA_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds the complete docqa configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	LLM         LLMConfig         `koanf:"llm"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Agent       AgentConfig       `koanf:"agent"`
	Sessions    SessionsConfig    `koanf:"sessions"`
	Watch       WatchConfig       `koanf:"watch"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int           `koanf:"max_upload_mb"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	UploadDir string `koanf:"upload_dir"`
	IndexDir  string `koanf:"index_dir"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // openai, tei or fastembed
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	BatchSize int    `koanf:"batch_size"`
	Dimension int    `koanf:"dimension"`
}

// VectorStoreConfig selects the index backend.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"` // chromem or qdrant
	Collection   string `koanf:"collection"`
	Compress     bool   `koanf:"compress"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
}

// LLMConfig configures the chat model used by the agent and the math tool.
type LLMConfig struct {
	Provider       string        `koanf:"provider"` // openai, ollama or anthropic
	Model          string        `koanf:"model"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         Secret        `koanf:"api_key"`
	RateLimit      float64       `koanf:"rate_limit"` // requests per second, 0 disables limiting
	Burst          int           `koanf:"burst"`
	MaxRetries     int           `koanf:"max_retries"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ChunkingConfig controls text splitting.
type ChunkingConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// RetrievalConfig controls the retriever.
type RetrievalConfig struct {
	TopK       int     `koanf:"top_k"`
	MinScore   float64 `koanf:"min_score"`
	Rerank     bool    `koanf:"rerank"`
	Candidates int     `koanf:"candidates"`
}

// AgentConfig bounds a single agent run.
type AgentConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	Timeout       time.Duration `koanf:"timeout"`
}

// SessionsConfig bounds the in-memory conversation store.
type SessionsConfig struct {
	MaxSessions int           `koanf:"max_sessions"`
	TTL         time.Duration `koanf:"ttl"`
	MaxTurns    int           `koanf:"max_turns"`
	DefaultID   string        `koanf:"default_id"`
}

// WatchConfig enables the upload inbox watcher.
type WatchConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Dir      string        `koanf:"dir"`
	Debounce time.Duration `koanf:"debounce"`
}

// LoggingConfig is the subset of logging options exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of OpenTelemetry options exposed through config files.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if c.Storage.UploadDir == "" || c.Storage.IndexDir == "" {
		errs = append(errs, fmt.Errorf("storage.upload_dir and storage.index_dir are required"))
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be openai, tei or fastembed, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.batch_size must be positive"))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider))
	}

	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, ollama or anthropic, got %q", c.LLM.Provider))
	}
	if c.LLM.RateLimit < 0 || c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.rate_limit and llm.max_retries cannot be negative"))
	}

	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap))
	}

	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive"))
	}
	if c.Retrieval.Rerank && c.Retrieval.Candidates < c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.candidates must be >= top_k when rerank is enabled"))
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive"))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.timeout must be positive"))
	}

	if c.Sessions.MaxSessions <= 0 || c.Sessions.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions and sessions.max_turns must be positive"))
	}

	if c.Watch.Enabled && c.Watch.Dir == "" {
		errs = append(errs, fmt.Errorf("watch.dir is required when watch is enabled"))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, fmt.Errorf("telemetry.endpoint is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates the upload, index and inbox directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.UploadDir, c.Storage.IndexDir}
	if c.Watch.Enabled {
		dirs = append(dirs, c.Watch.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
