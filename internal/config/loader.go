package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "DOCQA_"
	defaultConfigFile = "docqa.yaml"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration from an optional YAML file and the environment.
//
// Precedence (highest to lowest):
//  1. DOCQA_* environment variables
//  2. YAML file at configPath, $DOCQA_CONFIG or ./docqa.yaml
//  3. Built-in defaults
//
// Environment variables map onto section.field by splitting on the first
// underscore after the prefix:
//
//	DOCQA_SERVER_PORT          -> server.port
//	DOCQA_LLM_MAX_RETRIES      -> llm.max_retries
//	DOCQA_VECTORSTORE_PROVIDER -> vectorstore.provider
//
// An explicit configPath must exist. The implicit paths are optional.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = os.Getenv("DOCQA_CONFIG")
		explicit = configPath != ""
	}
	if configPath == "" {
		configPath = defaultConfigFile
	}

	content, err := readConfigFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		// defaults and environment only
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg, k.Exists)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps DOCQA_SECTION_FIELD_NAME to section.field_name.
// Keys without a field part are ignored.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok || section == "" || field == "" {
		return ""
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized files and files other users can write.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills every unset field. Fields where zero is a meaningful
// value consult isSet, which reports whether a key was given explicitly.
func applyDefaults(cfg *Config, isSet func(key string) bool) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./uploads"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./chroma_store"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "openai":
			cfg.Embeddings.Model = "text-embedding-ada-002"
		default:
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		}
	}
	if cfg.Embeddings.Provider == "tei" && cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 64
	}
	if !cfg.Embeddings.APIKey.IsSet() && cfg.Embeddings.Provider == "openai" {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "docqa_documents"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.Model = "claude-3-5-sonnet-latest"
		case "ollama":
			cfg.LLM.Model = "llama3.1"
		default:
			cfg.LLM.Model = "gpt-4"
		}
	}
	if !cfg.LLM.APIKey.IsSet() {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		case "anthropic":
			cfg.LLM.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 30 * time.Second
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 && !isSet("chunking.overlap") {
		cfg.Chunking.Overlap = min(100, cfg.Chunking.Size/10)
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Candidates == 0 {
		cfg.Retrieval.Candidates = 4 * cfg.Retrieval.TopK
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 8
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = 60 * time.Second
	}

	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = 1000
	}
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = 24 * time.Hour
	}
	if cfg.Sessions.MaxTurns == 0 {
		cfg.Sessions.MaxTurns = 50
	}
	if cfg.Sessions.DefaultID == "" {
		cfg.Sessions.DefaultID = "default"
	}

	if cfg.Watch.Dir == "" {
		cfg.Watch.Dir = "./inbox"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
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
}
