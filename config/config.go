// Package config loads service configuration from the environment and
// connects the backing stores.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/carbonlake/aquiferai/pkg/gateway"
)

// Config holds the full service configuration.
type Config struct {
	ListenAddr  string
	MetricsAddr string

	LLM      LLMConfig
	Neo4j    Neo4jConfig
	Postgres PostgresConfig

	Pipeline PipelineConfig
}

// LLMConfig selects the model backend and per-role models.
type LLMConfig struct {
	// Backend is "anthropic" or "ollama".
	Backend        string
	OllamaURL      string
	MaxTokens      int64
	Models         map[gateway.Role]string
	GatewayTimeout time.Duration
	MaxAttempts    int
}

// Neo4jConfig holds the graph database connection settings.
type Neo4jConfig struct {
	URI          string
	Database     string
	Username     string
	Password     string
	QueryTimeout time.Duration
}

// PostgresConfig holds the session database connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
}

// PipelineConfig holds the pipeline tuning knobs.
type PipelineConfig struct {
	MaxRetries        int
	SynthesisRowLimit int
	WorkerPoolSize    int
	ContextWindow     int
}

// Load reads configuration from environment variables, applying defaults
// for everything except credentials.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		MetricsAddr: getenv("METRICS_ADDR", ":9090"),
		LLM: LLMConfig{
			Backend:   getenv("LLM_BACKEND", "anthropic"),
			OllamaURL: getenv("OLLAMA_URL", "http://localhost:11434"),
			MaxTokens: int64(getenvInt("LLM_MAX_TOKENS", 4096)),
			Models: map[gateway.Role]string{
				gateway.RolePlanner:     getenv("LLM_MODEL_PLANNER", defaultModel()),
				gateway.RoleQueryWriter: getenv("LLM_MODEL_QUERY_WRITER", defaultModel()),
				gateway.RoleHealer:      getenv("LLM_MODEL_HEALER", defaultModel()),
				gateway.RoleSynthesizer: getenv("LLM_MODEL_SYNTHESIZER", defaultModel()),
			},
			GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 120*time.Second),
			MaxAttempts:    getenvInt("GATEWAY_MAX_ATTEMPTS", 3),
		},
		Neo4j: Neo4jConfig{
			URI:          getenv("NEO4J_URI", "bolt://localhost:7687"),
			Database:     getenv("NEO4J_DATABASE", "neo4j"),
			Username:     getenv("NEO4J_USERNAME", "neo4j"),
			Password:     os.Getenv("NEO4J_PASSWORD"),
			QueryTimeout: getenvDuration("QUERY_TIMEOUT", 30*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getenv("POSTGRES_HOST", "localhost"),
			Port:     getenv("POSTGRES_PORT", "5432"),
			Database: getenv("POSTGRES_DB", "aquiferai"),
			Username: getenv("POSTGRES_USER", "aquiferai"),
			Password: getenv("POSTGRES_PASSWORD", "aquiferai"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:        getenvInt("PIPELINE_MAX_RETRIES", 3),
			SynthesisRowLimit: getenvInt("SYNTHESIS_ROW_LIMIT", 50),
			WorkerPoolSize:    getenvInt("PIPELINE_WORKERS", 4),
			ContextWindow:     getenvInt("PIPELINE_CONTEXT_WINDOW", 3),
		},
	}

	switch cfg.LLM.Backend {
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return Config{}, fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_BACKEND=anthropic")
		}
	case "ollama":
	default:
		return Config{}, fmt.Errorf("unknown LLM_BACKEND %q (want anthropic or ollama)", cfg.LLM.Backend)
	}

	return cfg, nil
}

func defaultModel() string {
	return getenv("LLM_MODEL", "claude-sonnet-4-5")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
