// Package config loads typed configuration for the kernel and its optional
// side-channels from the process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for a kce process.
type Config struct {
	// Env is the environment name (development, staging, production).
	Env string

	// HTTP holds the optional introspection server configuration.
	HTTP HTTPConfig

	// Knowledge holds Knowledge Layer backend selection and connection info.
	Knowledge KnowledgeConfig

	// Planner holds planner search tuning.
	Planner PlannerConfig

	// NodeExec holds subprocess invocation tuning.
	NodeExec NodeExecConfig

	// RunBus holds the optional Redis provenance fan-out configuration.
	RunBus RunBusConfig

	// Oracle holds expert-mode candidate selection configuration.
	Oracle OracleConfig

	// OTel holds OpenTelemetry exporter configuration.
	OTel OTelConfig
}

// KnowledgeConfig selects and configures the Knowledge Layer backend.
type KnowledgeConfig struct {
	// Backend is one of "memory", "sqlite", "arangodb".
	Backend string
	// Path is the sqlite database file path (backend=sqlite). Human-readable
	// blobs are stored inside the selected backend, not under this path.
	Path string
	Arango ArangoConfig
}

// ArangoConfig configures the optional ArangoDB-backed Knowledge Layer.
type ArangoConfig struct {
	Endpoint string
	User     string
	Password string
	Database string
}

// PlannerConfig tunes the goal-directed planner's search.
type PlannerConfig struct {
	// DepthBudget is the maximum number of plan steps attempted before the
	// run fails with PlanningFailure.
	DepthBudget int
	// Mode is "user" (deterministic oracle) or "expert" (caller-supplied
	// oracle may be consulted at tie-break points).
	Mode string
}

// NodeExecConfig tunes subprocess invocation for the Node Executor.
type NodeExecConfig struct {
	DefaultTimeout time.Duration
	// ScriptRoots is read from the environment but not consulted: a relative
	// scriptPath is resolved only against its defining document's directory.
	ScriptRoots []string
	// EnvAllowlist is the set of host environment variable names forwarded
	// to every subprocess; all other variables are withheld, and an empty
	// list forwards none.
	EnvAllowlist []string
	// KillGrace is how long a cancelled or timed-out subprocess is given
	// to exit after SIGTERM before it is killed.
	KillGrace time.Duration
}

// RunBusConfig configures the optional Redis-backed provenance fan-out and
// cancellation broadcast.
type RunBusConfig struct {
	Enabled bool
	Addr    string
	Stream  string
}

// OracleConfig selects the expert-mode candidate oracle.
type OracleConfig struct {
	// Kind is "default" (deterministic) or "llm".
	Kind     string
	Provider string // "openai" | "anthropic", when Kind == "llm"
	Model    string
	APIKey   string
}

// HTTPConfig configures the optional read-only introspection server.
type HTTPConfig struct {
	// Addr is empty to disable the server entirely.
	Addr string
}

// OTelConfig configures the OTLP exporters.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Enabled reports whether an OTLP endpoint has been configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads configuration from the environment, with sensible defaults for
// local/dev use.
func Load() Config {
	return Config{
		Env: getEnv("KCE_ENV", "development"),
		HTTP: HTTPConfig{
			Addr: getEnv("KCE_HTTP_ADDR", ""),
		},
		Knowledge: KnowledgeConfig{
			Backend: getEnv("KCE_KG_BACKEND", "sqlite"),
			Path:    getEnv("KCE_KG_PATH", "./kce-data/kg.db"),
			Arango: ArangoConfig{
				Endpoint: getEnv("KCE_ARANGO_ENDPOINT", "http://localhost:8529"),
				User:     getEnv("KCE_ARANGO_USER", "root"),
				Password: getEnv("KCE_ARANGO_PASSWORD", ""),
				Database: getEnv("KCE_ARANGO_DATABASE", "kce"),
			},
		},
		Planner: PlannerConfig{
			DepthBudget: getEnvInt("KCE_PLANNER_DEPTH_BUDGET", 64),
			Mode:        getEnv("KCE_PLANNER_MODE", "user"),
		},
		NodeExec: NodeExecConfig{
			DefaultTimeout: getEnvDuration("KCE_NODEEXEC_TIMEOUT", 60*time.Second),
			ScriptRoots:    getEnvList("KCE_NODEEXEC_SCRIPT_ROOTS"),
			EnvAllowlist:   getEnvList("KCE_NODEEXEC_ENV_ALLOWLIST"),
			KillGrace:      getEnvDuration("KCE_NODEEXEC_KILL_GRACE", 5*time.Second),
		},
		RunBus: RunBusConfig{
			Enabled: getEnvBool("KCE_RUNBUS_ENABLED", false),
			Addr:    getEnv("KCE_RUNBUS_ADDR", "localhost:6379"),
			Stream:  getEnv("KCE_RUNBUS_STREAM", "kce:runs"),
		},
		Oracle: OracleConfig{
			Kind:     getEnv("KCE_ORACLE_KIND", "default"),
			Provider: getEnv("KCE_ORACLE_PROVIDER", "openai"),
			Model:    getEnv("KCE_ORACLE_MODEL", "gpt-4o-mini"),
			APIKey:   getEnv("KCE_ORACLE_API_KEY", ""),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "kce"),
			ServiceVersion: getEnv("KCE_VERSION", "dev"),
		},
	}
}

// IsProduction returns true if running in the production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
