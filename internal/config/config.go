// Package config loads the organism's external configuration surface
// from the environment, in the pattern of typed sub-structs and
// fallback-aware env helpers this lineage uses throughout.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the organism: scheduling, timeouts,
// meta-namespace policy, and the ambient telemetry surface.
type Config struct {
	Port                     int
	Version                  string
	Scheduling               string // "breadth-first" | "depth-first"
	HandlerTimeoutDefault    time.Duration
	ThreadTokenBudgetDefault int64
	FairnessWindow           int
	MaxConcurrentDispatch    int
	SchemaCacheDir           string
	MetaCORSOrigins          []string
	Meta                     MetaConfig
	Audit                    AuditConfig
	Telemetry                TelemetryConfig
}

// MetaConfig gates the meta-namespace introspection operations.
type MetaConfig struct {
	List    bool
	Schema  string // "none" | "authenticated" | "admin"
	Example string
	Prompt  string
}

// AuditConfig selects the pump's dispatch-decision audit sink.
type AuditConfig struct {
	DSN string // empty: no-op sink
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:                     envInt("ORGANISM_PORT", 8080),
		Version:                  envStr("ORGANISM_VERSION", "0.1.0"),
		Scheduling:               envStr("ORGANISM_SCHEDULING", "breadth-first"),
		HandlerTimeoutDefault:    envDuration("ORGANISM_HANDLER_TIMEOUT", 30*time.Second),
		ThreadTokenBudgetDefault: envInt64("ORGANISM_THREAD_TOKEN_BUDGET", 100000),
		FairnessWindow:           envInt("ORGANISM_FAIRNESS_WINDOW", 1),
		MaxConcurrentDispatch:    envInt("ORGANISM_MAX_CONCURRENT_DISPATCH", 16),
		SchemaCacheDir:           envStr("ORGANISM_SCHEMA_CACHE_DIR", "schemas"),
		MetaCORSOrigins:          envStringSlice("ORGANISM_META_CORS_ORIGINS", []string{"*"}),
		Meta: MetaConfig{
			List:    envBool("ORGANISM_META_LIST", true),
			Schema:  envStr("ORGANISM_META_SCHEMA", "authenticated"),
			Example: envStr("ORGANISM_META_EXAMPLE", "authenticated"),
			Prompt:  envStr("ORGANISM_META_PROMPT", "authenticated"),
		},
		Audit: AuditConfig{
			DSN: envStr("ORGANISM_AUDIT_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "xml-pipeline-organism"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
