// Package config loads the runtime's configuration from environment
// variables, following the cmd/main.go convention this service was built
// on: getEnv/getEnvInt helpers with explicit defaults, no config file
// parsing and no flags library. Configuration file loading is an external
// collaborator's concern, not the substrate's.
package config

import (
	"os"
	"strconv"
)

// Config holds every environment-driven setting the substrate reads.
// None of these are mutated at runtime by the components that consume
// them; rotation hooks (updateTokenSecret, updateSigningKey) change
// in-memory state, not this struct.
type Config struct {
	BindHost string
	BindPort string

	TLSCertFile       string
	TLSKeyFile        string
	AgentCACertFile   string
	RequireClientCert bool

	TokenSigningSecret string
	AdminPasswordHash  string
	AuditSigningKey    string

	RedisURL string

	CORSOrigins []string

	MaxConcurrentTasks   int
	DefaultTaskTimeoutMs int
	MaxTaskTimeoutMs     int

	RBACSeedFile      string
	RateLimitRulesFile string

	LogLevel  string
	LogPretty bool
}

// Load reads Config from the process environment, applying the same
// defaults cmd/main.go documents for its own settings.
func Load() *Config {
	return &Config{
		BindHost: getEnv("BIND_HOST", "127.0.0.1"),
		BindPort: getEnv("BIND_PORT", "8443"),

		TLSCertFile:       os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:        os.Getenv("TLS_KEY_FILE"),
		AgentCACertFile:   os.Getenv("AGENT_CA_CERT_FILE"),
		RequireClientCert: getEnv("REQUIRE_CLIENT_CERT", "false") == "true",

		TokenSigningSecret: getEnv("TOKEN_SIGNING_SECRET", ""),
		AdminPasswordHash:  getEnv("ADMIN_PASSWORD_HASH", ""),
		AuditSigningKey:    getEnv("AUDIT_SIGNING_KEY", ""),

		RedisURL: os.Getenv("REDIS_URL"),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "")),

		MaxConcurrentTasks:   getEnvInt("MAX_CONCURRENT_TASKS", 10),
		DefaultTaskTimeoutMs: getEnvInt("DEFAULT_TASK_TIMEOUT_MS", 30_000),
		MaxTaskTimeoutMs:     getEnvInt("MAX_TASK_TIMEOUT_MS", 300_000),

		RBACSeedFile:       os.Getenv("RBAC_SEED_FILE"),
		RateLimitRulesFile: os.Getenv("RATE_LIMIT_RULES_FILE"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
