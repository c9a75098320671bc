// Package config loads process configuration from environment
// variables: a plain struct and an explicit Load with per-field
// defaults, no configuration framework.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the environment-derived settings for the core (§6).
type Config struct {
	TrustStorePath string
	PolicyDir      string
	AuditLogPath   string
	ModelPublicKeyPath string

	MaxEntities         int
	EntityTTLSeconds    int
	MaxSignalsPerEntity int

	RateLimitWindowSeconds int
	GlobalRateLimit        int
	ProducerRateLimit      int

	ReplayCacheRedisAddr string

	DecisionLogDSN  string
	DecisionLogPath string

	AuditArchiveS3Bucket string

	BoundaryJWTSigningKeyPath string

	OTelExporterOTLPEndpoint string
	OTelServiceName          string

	ClockToleranceSeconds       int
	ReplayDedupeWindowSeconds   int
	ReplayExpiryWindowSeconds   int
	AdmissionBudgetMS           int

	IngestionListenAddr string
	DispatcherListenAddr string
	ServerCertPath       string
	ServerKeyPath        string
	ClientCertPath       string
	ClientKeyPath        string

	DispatcherBindingPath string
	PlaybookIDs           []string

	SchemaDir string

	DetectionThreshold float64
}

// Load reads Config from the environment. It returns an error only
// for a required variable that is unset or a numeric variable that
// fails to parse — every optional variable has a documented default.
func Load() (*Config, error) {
	var errs []error
	req := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
		return v
	}
	optInt := func(name string, def int) int {
		v := os.Getenv(name)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return def
		}
		return n
	}
	optStr := func(name, def string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	}
	optFloat := func(name string, def float64) float64 {
		v := os.Getenv(name)
		if v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return def
		}
		return f
	}
	csv := func(name string) []string {
		v := os.Getenv(name)
		if v == "" {
			return nil
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

	cfg := &Config{
		TrustStorePath: req("TRUST_STORE_PATH"),
		PolicyDir:      req("POLICY_DIR"),
		AuditLogPath:   req("AUDIT_LOG_PATH"),

		ModelPublicKeyPath: os.Getenv("MODEL_PUBLIC_KEY_PATH"),

		MaxEntities:         optInt("MAX_ENTITIES", 100000),
		EntityTTLSeconds:    optInt("ENTITY_TTL_SECONDS", 3600),
		MaxSignalsPerEntity: optInt("MAX_SIGNALS_PER_ENTITY", 256),

		RateLimitWindowSeconds: optInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		GlobalRateLimit:        optInt("GLOBAL_RATE_LIMIT", 10000),
		ProducerRateLimit:      optInt("PRODUCER_RATE_LIMIT", 500),

		ReplayCacheRedisAddr: os.Getenv("REPLAY_CACHE_REDIS_ADDR"),

		DecisionLogDSN:  os.Getenv("DECISION_LOG_DSN"),
		DecisionLogPath: optStr("DECISION_LOG_PATH", "./decisions.db"),

		AuditArchiveS3Bucket: os.Getenv("AUDIT_ARCHIVE_S3_BUCKET"),

		BoundaryJWTSigningKeyPath: os.Getenv("BOUNDARY_JWT_SIGNING_KEY_PATH"),

		OTelExporterOTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelServiceName:          optStr("OTEL_SERVICE_NAME", "ransomeye-core"),

		ClockToleranceSeconds:     optInt("CLOCK_TOLERANCE_SECONDS", 5),
		ReplayDedupeWindowSeconds: optInt("REPLAY_DEDUPE_WINDOW_SECONDS", 30),
		ReplayExpiryWindowSeconds: optInt("REPLAY_EXPIRY_WINDOW_SECONDS", 300),
		AdmissionBudgetMS:         optInt("ADMISSION_BUDGET_MS", 200),

		IngestionListenAddr:  optStr("INGESTION_LISTEN_ADDR", ":8443"),
		DispatcherListenAddr: optStr("DISPATCHER_LISTEN_ADDR", ":8444"),
		ServerCertPath:       os.Getenv("SERVER_CERT_PATH"),
		ServerKeyPath:        os.Getenv("SERVER_KEY_PATH"),
		ClientCertPath:       os.Getenv("CLIENT_CERT_PATH"),
		ClientKeyPath:        os.Getenv("CLIENT_KEY_PATH"),

		DispatcherBindingPath: os.Getenv("DISPATCHER_BINDING_PATH"),
		PlaybookIDs:           csv("PLAYBOOK_IDS"),

		SchemaDir: os.Getenv("SCHEMA_DIR"),

		DetectionThreshold: optFloat("DETECTION_THRESHOLD", 0.75),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %v", errs)
	}
	return cfg, nil
}
