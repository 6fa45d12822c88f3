// Package config loads the auditor's runtime configuration from environment
// variables. There is no config file format; every setting has an explicit
// env var and, where safe, a development-friendly default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the ledger auditor service.
type Config struct {
	// Server configuration
	ListenAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Signer configuration (C10)
	SignerBackend  string // "rsa" or "bls"
	SignerID       string
	RSAKeyPath     string // PEM-encoded PKCS#1 or PKCS#8 private key
	BLSKeyPath     string // gnark-crypto BLS12-381 scalar, hex-encoded

	// Table descriptor configuration (C9/C5)
	DescriptorDir string // directory of *.yaml table descriptors

	// Verification configuration (C8)
	VerifyConcurrency int // goroutines used by StreamEntries-driven scans
}

// Load reads configuration from environment variables. Required variables
// have no defaults; callers should follow with Validate() before using the
// config against a production database, or ValidateForDevelopment() in
// local/test contexts.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("LEDGER_LISTEN_ADDR", "0.0.0.0:8080"),
		MetricsAddr: getEnv("LEDGER_METRICS_ADDR", "0.0.0.0:9090"),
		LogLevel:    getEnv("LEDGER_LOG_LEVEL", "info"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		SignerBackend: getEnv("LEDGER_SIGNER_BACKEND", "rsa"),
		SignerID:      getEnv("LEDGER_SIGNER_ID", "signer-default"),
		RSAKeyPath:    getEnv("LEDGER_RSA_KEY_PATH", ""),
		BLSKeyPath:    getEnv("LEDGER_BLS_KEY_PATH", ""),

		DescriptorDir: getEnv("LEDGER_DESCRIPTOR_DIR", "./descriptors"),

		VerifyConcurrency: getEnvInt("LEDGER_VERIFY_CONCURRENCY", 4),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present for production
// use. Call this after Load() before starting the service against a real
// database.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		errs = append(errs, "DATABASE_URL must not disable TLS (sslmode=disable) in production")
	}

	switch c.SignerBackend {
	case "rsa":
		if c.RSAKeyPath == "" {
			errs = append(errs, "LEDGER_RSA_KEY_PATH is required when LEDGER_SIGNER_BACKEND=rsa")
		}
	case "bls":
		if c.BLSKeyPath == "" {
			errs = append(errs, "LEDGER_BLS_KEY_PATH is required when LEDGER_SIGNER_BACKEND=bls")
		}
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_SIGNER_BACKEND must be \"rsa\" or \"bls\", got %q", c.SignerBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development and tests. It does not check TLS posture or require a signer
// key to already exist on disk.
func (c *Config) ValidateForDevelopment() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("development configuration validation failed: DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

