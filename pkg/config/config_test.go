package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LEDGER_LISTEN_ADDR", "LEDGER_METRICS_ADDR", "LEDGER_LOG_LEVEL",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"DATABASE_MAX_IDLE_TIME", "DATABASE_MAX_LIFETIME",
		"LEDGER_SIGNER_BACKEND", "LEDGER_SIGNER_ID", "LEDGER_RSA_KEY_PATH",
		"LEDGER_BLS_KEY_PATH", "LEDGER_DESCRIPTOR_DIR", "LEDGER_VERIFY_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr default = %q", cfg.ListenAddr)
	}
	if cfg.SignerBackend != "rsa" {
		t.Errorf("SignerBackend default = %q", cfg.SignerBackend)
	}
	if cfg.DatabaseMaxConns != 25 {
		t.Errorf("DatabaseMaxConns default = %d", cfg.DatabaseMaxConns)
	}
	if cfg.VerifyConcurrency != 4 {
		t.Errorf("VerifyConcurrency default = %d", cfg.VerifyConcurrency)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/auditor")
	t.Setenv("DATABASE_MAX_CONNS", "7")
	t.Setenv("LEDGER_SIGNER_BACKEND", "bls")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/auditor" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.DatabaseMaxConns != 7 {
		t.Errorf("DatabaseMaxConns = %d", cfg.DatabaseMaxConns)
	}
	if cfg.SignerBackend != "bls" {
		t.Errorf("SignerBackend = %q", cfg.SignerBackend)
	}
}

func TestLoadIgnoresUnparseableInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_MAX_CONNS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseMaxConns != 25 {
		t.Errorf("expected fallback to default 25, got %d", cfg.DatabaseMaxConns)
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{SignerBackend: "rsa", RSAKeyPath: "/tmp/key.pem"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing DatabaseURL")
	}
}

func TestValidateRejectsDisabledTLS(t *testing.T) {
	cfg := &Config{
		DatabaseURL:    "postgres://localhost/auditor?sslmode=disable",
		SignerBackend:  "rsa",
		RSAKeyPath:     "/tmp/key.pem",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sslmode=disable")
	}
}

func TestValidateRequiresSignerKeyForBackend(t *testing.T) {
	cases := []struct {
		name string
		cfg  *Config
	}{
		{"rsa without key", &Config{DatabaseURL: "postgres://x", SignerBackend: "rsa"}},
		{"bls without key", &Config{DatabaseURL: "postgres://x", SignerBackend: "bls"}},
		{"unknown backend", &Config{DatabaseURL: "postgres://x", SignerBackend: "quantum"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidatePassesWithCompleteConfig(t *testing.T) {
	cfg := &Config{
		DatabaseURL:   "postgres://localhost/auditor?sslmode=require",
		SignerBackend: "rsa",
		RSAKeyPath:    "/tmp/key.pem",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateForDevelopmentOnlyChecksDatabaseURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://localhost/auditor?sslmode=disable"}
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Fatalf("expected relaxed validation to pass, got %v", err)
	}

	empty := &Config{}
	if err := empty.ValidateForDevelopment(); err == nil {
		t.Fatal("expected error for missing DatabaseURL")
	}
}
