package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/knadh/koanf/v2"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RATING_DATABASE_URL", "postgres://localhost/ratings")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.Port)
	}
	if cfg.RecomputeBatchSize != 512 {
		t.Errorf("expected RecomputeBatchSize=512, got %d", cfg.RecomputeBatchSize)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RATING_ENV", "dev")
	t.Setenv("RATING_PORT", "9090")
	t.Setenv("RATING_RECOMPUTE_BATCH_SIZE", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %q", cfg.Env)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected Port=9090, got %d", cfg.Port)
	}
	if cfg.RecomputeBatchSize != 250 {
		t.Errorf("expected RecomputeBatchSize=250, got %d", cfg.RecomputeBatchSize)
	}
}

func TestLoad_WhenKoanfLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error {
		return errors.New("mocked error")
	}
	defer func() { envLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatal("expected error when loading env, got nil")
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("RATING_ENV", "staging")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid RATING_ENV, got nil")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	setRequired(t)
	t.Setenv("RATING_PORT", "99999")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid RATING_PORT, got nil")
	}
}

func TestLoad_MissingRequiredDatabaseURL(t *testing.T) {
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when RATING_DATABASE_URL is unset, got nil")
	}
}

func TestLoad_SpecRecognizedKernelKeysAccepted(t *testing.T) {
	setRequired(t)
	t.Setenv("RATING_TAU", "0.3")
	t.Setenv("RATING_EPSILON", "1e-7")
	t.Setenv("RATING_RUN_DAY_OF_MONTH", "5")
	t.Setenv("RATING_STORE_RETRY_MAX", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error for spec-recognized keys: %v", err)
	}
	if cfg.Tau != 0.3 {
		t.Errorf("expected Tau=0.3, got %v", cfg.Tau)
	}
	if cfg.RunDayOfMonth != 5 {
		t.Errorf("expected RunDayOfMonth=5, got %d", cfg.RunDayOfMonth)
	}
	if cfg.StoreRetryMax != 3 {
		t.Errorf("expected StoreRetryMax=3, got %d", cfg.StoreRetryMax)
	}
}

func TestLoad_UnrecognizedKeyRejected(t *testing.T) {
	setRequired(t)
	t.Setenv("RATING_TYPO_FIELD", "oops")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "unrecognized config key") {
		t.Fatalf("expected unrecognized-key error, got %v", err)
	}
}
