// Package config loads the typed, validated process configuration,
// grounded on
// _examples/haukened-rr-dns/internal/dns/infra/config/config.go: koanf
// v2 with a structs-provider default layer and an env/v2 provider
// layer, validated with go-playground/validator/v10.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"tourneyrating/server/domain"
)

// Config holds every environment-tunable setting for the process,
// including the spec.md §6 "recognized options" for the Glicko-2
// kernel and Recomputer that previously only existed as hard-coded
// domain defaults.
type Config struct {
	Env      string `koanf:"env" validate:"required,oneof=dev prod"`
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`
	Port     int    `koanf:"port" validate:"required,gte=1,lt=65535"`

	DatabaseURL string `koanf:"database_url" validate:"required"`
	RedisAddr   string `koanf:"redis_addr" validate:"required"`

	SchedulerRunHour       int           `koanf:"scheduler_run_hour" validate:"gte=0,lte=23"`
	SchedulerCheckInterval time.Duration `koanf:"scheduler_check_interval" validate:"required"`
	RunDayOfMonth          int           `koanf:"run_day_of_month" validate:"gte=1,lte=28"`
	RecomputeBatchSize     int           `koanf:"recompute_batch_size" validate:"required,gte=1"`
	LockTTL                time.Duration `koanf:"lock_ttl" validate:"required"`

	StoreEpsilon     float64       `koanf:"store_epsilon" validate:"required,gt=0"`
	StoreTimeout     time.Duration `koanf:"store_timeout" validate:"required"`
	StoreRetryMax    int           `koanf:"store_retry_max" validate:"required,gte=1"`
	StoreRetryBaseMS int           `koanf:"store_retry_base_ms" validate:"required,gte=1"`
	AutoMigrate      bool          `koanf:"auto_migrate"`

	DefaultRating float64 `koanf:"default_rating" validate:"required,gt=0"`
	DefaultRD     float64 `koanf:"default_rd" validate:"required,gt=0"`
	DefaultVol    float64 `koanf:"default_vol" validate:"required,gt=0"`
	Tau           float64 `koanf:"tau" validate:"required,gt=0"`
	Epsilon       float64 `koanf:"epsilon" validate:"required,gt=0"`

	RDMin     float64 `koanf:"rd_min" validate:"required,gt=0"`
	RDMax     float64 `koanf:"rd_max" validate:"required,gt=0"`
	RatingMin float64 `koanf:"rating_min" validate:"required,gt=0"`
	RatingMax float64 `koanf:"rating_max" validate:"required,gt=0"`
	SigmaMin  float64 `koanf:"sigma_min" validate:"required,gt=0"`
	SigmaMax  float64 `koanf:"sigma_max" validate:"required,gt=0"`
}

// Params converts the kernel-related fields into a domain.Params,
// replacing the hard-coded domain.DefaultParams() call the bootstrap
// used before these became configurable (spec.md §6).
func (c Config) Params() domain.Params {
	return domain.Params{
		DefaultRating: c.DefaultRating,
		DefaultRD:     c.DefaultRD,
		DefaultVol:    c.DefaultVol,
		Tau:           c.Tau,
		Epsilon:       c.Epsilon,
		RDMin:         c.RDMin,
		RDMax:         c.RDMax,
		RatingMin:     c.RatingMin,
		RatingMax:     c.RatingMax,
		SigmaMin:      c.SigmaMin,
		SigmaMax:      c.SigmaMax,
	}
}

// Prefix is the environment variable prefix every setting is read under,
// e.g. RATING_DATABASE_URL.
const Prefix = "RATING_"

func defaults() Config {
	dp := domain.DefaultParams()
	return Config{
		Env:                    "prod",
		LogLevel:               "info",
		Port:                   8080,
		RedisAddr:              "localhost:6379",
		SchedulerRunHour:       2,
		SchedulerCheckInterval: time.Hour,
		RunDayOfMonth:          1,
		RecomputeBatchSize:     512,
		LockTTL:                30 * time.Minute,
		StoreEpsilon:           1e-6,
		StoreTimeout:           30 * time.Second,
		StoreRetryMax:          5,
		StoreRetryBaseMS:       200,
		DefaultRating:          dp.DefaultRating,
		DefaultRD:              dp.DefaultRD,
		DefaultVol:             dp.DefaultVol,
		Tau:                    dp.Tau,
		Epsilon:                dp.Epsilon,
		RDMin:                  dp.RDMin,
		RDMax:                  dp.RDMax,
		RatingMin:              dp.RatingMin,
		RatingMax:              dp.RatingMax,
		SigmaMin:               dp.SigmaMin,
		SigmaMax:               dp.SigmaMax,
	}
}

// envLoader loads RATING_-prefixed environment variables into k,
// lower-cased and stripped of their prefix. Swappable in tests the same
// way the teacher's config package does it.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: Prefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, Prefix)), value
		},
	}), nil)
}

// Load reads Config from RATING_-prefixed environment variables layered
// over defaults, rejects any recognized-prefix key that isn't a known
// field, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	if err := rejectUnknownKeys(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// rejectUnknownKeys fails loudly on a RATING_FOO env var with no matching
// struct field, rather than silently ignoring a typo'd setting.
func rejectUnknownKeys(k *koanf.Koanf) error {
	known := knownKoanfTags(Config{})
	for _, key := range k.Keys() {
		if !known[key] {
			return fmt.Errorf("unrecognized config key %q (env var %s%s)", key, Prefix, strings.ToUpper(key))
		}
	}
	return nil
}

func knownKoanfTags(v any) map[string]bool {
	tags := make(map[string]bool)
	t := reflect.TypeOf(v)
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" {
			tags[tag] = true
		}
	}
	return tags
}
