// Package config loads throttle policies and store settings from YAML.
//
// Example file:
//
//	namespace: throttle
//	lock_mode: extend      # or "fixed"
//	fail_open: false
//	store:
//	  driver: redis        # or "memory"
//	  redis:
//	    url: localhost:6379
//	policies:
//	  login:
//	    - limit: 5
//	      period: 1m
//	      lock_for: 15m
//	    - limit: 20
//	      period: 1h
//
// Environment variables BRAKEPEDAL_NAMESPACE and BRAKEPEDAL_STORE_DRIVER
// override the file. BRAKEPEDAL_REDIS_URL, BRAKEPEDAL_REDIS_PASSWORD and
// BRAKEPEDAL_REDIS_DB do too, but only when the store driver is redis.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/brakepedal"
	"github.com/nhalm/brakepedal/store"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	LockModeExtend = "extend"
	LockModeFixed  = "fixed"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
	return v
}

// Config is the top-level configuration.
type Config struct {
	Namespace string                     `yaml:"namespace"`
	LockMode  string                     `yaml:"lock_mode" validate:"omitempty,oneof=extend fixed"`
	FailOpen  bool                       `yaml:"fail_open"`
	Store     StoreConfig                `yaml:"store"`
	Policies  map[string][]LimiterConfig `yaml:"policies" validate:"required,dive,min=1,dive"`
}

// StoreConfig selects and configures the Counter Store.
type StoreConfig struct {
	Driver string             `yaml:"driver" validate:"oneof=memory redis"`
	Redis  *store.RedisConfig `yaml:"redis" validate:"required_if=Driver redis"`
}

// LimiterConfig is the YAML form of a brakepedal.Limiter.
type LimiterConfig struct {
	Name    string        `yaml:"name"`
	Limit   int64         `yaml:"limit" validate:"gte=1"`
	Period  time.Duration `yaml:"period" validate:"gte=1s"`
	LockFor time.Duration `yaml:"lock_for" validate:"omitempty,gte=1s"`
}

// Limiter converts the configuration into a validated Limiter.
func (lc LimiterConfig) Limiter() (brakepedal.Limiter, error) {
	var opts []brakepedal.LimiterOption
	if lc.LockFor != 0 {
		opts = append(opts, brakepedal.LockFor(lc.LockFor))
	}
	if lc.Name != "" {
		opts = append(opts, brakepedal.Named(lc.Name))
	}
	return brakepedal.NewLimiter(lc.Limit, lc.Period, opts...)
}

// Load reads the YAML file at path, applies defaults and environment overrides,
// and validates the result, including every policy's limiters.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Namespace == "" {
		cfg.Namespace = brakepedal.DefaultNamespace
	}
	if cfg.LockMode == "" {
		cfg.LockMode = LockModeExtend
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}
}

// Validate checks struct constraints and that every policy builds valid limiters.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, err := cfg.Limiters(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("BRAKEPEDAL_NAMESPACE"); val != "" {
		cfg.Namespace = val
	}
	if val := os.Getenv("BRAKEPEDAL_STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}

	// Redis variables left over in the environment must not break a memory store.
	if cfg.Store.Driver != DriverRedis {
		return nil
	}

	redisEnv := map[string]func(*store.RedisConfig, string) error{
		"BRAKEPEDAL_REDIS_URL": func(rc *store.RedisConfig, v string) error {
			rc.URL = v
			return nil
		},
		"BRAKEPEDAL_REDIS_PASSWORD": func(rc *store.RedisConfig, v string) error {
			rc.Password = v
			return nil
		},
		"BRAKEPEDAL_REDIS_DB": func(rc *store.RedisConfig, v string) error {
			db, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid BRAKEPEDAL_REDIS_DB: %w", err)
			}
			rc.DB = db
			return nil
		},
	}
	for name, apply := range redisEnv {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		if cfg.Store.Redis == nil {
			cfg.Store.Redis = &store.RedisConfig{}
		}
		if err := apply(cfg.Store.Redis, val); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %q: %w", file, err)
		}
	}
	return nil
}

// Limiters builds the limiters of every policy, keyed by policy name.
func (c *Config) Limiters() (map[string][]brakepedal.Limiter, error) {
	out := make(map[string][]brakepedal.Limiter, len(c.Policies))
	for name, lcs := range c.Policies {
		limiters := make([]brakepedal.Limiter, 0, len(lcs))
		for i, lc := range lcs {
			l, err := lc.Limiter()
			if err != nil {
				return nil, fmt.Errorf("policy %q limiter %d: %w", name, i, err)
			}
			limiters = append(limiters, l)
		}
		out[name] = limiters
	}
	return out, nil
}

// OpenStore constructs the configured Counter Store. The caller must Close it.
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Redis == nil {
			return nil, fmt.Errorf("store driver %q requires a redis section", DriverRedis)
		}
		st, err := store.NewRedis(*c.Store.Redis)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory, "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// RepositoryOptions returns the Repository options implied by the configuration.
func (c *Config) RepositoryOptions() []brakepedal.RepositoryOption {
	return []brakepedal.RepositoryOption{brakepedal.WithNamespace(c.Namespace)}
}

// EvaluatorOptions returns the Evaluator options implied by the configuration.
func (c *Config) EvaluatorOptions() []brakepedal.EvaluatorOption {
	mode := brakepedal.LockExtend
	if c.LockMode == LockModeFixed {
		mode = brakepedal.LockFixed
	}
	return []brakepedal.EvaluatorOption{brakepedal.WithLockMode(mode)}
}
