package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/hostgate/pkg/retry"
	"github.com/openfroyo/hostgate/pkg/telemetry"
)

// Config is the complete hostgate configuration.
type Config struct {
	Resource  ResourceConfig   `yaml:"resource"`
	Store     StoreConfig      `yaml:"store"`
	Retry     RetryConfig      `yaml:"retry"`
	Health    HealthConfig     `yaml:"health"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ResourceConfig identifies the single controlled resource.
type ResourceConfig struct {
	// ID is the only resource commands may be sent to.
	ID string `yaml:"id" validate:"required"`

	// Provider selects the control API implementation.
	Provider string `yaml:"provider" validate:"required,oneof=ec2"`

	// Region is the cloud region of the resource.
	Region string `yaml:"region" validate:"required"`

	// SettleDelay is waited after each dispatched command.
	SettleDelay time.Duration `yaml:"settle_delay" validate:"gte=0"`
}

// StoreConfig configures the lease and audit database.
type StoreConfig struct {
	Path        string        `yaml:"path" validate:"required"`
	LeaseTTL    time.Duration `yaml:"lease_ttl" validate:"gt=0"`
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

// RetryConfig configures the retry policy for remote and store calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1,max=10"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

// Policy converts the configuration into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = r.MaxAttempts
	p.InitialDelay = r.InitialDelay
	p.MaxDelay = r.MaxDelay
	return p
}

// HealthConfig configures the application readiness probe. An empty URL
// disables it.
type HealthConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,http_url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
}

// Enabled reports whether a readiness probe is configured.
func (h HealthConfig) Enabled() bool {
	return h.URL != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Resource: ResourceConfig{
			Provider:    "ec2",
			SettleDelay: 3 * time.Second,
		},
		Store: StoreConfig{
			Path:        "hostgate.db",
			LeaseTTL:    5 * time.Minute,
			BusyTimeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: policy.InitialDelay,
			MaxDelay:     policy.MaxDelay,
		},
		Health: HealthConfig{
			Timeout:      5 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// LookupFunc returns the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HOSTGATE_RESOURCE_ID", &cfg.Resource.ID)
	if cfg.Resource.Region == "" {
		str("AWS_REGION", &cfg.Resource.Region)
	}
	str("HOSTGATE_REGION", &cfg.Resource.Region)
	str("HOSTGATE_DB_PATH", &cfg.Store.Path)
	str("HOSTGATE_HEALTH_URL", &cfg.Health.URL)
	str("HOSTGATE_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	str("HOSTGATE_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	str("HOSTGATE_METRICS_ADDR", &cfg.Telemetry.Metrics.ListenAddress)

	if err := dur("HOSTGATE_SETTLE_DELAY", &cfg.Resource.SettleDelay); err != nil {
		return err
	}
	if err := dur("HOSTGATE_LEASE_TTL", &cfg.Store.LeaseTTL); err != nil {
		return err
	}

	if v, ok := lookup("HOSTGATE_RETRY_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HOSTGATE_RETRY_MAX_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and the telemetry configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// Namespace is "Config.resource.id"; drop the root type.
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "http_url":
		return field + " must be an http(s) URL"
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}
