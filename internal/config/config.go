package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"plangov/pkg/logging"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level plangov configuration.
type Config struct {
	// Region is the deployment region used to canonicalize stage
	// references.
	Region string `yaml:"region"`

	// StorePath is the sqlite database path for the governance store.
	StorePath string `yaml:"storePath"`

	Gateway    GatewayConfig    `yaml:"gateway"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Server     ServerConfig     `yaml:"server"`

	// WebhookURL, when set, receives governance events as JSON POSTs.
	WebhookURL string `yaml:"webhookUrl"`
}

// GatewayConfig selects and configures the live-state accessor.
type GatewayConfig struct {
	// Mode is "rest" for the HTTP admin API or "memory" for the
	// in-process gateway used by tests and local development.
	Mode string `yaml:"mode"`

	// Endpoint is the admin API base URL (rest mode).
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each admin API call.
	Timeout Duration `yaml:"timeout"`
}

// ReconcilerConfig tunes the convergence engine.
type ReconcilerConfig struct {
	// StrictMode deletes unmanaged live plans instead of only reporting.
	StrictMode bool `yaml:"strictMode"`

	// WorkerCount is the number of evaluation workers.
	WorkerCount int `yaml:"workerCount"`

	// MaxRetries bounds evaluation retries.
	MaxRetries int `yaml:"maxRetries"`

	// InitialBackoff is the first retry delay; doubled per attempt up to
	// MaxBackoff.
	InitialBackoff Duration `yaml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff"`

	// StageRetryDelay is the fixed delay between stage association
	// attempts.
	StageRetryDelay Duration `yaml:"stageRetryDelay"`

	// BatchParallelism bounds concurrent evaluations in evaluate-all.
	BatchParallelism int `yaml:"batchParallelism"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Region:    "us-east-1",
		StorePath: "plangov.db",
		Gateway: GatewayConfig{
			Mode:    "memory",
			Timeout: Duration(10 * time.Second),
		},
		Reconciler: ReconcilerConfig{
			WorkerCount:      2,
			MaxRetries:       5,
			InitialBackoff:   Duration(time.Second),
			MaxBackoff:       Duration(5 * time.Minute),
			StageRetryDelay:  Duration(2 * time.Second),
			BatchParallelism: 4,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads configuration from path, starting from defaults, and applies
// environment overrides last. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (Config, error) {
	// A local .env is developer convenience; absence is fine.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config file at %s, using defaults", path)
			applyEnv(&cfg)
			return cfg, cfg.validate()
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	logging.Info("Config", "Loaded configuration from %s", path)

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

// applyEnv overrides configuration from PLANGOV_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PLANGOV_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("PLANGOV_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("PLANGOV_GATEWAY_MODE"); v != "" {
		cfg.Gateway.Mode = v
	}
	if v := os.Getenv("PLANGOV_GATEWAY_ENDPOINT"); v != "" {
		cfg.Gateway.Endpoint = v
	}
	if v := os.Getenv("PLANGOV_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PLANGOV_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("PLANGOV_STRICT_MODE"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			cfg.Reconciler.StrictMode = strict
		}
	}
	if v := os.Getenv("PLANGOV_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reconciler.WorkerCount = n
		}
	}
}

func (c Config) validate() error {
	switch c.Gateway.Mode {
	case "rest":
		if c.Gateway.Endpoint == "" {
			return fmt.Errorf("gateway.endpoint is required in rest mode")
		}
	case "memory":
	default:
		return fmt.Errorf("gateway.mode %q is not one of rest, memory", c.Gateway.Mode)
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("storePath is required")
	}
	return nil
}
