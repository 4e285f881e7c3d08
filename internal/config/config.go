// Package config loads service configuration from an optional YAML file with
// COLLECT_* environment overrides. Environment values always win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yashp387/DigitalDump-sub001/internal/evidence"
	"github.com/yashp387/DigitalDump-sub001/internal/observability"
)

type Config struct {
	Port     string                      `yaml:"port"`
	Store    StoreConfig                 `yaml:"store"`
	Pickup   PickupConfig                `yaml:"pickup"`
	Route    RouteConfig                 `yaml:"route"`
	Evidence evidence.Config             `yaml:"evidence"`
	Auth     AuthConfig                  `yaml:"auth"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

type StoreConfig struct {
	Kind          string `yaml:"kind"`
	PostgresDSN   string `yaml:"-"`
	SQLitePath    string `yaml:"sqlite_path"`
	MongoURI      string `yaml:"-"`
	MongoDatabase string `yaml:"mongo_database"`
}

type PickupConfig struct {
	MaxServiceRadiusKm     float64 `yaml:"max_service_radius_km"`
	CandidateLimit         int     `yaml:"candidate_limit"`
	CreatesPerMinute       int     `yaml:"creates_per_minute"`
	GlobalCreatesPerMinute int     `yaml:"global_creates_per_minute"`
	PolicyFile             string  `yaml:"policy_file"`
}

type RouteConfig struct {
	MapboxBaseURL string        `yaml:"mapbox_base_url"`
	MapboxToken   string        `yaml:"-"`
	Profile       string        `yaml:"profile"`
	Timeout       time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// Tokens is "token=role:actorID,..."; only read from the environment.
	Tokens string `yaml:"-"`
}

func Default() Config {
	return Config{
		Port: "8080",
		Store: StoreConfig{
			Kind:          "memory",
			SQLitePath:    "collect.db",
			MongoDatabase: "digitaldump",
		},
		Pickup: PickupConfig{
			MaxServiceRadiusKm:     100,
			CandidateLimit:         50,
			CreatesPerMinute:       10,
			GlobalCreatesPerMinute: 1000,
		},
		Route: RouteConfig{
			MapboxBaseURL: "https://api.mapbox.com",
			Profile:       "driving",
			Timeout:       10 * time.Second,
		},
		Evidence: evidence.Config{
			Backend: "local",
			Bucket:  "collect-evidence",
		},
		Tracing: observability.TracingConfig{Insecure: true, SampleRatio: 1},
	}
}

// Load reads path when it is non-empty, then applies environment overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	applyEnvOverrides(&c, NewLoader("COLLECT"))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FromEnv loads the file named by COLLECT_CONFIG_FILE, if any.
func FromEnv() (Config, error) {
	return Load(os.Getenv("COLLECT_CONFIG_FILE"))
}

func applyEnvOverrides(c *Config, l Loader) {
	c.Port = l.String("PORT", c.Port)

	c.Store.Kind = strings.ToLower(l.String("STORE", c.Store.Kind))
	c.Store.PostgresDSN = l.String("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.SQLitePath = l.String("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.MongoURI = l.String("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = l.String("MONGO_DATABASE", c.Store.MongoDatabase)

	c.Pickup.MaxServiceRadiusKm = l.Float("SERVICE_RADIUS_KM", c.Pickup.MaxServiceRadiusKm)
	c.Pickup.CandidateLimit = l.Int("CANDIDATE_LIMIT", c.Pickup.CandidateLimit)
	c.Pickup.CreatesPerMinute = l.Int("CREATES_PER_MINUTE", c.Pickup.CreatesPerMinute)
	c.Pickup.GlobalCreatesPerMinute = l.Int("GLOBAL_CREATES_PER_MINUTE", c.Pickup.GlobalCreatesPerMinute)
	c.Pickup.PolicyFile = l.String("POLICY_FILE", c.Pickup.PolicyFile)

	c.Route.MapboxBaseURL = l.String("MAPBOX_BASE_URL", c.Route.MapboxBaseURL)
	c.Route.MapboxToken = l.String("MAPBOX_TOKEN", c.Route.MapboxToken)
	c.Route.Profile = l.String("ROUTE_PROFILE", c.Route.Profile)
	c.Route.Timeout = l.Duration("ROUTE_TIMEOUT", c.Route.Timeout)

	c.Evidence.Backend = l.String("EVIDENCE_BACKEND", c.Evidence.Backend)
	c.Evidence.LocalDir = l.String("EVIDENCE_DIR", c.Evidence.LocalDir)
	c.Evidence.Endpoint = l.String("MINIO_ENDPOINT", c.Evidence.Endpoint)
	c.Evidence.AccessKey = l.String("MINIO_ACCESS_KEY", c.Evidence.AccessKey)
	c.Evidence.SecretKey = l.String("MINIO_SECRET_KEY", c.Evidence.SecretKey)
	c.Evidence.Bucket = l.String("MINIO_BUCKET", c.Evidence.Bucket)
	c.Evidence.UseSSL = l.Bool("MINIO_USE_SSL", c.Evidence.UseSSL)

	c.Auth.Tokens = l.String("API_TOKENS", c.Auth.Tokens)

	c.Tracing.Exporter = l.String("OTEL_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = l.String("OTEL_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = l.Bool("OTEL_INSECURE", c.Tracing.Insecure)
	c.Tracing.Sampler = l.String("OTEL_SAMPLER", c.Tracing.Sampler)
	c.Tracing.SampleRatio = l.Float("OTEL_SAMPLER_RATIO", c.Tracing.SampleRatio)
	c.Tracing.Environment = l.String("ENVIRONMENT", c.Tracing.Environment)
	if h := observability.TracingConfigFromEnv().Headers; len(h) > 0 {
		c.Tracing.Headers = h
	}
}

func (c Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("COLLECT_POSTGRES_DSN is required when COLLECT_STORE=postgres")
		}
	case "mongo", "mongodb":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("COLLECT_MONGO_URI is required when COLLECT_STORE=mongo")
		}
	default:
		return fmt.Errorf("unsupported COLLECT_STORE value %q", c.Store.Kind)
	}
	if c.Pickup.MaxServiceRadiusKm <= 0 {
		return fmt.Errorf("service radius must be positive, got %v", c.Pickup.MaxServiceRadiusKm)
	}
	if c.Route.Timeout <= 0 {
		return fmt.Errorf("route timeout must be positive, got %s", c.Route.Timeout)
	}
	return nil
}
