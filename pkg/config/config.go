// Package config assembles the coordinator's configuration from defaults, an
// optional YAML file, and finally the environment variables of spec.md §6 —
// env always wins, mirroring how the teacher framework let PROMETHEUS_URL
// override whatever the config file said.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the coordinator's full runtime configuration tree.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Store      StoreConfig      `yaml:"store"`
	Database   DatabaseConfig   `yaml:"database"`
	Regions    []RegionConfig   `yaml:"regions"`
	Routing    RoutingConfig    `yaml:"routing"`
	Tracing    TracingConfig    `yaml:"tracing"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServiceConfig identifies this process for logs, spans, and metrics.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ListenAddr  string `yaml:"listen_addr"`
}

// StoreConfig configures the shared key-value store backing the rate
// limiter (and the coordinator's store health check).
type StoreConfig struct {
	RedisURL  string `yaml:"redis_url"`
	FailClosed bool  `yaml:"fail_closed"`
}

// DatabaseConfig configures the replica router's connection URLs.
type DatabaseConfig struct {
	PrimaryURL   string   `yaml:"primary_url"`
	ReplicaURLs  []string `yaml:"replica_urls"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// RegionConfig is the JSON-decodable shape of one REGIONS entry.
type RegionConfig struct {
	Code             string   `yaml:"code" mapstructure:"code"`
	Name             string   `yaml:"name" mapstructure:"name"`
	Latitude         float64  `yaml:"latitude" mapstructure:"latitude"`
	Longitude        float64  `yaml:"longitude" mapstructure:"longitude"`
	Endpoints        []string `yaml:"endpoints" mapstructure:"endpoints"`
	CapacityRPS      float64  `yaml:"capacity_rps" mapstructure:"capacity_rps"`
	CostPerMillion   float64  `yaml:"cost_per_million" mapstructure:"cost_per_million"`
	Active           bool     `yaml:"active" mapstructure:"active"`
}

// RoutingConfig selects and tunes the global load balancer.
type RoutingConfig struct {
	Policy           string        `yaml:"policy"`
	HealthCheckPath  string        `yaml:"health_check_path"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	HealthTimeout    time.Duration `yaml:"health_timeout"`
	DNSTTL           time.Duration `yaml:"dns_ttl"`
	RoutingCacheSize int           `yaml:"routing_cache_size"`
}

// TracingConfig controls the adaptive sampler and OTLP export.
type TracingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	JaegerEndpoint   string  `yaml:"jaeger_endpoint"`
	SamplingRate     float64 `yaml:"sampling_rate"`
	ErrorSampleRate  float64 `yaml:"error_sample_rate"`
	HighLatencySampleRate float64 `yaml:"high_latency_sample_rate"`
	HighLatencyThreshold  time.Duration `yaml:"high_latency_threshold"`
}

// RateLimitConfig tunes the default caller bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CacheConfig tunes the edge cache tiers.
type CacheConfig struct {
	EdgeCapacity     int           `yaml:"edge_capacity"`
	RegionalBytes    int           `yaml:"regional_bytes"`
	OriginPath       string        `yaml:"origin_path"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	CompressMinBytes int           `yaml:"compress_min_bytes"`
}

// BreakerConfig tunes default circuit breaker thresholds for newly created
// named breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureRate      float64       `yaml:"failure_rate"`
	Window           int           `yaml:"window"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MaxJitter        time.Duration `yaml:"max_jitter"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// GeoIPConfig points at the offline GeoIP database used for geoproximity
// routing.
type GeoIPConfig struct {
	DBPath string `yaml:"db_path"`
}

// AdminConfig gates the mutating observability endpoints.
type AdminConfig struct {
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns the baseline configuration new deployments start
// from, mirroring the teacher's DefaultConfig shape.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "edgemesh-coordinator",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
			ListenAddr:  ":8080",
		},
		Store: StoreConfig{
			RedisURL:   "",
			FailClosed: false,
		},
		Database: DatabaseConfig{
			ProbeInterval: 5 * time.Second,
		},
		Routing: RoutingConfig{
			Policy:           "geoproximity",
			HealthCheckPath:  "/health",
			HealthInterval:   10 * time.Second,
			HealthTimeout:    5 * time.Second,
			DNSTTL:           60 * time.Second,
			RoutingCacheSize: 10000,
		},
		Tracing: TracingConfig{
			Enabled:               false,
			SamplingRate:          0.01,
			ErrorSampleRate:       1.0,
			HighLatencySampleRate: 0.5,
			HighLatencyThreshold:  500 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Cache: CacheConfig{
			EdgeCapacity:     10000,
			RegionalBytes:    64 * 1024 * 1024,
			OriginPath:       "./data/origin-cache",
			DefaultTTL:       60 * time.Second,
			CompressMinBytes: 1024,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureRate:      0.5,
			Window:           10,
			SuccessThreshold: 2,
			ResetTimeout:     2 * time.Second,
			MaxJitter:        500 * time.Millisecond,
			CallTimeout:      2 * time.Second,
		},
	}
}

// Load starts from defaults, optionally overlays a YAML file (with shell-style
// env expansion applied first, exactly as the teacher's Load does for
// PROMETHEUS_URL), then applies the spec's named environment variables last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			expanded := []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		cfg.Service.Name = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Service.Environment = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("DATABASE_PRIMARY_URL"); v != "" {
		cfg.Database.PrimaryURL = v
	}
	if v := os.Getenv("DATABASE_REPLICA_URLS"); v != "" {
		cfg.Database.ReplicaURLs = splitCSV(v)
	}
	if v := os.Getenv("REGIONS"); v != "" {
		regions, err := decodeRegions(v)
		if err != nil {
			return fmt.Errorf("REGIONS: %w", err)
		}
		cfg.Regions = regions
	}
	if v := os.Getenv("ROUTING_POLICY"); v != "" {
		cfg.Routing.Policy = v
	}
	if v := os.Getenv("ENABLE_TRACING"); v != "" {
		cfg.Tracing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Tracing.JaegerEndpoint = v
	}
	if v := os.Getenv("SAMPLING_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SAMPLING_RATE: %w", err)
		}
		cfg.Tracing.SamplingRate = rate
	}
	if v := os.Getenv("GEOIP_DB_PATH"); v != "" {
		cfg.GeoIP.DBPath = v
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeRegions parses REGIONS as a loosely-typed JSON array (numbers may
// arrive as float64 or string, booleans as bool or "true") and decodes it
// into []RegionConfig via mapstructure, matching the teacher's preference
// for permissive, defaulted config assembly over strict JSON struct tags.
func decodeRegions(raw string) ([]RegionConfig, error) {
	var generic []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	decoderCfg := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
	}
	var regions []RegionConfig
	decoderCfg.Result = &regions
	decoder, err := mapstructure.NewDecoder(decoderCfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	for i := range regions {
		if regions[i].Active == false && generic[i]["active"] == nil {
			regions[i].Active = true
		}
	}
	return regions, nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is internally consistent enough to
// start the coordinator; a failure here is a startup config-invalid error
// (exit code 1 per spec.md §6).
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1")
	}
	if c.Breaker.Window < c.Breaker.FailureThreshold {
		return fmt.Errorf("breaker.window must be >= breaker.failure_threshold")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1")
	}
	switch strings.ToUpper(c.Routing.Policy) {
	case "GEOPROXIMITY", "LATENCY", "WEIGHTED", "COST", "FAILOVER", "MULTIVALUE":
	default:
		return fmt.Errorf("routing.policy %q is not a recognized policy", c.Routing.Policy)
	}
	return nil
}
