package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Store backends for environment records.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Port               int      `mapstructure:"port"`
	GRPCPort           int      `mapstructure:"grpc_port"` // 0 = gRPC health server disabled
	LogLevel           string   `mapstructure:"log_level"`
	LogFormat          string   `mapstructure:"log_format"` // text or json
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"` // HTTP read/write
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`

	MaxRequestBodyBytes int64   `mapstructure:"max_request_body_bytes"`
	MaxInfraBodyBytes   int64   `mapstructure:"max_infra_body_bytes"` // /api/infrastructure/ bodies
	APIRateLimitPerSec  float64 `mapstructure:"api_rate_limit_per_sec"`
	APIRateLimitBurst   int     `mapstructure:"api_rate_limit_burst"`

	KubeconfigPath     string  `mapstructure:"kubeconfig_path"`
	KubeContext        string  `mapstructure:"kube_context"`
	K8sTimeoutSec      int     `mapstructure:"k8s_timeout_sec"`        // Timeout for outbound K8s API calls
	K8sRateLimitPerSec float64 `mapstructure:"k8s_rate_limit_per_sec"` // 0 = no limit
	K8sRateLimitBurst  int     `mapstructure:"k8s_rate_limit_burst"`

	StoreBackend  string `mapstructure:"store_backend"`
	DatabasePath  string `mapstructure:"database_path"` // sqlite
	DatabaseURL   string `mapstructure:"database_url"`  // postgres DSN
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	ServiceNamespace             string `mapstructure:"service_namespace"`               // namespace of bare service ids
	EnvironmentReaperIntervalSec int    `mapstructure:"environment_reaper_interval_sec"` // 0 = reaper off

	TerraformBinary        string `mapstructure:"terraform_binary"`
	TerraformWorkspaceBase string `mapstructure:"terraform_workspace_base"`
	TerraformTimeoutSec    int    `mapstructure:"terraform_timeout_sec"`
	TerraformMinVersion    string `mapstructure:"terraform_min_version"`

	MetricsCacheTTLSec int `mapstructure:"metrics_cache_ttl_sec"` // 0 = cache disabled

	TracingEnabled      bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint     string  `mapstructure:"tracing_endpoint"`
	TracingProtocol     string  `mapstructure:"tracing_protocol"` // grpc or http
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`
}

// Load reads config.yaml from /etc/devportal/, $HOME/.devportal or the working directory, then
// DEVPORTAL_* environment variables. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/devportal/")
	v.AddConfigPath("$HOME/.devportal")
	v.AddConfigPath(".")

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("DEVPORTAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("request_timeout_sec", 15)
	v.SetDefault("shutdown_timeout_sec", 10)

	v.SetDefault("max_request_body_bytes", 512*1024)
	v.SetDefault("max_infra_body_bytes", 5*1024*1024)
	v.SetDefault("api_rate_limit_per_sec", 1.0)
	v.SetDefault("api_rate_limit_burst", 60)

	v.SetDefault("kubeconfig_path", "")
	v.SetDefault("kube_context", "")
	v.SetDefault("k8s_timeout_sec", 15)
	v.SetDefault("k8s_rate_limit_per_sec", 0)
	v.SetDefault("k8s_rate_limit_burst", 0)

	v.SetDefault("store_backend", StoreMemory)
	v.SetDefault("database_path", "./devportal.db")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("service_namespace", "default")
	v.SetDefault("environment_reaper_interval_sec", 0)

	v.SetDefault("terraform_binary", "terraform")
	v.SetDefault("terraform_workspace_base", filepath.Join(os.TempDir(), "terraform-workspaces"))
	v.SetDefault("terraform_timeout_sec", 300)
	v.SetDefault("terraform_min_version", "1.0.0")

	v.SetDefault("metrics_cache_ttl_sec", 30)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4317")
	v.SetDefault("tracing_protocol", "grpc")
	v.SetDefault("tracing_sampling_rate", 1.0)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port %d out of range 0-65535", c.GRPCPort))
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.Port {
		errs = append(errs, fmt.Errorf("grpc_port and port are both %d", c.Port))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for the postgres store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q (memory, sqlite, postgres, redis)", c.StoreBackend))
	}
	if c.EnvironmentReaperIntervalSec < 0 {
		errs = append(errs, errors.New("environment_reaper_interval_sec must not be negative"))
	}
	if c.MetricsCacheTTLSec < 0 {
		errs = append(errs, errors.New("metrics_cache_ttl_sec must not be negative"))
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing_sampling_rate %v must be within 0-1", c.TracingSamplingRate))
	}
	return errors.Join(errs...)
}
