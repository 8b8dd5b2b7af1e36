package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"audimeta/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the config file read when no path is given.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                  string   `yaml:"port"`
	LogLevel              string   `yaml:"logLevel"`
	DatabaseURL           string   `yaml:"databaseURL"`
	RedisAddr             string   `yaml:"redisAddr"`
	RedisPassword         string   `yaml:"redisPassword"`
	DefaultRegion         string   `yaml:"defaultRegion"`
	SortKeys              bool     `yaml:"sortKeys"`
	CacheTTL              string   `yaml:"cacheTTL"`
	SchedulerEnabled      bool     `yaml:"schedulerEnabled"`
	SchedulerConcurrency  int      `yaml:"schedulerConcurrency"`
	SchedulerMaxPerRegion int      `yaml:"schedulerMaxPerRegion"`
	UseParallelScheduler  bool     `yaml:"useParallelScheduler"`
	SchedulerInterval     string   `yaml:"schedulerInterval"`
	SchedulerRunOnStart   bool     `yaml:"schedulerRunOnStart"`
	StaleAfter            string   `yaml:"staleAfter"`
	MetricsEnabled        bool     `yaml:"metricsEnabled"`
	UpstreamRatePerSecond float64  `yaml:"upstreamRatePerSecond"`
	UpstreamMaxRetries    int      `yaml:"upstreamMaxRetries"`
	UpstreamTimeout       string   `yaml:"upstreamTimeout"`
	UpstreamUserAgent     string   `yaml:"upstreamUserAgent"`
	RateLimitPerMinute    int      `yaml:"rateLimitPerMinute"`
	TrustedProxyCIDRs     []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "us"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DEFAULT_REGION"); v != "" {
		cfg.DefaultRegion = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SCHEDULER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SchedulerConcurrency = n
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_PER_REGION"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SchedulerMaxPerRegion = n
		}
	}
	if v := os.Getenv("USE_PARALLEL_SCHEDULER"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.UseParallelScheduler = b
		}
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SchedulerEnabled = b
		}
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MetricsEnabled = b
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if _, ok := domain.LookupRegion(cfg.DefaultRegion); !ok {
		return fmt.Errorf("config: defaultRegion %q is not a known region", cfg.DefaultRegion)
	}
	if cfg.SchedulerConcurrency < 0 || cfg.SchedulerMaxPerRegion < 0 {
		return errors.New("config: scheduler concurrency limits must be >= 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.UpstreamRatePerSecond < 0 || cfg.UpstreamMaxRetries < 0 {
		return errors.New("config: upstream rate and retries must be >= 0")
	}
	for name, value := range map[string]string{
		"cacheTTL":          cfg.CacheTTL,
		"schedulerInterval": cfg.SchedulerInterval,
		"staleAfter":        cfg.StaleAfter,
		"upstreamTimeout":   cfg.UpstreamTimeout,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration field. Empty means zero, which
// callers treat as "use the default". A trailing "d" is read as days.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid %s duration %q", name, value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil || dur < 0 {
		return 0, fmt.Errorf("invalid %s duration %q", name, value)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
