package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/ratelimit"
)

// Config holds all orgimpact server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	BaseURL    string `json:"base_url"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	PoolSize   int    `json:"pool_size"`

	GeneratorURL     string   `json:"generator_url"`
	GeneratorTimeout Duration `json:"generator_timeout"`
	RunTimeout       Duration `json:"run_timeout"`

	RetryMax      int      `json:"retry_max"`
	RetryBackoff  string   `json:"retry_backoff"`
	RetryDelay    Duration `json:"retry_delay"`
	RetryMaxDelay Duration `json:"retry_max_delay"`

	BreakerThreshold int      `json:"breaker_threshold"`
	BreakerCooldown  Duration `json:"breaker_cooldown"`

	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateLimitBurst     int `json:"rate_limit_burst"`

	StaleRunAge   Duration `json:"stale_run_age"`
	ReapSpec      string   `json:"reap_spec"`
	SweepSpec     string   `json:"sweep_spec"`
	VacuumSpec    string   `json:"vacuum_spec"`
	LimiterIdle   Duration `json:"limiter_idle"`
	SchedulerTick Duration `json:"scheduler_tick"`

	MaxRolesPerNode int    `json:"max_roles_per_node"`
	DenseGrouping   bool   `json:"dense_grouping"`
	AutoCollapse    string `json:"auto_collapse"`
	CatalogPath     string `json:"catalog_path"`
}

// Duration is a time.Duration written as "90s" in settings.json.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func defaultConfig() Config {
	retry := engine.DefaultRetryPolicy()
	breaker := engine.DefaultCircuitBreakerConfig()
	limits := ratelimit.DefaultConfig()
	return Config{
		ListenAddr:         ":4200",
		DBPath:             filepath.Join(orgimpactDir(), "orgimpact.db"),
		LogLevel:           "info",
		LogFormat:          "json",
		PoolSize:           engine.DefaultPoolSize,
		GeneratorURL:       "http://localhost:4300/generate",
		GeneratorTimeout:   Duration(5 * time.Minute),
		RunTimeout:         Duration(engine.DefaultRunTimeout),
		RetryMax:           retry.Max,
		RetryBackoff:       retry.Backoff,
		RetryDelay:         Duration(retry.Delay),
		RetryMaxDelay:      Duration(retry.MaxDelay),
		BreakerThreshold:   breaker.FailureThreshold,
		BreakerCooldown:    Duration(breaker.Cooldown),
		RateLimitPerMinute: limits.PerMinute,
		RateLimitBurst:     limits.Burst,
		StaleRunAge:        Duration(30 * time.Minute),
		ReapSpec:           "*/5 * * * *",
		SweepSpec:          "*/10 * * * *",
		VacuumSpec:         "0 4 * * *",
		LimiterIdle:        Duration(15 * time.Minute),
		SchedulerTick:      Duration(time.Minute),
		MaxRolesPerNode:    2,
	}
}

func orgimpactDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orgimpact"
	}
	return filepath.Join(home, ".orgimpact")
}

func settingsPath() string {
	return filepath.Join(orgimpactDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(orgimpactDir(), "orgimpact.pid")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{"ORGIMPACT_LISTEN_ADDR", &cfg.ListenAddr},
		{"ORGIMPACT_BASE_URL", &cfg.BaseURL},
		{"ORGIMPACT_DB_PATH", &cfg.DBPath},
		{"ORGIMPACT_LOG_LEVEL", &cfg.LogLevel},
		{"ORGIMPACT_LOG_FORMAT", &cfg.LogFormat},
		{"ORGIMPACT_GENERATOR_URL", &cfg.GeneratorURL},
		{"ORGIMPACT_RETRY_BACKOFF", &cfg.RetryBackoff},
		{"ORGIMPACT_REAP_SPEC", &cfg.ReapSpec},
		{"ORGIMPACT_SWEEP_SPEC", &cfg.SweepSpec},
		{"ORGIMPACT_VACUUM_SPEC", &cfg.VacuumSpec},
		{"ORGIMPACT_AUTO_COLLAPSE", &cfg.AutoCollapse},
		{"ORGIMPACT_CATALOG_PATH", &cfg.CatalogPath},
	} {
		if s, ok := os.LookupEnv(v.name); ok {
			*v.dst = s
		}
	}
	for _, v := range []struct {
		name string
		dst  *int
	}{
		{"ORGIMPACT_POOL_SIZE", &cfg.PoolSize},
		{"ORGIMPACT_RETRY_MAX", &cfg.RetryMax},
		{"ORGIMPACT_BREAKER_THRESHOLD", &cfg.BreakerThreshold},
		{"ORGIMPACT_RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute},
		{"ORGIMPACT_RATE_LIMIT_BURST", &cfg.RateLimitBurst},
		{"ORGIMPACT_MAX_ROLES_PER_NODE", &cfg.MaxRolesPerNode},
	} {
		if s := os.Getenv(v.name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", v.name, err)
			}
			*v.dst = n
		}
	}
	for _, v := range []struct {
		name string
		dst  *Duration
	}{
		{"ORGIMPACT_GENERATOR_TIMEOUT", &cfg.GeneratorTimeout},
		{"ORGIMPACT_RUN_TIMEOUT", &cfg.RunTimeout},
		{"ORGIMPACT_RETRY_DELAY", &cfg.RetryDelay},
		{"ORGIMPACT_RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
		{"ORGIMPACT_BREAKER_COOLDOWN", &cfg.BreakerCooldown},
		{"ORGIMPACT_STALE_RUN_AGE", &cfg.StaleRunAge},
		{"ORGIMPACT_LIMITER_IDLE", &cfg.LimiterIdle},
		{"ORGIMPACT_SCHEDULER_TICK", &cfg.SchedulerTick},
	} {
		if s := os.Getenv(v.name); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", v.name, err)
			}
			*v.dst = Duration(d)
		}
	}
	if v := os.Getenv("ORGIMPACT_DENSE_GROUPING"); v != "" {
		cfg.DenseGrouping = v == "true" || v == "1"
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	return cfg, nil
}

func (c Config) retryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		Max:      c.RetryMax,
		Backoff:  c.RetryBackoff,
		Delay:    c.RetryDelay.D(),
		MaxDelay: c.RetryMaxDelay.D(),
	}
}

func (c Config) breakerConfig() engine.CircuitBreakerConfig {
	cb := engine.DefaultCircuitBreakerConfig()
	if c.BreakerThreshold > 0 {
		cb.FailureThreshold = c.BreakerThreshold
	}
	if c.BreakerCooldown > 0 {
		cb.Cooldown = c.BreakerCooldown.D()
	}
	return cb
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	PanelChanged    bool     // chart defaults or rate limits; the panel handler is rebuilt
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.MaxRolesPerNode != new.MaxRolesPerNode ||
		old.DenseGrouping != new.DenseGrouping ||
		old.AutoCollapse != new.AutoCollapse ||
		old.RateLimitPerMinute != new.RateLimitPerMinute ||
		old.RateLimitBurst != new.RateLimitBurst {
		d.PanelChanged = true
	}
	restart := []struct {
		name    string
		changed bool
	}{
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"base_url", old.BaseURL != new.BaseURL},
		{"db_path", old.DBPath != new.DBPath},
		{"log_format", old.LogFormat != new.LogFormat},
		{"pool_size", old.PoolSize != new.PoolSize},
		{"generator_url", old.GeneratorURL != new.GeneratorURL},
		{"generator_timeout", old.GeneratorTimeout != new.GeneratorTimeout},
		{"run_timeout", old.RunTimeout != new.RunTimeout},
		{"retry", old.retryPolicy() != new.retryPolicy()},
		{"circuit_breaker", old.breakerConfig() != new.breakerConfig()},
		{"maintenance_jobs", old.ReapSpec != new.ReapSpec || old.SweepSpec != new.SweepSpec ||
			old.VacuumSpec != new.VacuumSpec || old.StaleRunAge != new.StaleRunAge ||
			old.LimiterIdle != new.LimiterIdle || old.SchedulerTick != new.SchedulerTick},
		{"catalog_path", old.CatalogPath != new.CatalogPath},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartNeeded = append(d.RestartNeeded, r.name)
		}
	}
	return d
}
