package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// initCmd writes settings.json from flags layered over the current settings,
// then asks a running server to reload.
func initCmd(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "public base URL")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "concurrent report runs")
	fs.StringVar(&cfg.GeneratorURL, "generator-url", cfg.GeneratorURL, "report generator endpoint")
	fs.IntVar(&cfg.RateLimitPerMinute, "rate-limit", cfg.RateLimitPerMinute, "report requests per client per minute (0 disables)")
	fs.IntVar(&cfg.MaxRolesPerNode, "max-roles", cfg.MaxRolesPerNode, "default inline roles per node")
	fs.BoolVar(&cfg.DenseGrouping, "dense", cfg.DenseGrouping, "dense role grouping by default")
	fs.StringVar(&cfg.AutoCollapse, "auto-collapse", cfg.AutoCollapse, "default CEL auto-collapse rule, e.g. node.headcount < 5")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "role catalog JSON (default: built-in)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(orgimpactDir(), 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", orgimpactDir(), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Printf("Config written to %s\n", path)

	if pid, ok := signalRunningServer(); ok {
		fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	}
	return nil
}

// signalRunningServer sends SIGHUP to a running orgimpact server (via pidfile).
func signalRunningServer() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}
