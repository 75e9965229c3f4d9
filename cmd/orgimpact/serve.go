package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/logging"
	"github.com/rendis/orgimpact/internal/panel"
	"github.com/rendis/orgimpact/internal/ratelimit"
	"github.com/rendis/orgimpact/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "TCP listen address (overrides settings)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

// sharedLimiter lets the sweep job follow the limiter the panel currently uses.
type sharedLimiter struct {
	p atomic.Pointer[ratelimit.Limiter]
}

func (s *sharedLimiter) Sweep(idle time.Duration) int {
	return s.p.Load().Sweep(idle)
}

// serve runs the panel, the scheduler and the SIGHUP reloader until ctx ends.
func (a *app) serve(ctx context.Context) error {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	engines := panelEngines{
		expr: expressions.NewExprEngine(),
		jq:   expressions.NewGoJQEngine(),
		cel:  cel,
	}

	limiter := &sharedLimiter{}
	limiter.p.Store(newLimiter(a.cfg))

	sched := scheduler.NewScheduler(a.cfg.SchedulerTick.D(), a.logger)
	for _, job := range []scheduler.Job{
		scheduler.ReapJob(a.cfg.ReapSpec, a.executor, a.cfg.StaleRunAge.D(), a.logger),
		scheduler.SweepJob(a.cfg.SweepSpec, limiter, a.cfg.LimiterIdle.D(), a.logger),
		scheduler.VacuumJob(a.cfg.VacuumSpec, a.store),
	} {
		if err := sched.Register(job); err != nil {
			return err
		}
	}

	health := panel.Health{
		Pool:      a.executor.Metrics,
		Breaker:   a.executor.Breaker,
		Scheduler: sched.Status,
	}
	h, err := a.buildPanel(a.cfg, engines, limiter.p.Load(), health)
	if err != nil {
		return err
	}
	swapper := newHandlerSwapper(h)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if err := writePIDFile(); err != nil {
		a.logger.Warn("pid file not written", "error", err)
	}
	defer os.Remove(pidPath())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("panel listening", "addr", a.cfg.ListenAddr, "base_url", a.cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("panel: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		a.reloadOnHangup(gctx, func(next Config) error {
			l := newLimiter(next)
			h, err := a.buildPanel(next, engines, l, health)
			if err != nil {
				return err
			}
			limiter.p.Store(l)
			swapper.Swap(h)
			return nil
		})
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.close(shutdownCtx)
		return err
	})

	err = g.Wait()
	a.logger.Info("orgimpact stopped")
	return err
}

type panelEngines struct {
	expr *expressions.ExprEngine
	jq   *expressions.GoJQEngine
	cel  *expressions.CELEngine
}

func newLimiter(cfg Config) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{PerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst})
}

func (a *app) buildPanel(cfg Config, e panelEngines, limiter *ratelimit.Limiter, health panel.Health) (http.Handler, error) {
	ps, err := panel.NewPanelServer(panel.PanelDeps{
		Store:   a.store,
		Runner:  a.executor,
		Hub:     a.hub,
		Limiter: limiter,
		Expr:    e.expr,
		JQ:      e.jq,
		CEL:     e.cel,
		Charts: panel.ChartDefaults{
			MaxRolesPerNode: cfg.MaxRolesPerNode,
			DenseGrouping:   cfg.DenseGrouping,
			AutoCollapse:    cfg.AutoCollapse,
		},
		Health: health,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	return ps.Handler(), nil
}

// reloadOnHangup re-reads the configuration on SIGHUP. The log level and the
// panel settings apply at once; anything else is reported as needing a restart.
func (a *app) reloadOnHangup(ctx context.Context, rebuildPanel func(Config) error) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := loadConfig()
		if err != nil {
			a.logger.Error("config reload failed", "error", err)
			continue
		}
		d := diffConfigs(a.cfg, next)

		if d.LogLevelChanged {
			lvl, err := logging.ParseLevel(next.LogLevel)
			if err != nil {
				a.logger.Error("config reload: bad log level", "error", err)
				next.LogLevel = a.cfg.LogLevel
			} else {
				a.level.Set(lvl)
			}
		}
		if d.PanelChanged {
			if err := rebuildPanel(next); err != nil {
				a.logger.Error("config reload: panel rebuild failed", "error", err)
				continue
			}
		}
		if len(d.RestartNeeded) > 0 {
			a.logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
		}
		a.cfg = mergeReloaded(a.cfg, next)
		a.logger.Info("configuration reloaded",
			"log_level", a.cfg.LogLevel,
			"panel_rebuilt", d.PanelChanged,
		)
	}
}

// mergeReloaded keeps restart-only fields from cur and takes the rest from next.
func mergeReloaded(cur, next Config) Config {
	out := cur
	out.LogLevel = next.LogLevel
	out.MaxRolesPerNode = next.MaxRolesPerNode
	out.DenseGrouping = next.DenseGrouping
	out.AutoCollapse = next.AutoCollapse
	out.RateLimitPerMinute = next.RateLimitPerMinute
	out.RateLimitBurst = next.RateLimitBurst
	return out
}

func writePIDFile() error {
	if err := os.MkdirAll(orgimpactDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
