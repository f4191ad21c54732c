package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatstore/pkg/config"
	"chatstore/pkg/logger"
	"chatstore/pkg/outbound/blobs"
	"chatstore/pkg/outbound/notify"
	"chatstore/pkg/state"
)

// Deps holds the outbound services the sweep needs. Nil fields fall
// back to no-ops.
type Deps struct {
	Blobs  blobs.Deleter
	Notify notify.Dispatcher
}

var (
	storedEff  *config.EffectiveConfigResult
	storedDeps Deps
)

// SetEffectiveConfig stores the effective config so admin triggers and
// tests can invoke retention runs on-demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// SetDeps registers the outbound services used by sweeps.
func SetDeps(d Deps) {
	storedDeps = d
}

func deps() Deps {
	d := storedDeps
	if d.Blobs == nil {
		d.Blobs = blobs.NopDeleter{}
	}
	if d.Notify == nil {
		d.Notify = notify.NopDispatcher{}
	}
	return d
}

// RunImmediate triggers a single retention run using the stored effective
// config. Returns an error if no effective config was registered.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for retention run")
	}
	if state.PathsVar.Retention == "" {
		return fmt.Errorf("state paths not initialized")
	}
	return runOnce(context.Background(), *storedEff, state.PathsVar.Retention)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	// if retention is not enabled, return no-op cancel
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.PathsVar.Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	// a fixed period takes precedence over cron when set
	if ret.Period != "" {
		period, err := time.ParseDuration(ret.Period)
		if err != nil {
			logger.Error("retention_invalid_period", "period", ret.Period)
			return nil, fmt.Errorf("invalid retention period: %s", ret.Period)
		}
		if min := minPeriod(ret.MinPeriod); period < min {
			period = min
		}
		logger.Info("retention_enabled", "period", period.String(), "path", retentionPath)
		ctx2, cancel := context.WithCancel(ctx)
		go runPeriodic(ctx2, eff, retentionPath, period)
		return cancel, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, retentionPath, cronExpr)
	logger.Info("retention_scheduler_started", "path", retentionPath)
	return cancel, nil
}

func minPeriod(s string) time.Duration {
	if s == "" {
		return time.Minute
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// runPeriodic triggers sweeps on a fixed interval.
func runPeriodic(ctx context.Context, eff config.EffectiveConfigResult, retentionPath string, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		case <-t.C:
			if err := runOnce(ctx, eff, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		}
	}
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time. This yields sharper scheduling and
// supports full cron syntax.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, retentionPath string, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, eff, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// acquireLock creates an exclusive lockfile so overlapping sweeps
// (scheduler tick racing an admin trigger) do not double-prune.
func acquireLock(retentionPath string) (func(), error) {
	lock := filepath.Join(retentionPath, "sweep.lock")
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("retention sweep already running: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { _ = os.Remove(lock) }, nil
}
