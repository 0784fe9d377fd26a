// Package refresh drives the periodic full reload and outbox sweep on
// a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"autosync/pkg/config"
	"autosync/pkg/logger"
	"autosync/pkg/metrics"
)

// DefaultCron reloads every ten minutes.
const DefaultCron = "*/10 * * * *"

// Runner is one refresh cycle: reload conversations, then sweep the
// outbox.
type Runner func(ctx context.Context)

var (
	runnerMu     sync.RWMutex
	storedRunner Runner
)

// SetRunner stores the runner so operator triggers and tests can invoke
// a cycle on demand.
func SetRunner(r Runner) {
	runnerMu.Lock()
	storedRunner = r
	runnerMu.Unlock()
}

// RunImmediate triggers a single refresh cycle using the stored runner.
func RunImmediate(ctx context.Context) error {
	runnerMu.RLock()
	r := storedRunner
	runnerMu.RUnlock()
	if r == nil {
		return fmt.Errorf("no refresh runner registered")
	}
	metrics.RefreshRuns.Inc()
	r(ctx)
	return nil
}

// Start launches the scheduler when enabled. The cron expression is
// validated up front so a typo fails startup instead of silently never
// firing. Returns a cancel func that stops the loop.
func Start(ctx context.Context, rc config.RefreshConfig, run Runner) (context.CancelFunc, error) {
	SetRunner(run)

	if !rc.Enabled {
		logger.Info("refresh_disabled")
		return func() {}, nil
	}

	cronExpr := rc.Cron
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("refresh_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid refresh cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go loop(ctx2, cronExpr, run)
	logger.Info("refresh_enabled", "cron", cronExpr)
	return cancel, nil
}

// loop sleeps until each next cron tick. gronx computes the next tick
// so full cron syntax works without a minute-poll.
func loop(ctx context.Context, cronExpr string, run Runner) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		default:
		}

		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("refresh_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
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
			metrics.RefreshRuns.Inc()
			logger.Debug("refresh_tick", "cron", cronExpr)
			run(ctx)
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		}
	}
}
