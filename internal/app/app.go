// Package app assembles the agent: store, migration, upstream client,
// sync service, outbox, bridge, sensor, scheduler, and the local HTTP
// API, with one lifecycle owning them all.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"autosync/internal/refresh"
	"autosync/pkg/auth"
	"autosync/pkg/bridge"
	"autosync/pkg/cache"
	"autosync/pkg/client"
	"autosync/pkg/config"
	"autosync/pkg/logger"
	"autosync/pkg/migrate"
	"autosync/pkg/models"
	"autosync/pkg/normalize"
	"autosync/pkg/notify"
	"autosync/pkg/outbox"
	"autosync/pkg/security"
	"autosync/pkg/sensor"
	"autosync/pkg/state"
	"autosync/pkg/store"
	"autosync/pkg/syncer"
	"autosync/pkg/telemetry"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	session auth.Session
	kv      store.KV
	pebble  *store.Pebble
	mirror  *cache.Mirror
	center  *notify.Center
	cli     *client.Client
	svc     *syncer.Service
	ob      *outbox.Outbox
	br      *bridge.Bridge
	sen     *sensor.Sensor

	srv           *http.Server
	opsClose      func(context.Context) error
	refreshCancel context.CancelFunc
	schemaOK      bool
}

// New builds everything that needs no running context: validates
// config, resolves the session, opens and migrates the store, and
// constructs the component graph. Call Run to start the moving parts.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")
	cfg := eff.Config

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "" {
		logger.InitWithLevel(cfg.Logging.Level)
	}

	// cache encryption key, file wins over embedded hex
	switch {
	case cfg.Security.CacheKeyFile != "":
		if err := security.SetKeyFile(cfg.Security.CacheKeyFile); err != nil {
			return nil, fmt.Errorf("cache key: %w", err)
		}
	case cfg.Security.CacheKeyHex != "":
		if err := security.SetKeyHex(cfg.Security.CacheKeyHex); err != nil {
			return nil, fmt.Errorf("cache key: %w", err)
		}
	}

	session, err := auth.ResolveSession(cfg.Session, cfg.Upstream.Token)
	if err != nil {
		return nil, err
	}

	runtimeCfg := &config.RuntimeConfig{
		DashboardKeys: map[string]struct{}{},
		AdminKeys:     map[string]struct{}{},
		SigningKeys:   map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Dashboard {
		runtimeCfg.DashboardKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		runtimeCfg.AdminKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, session: session}

	// store: durable pebble under the data dir, or memory when ephemeral
	if cfg.Cache.Ephemeral {
		a.kv = store.NewMemory()
		logger.Info("cache_ephemeral")
	} else {
		if err := state.EnsureStateDirs(eff.DataDir); err != nil {
			return nil, fmt.Errorf("state dirs: %w", err)
		}
		telemetry.SetDir(state.TelemetryPath(eff.DataDir))
		if err := logger.AttachActivityFileSink(state.ActivityPath(eff.DataDir)); err != nil {
			logger.Warn("activity_sink_unavailable", "error", err)
		}
		p, err := store.OpenPebble(state.CachePath(eff.DataDir))
		if err != nil {
			return nil, fmt.Errorf("open cache at %s: %w", state.CachePath(eff.DataDir), err)
		}
		a.pebble = p
		a.kv = p
	}

	prefix := cfg.Cache.Prefix
	if prefix == "" {
		prefix = cache.DefaultPrefix
	}
	usersKey := cfg.Cache.UsersKey
	if usersKey == "" {
		usersKey = cache.DefaultUsersKey
	}
	if _, err := migrate.Run(context.Background(), a.kv, prefix, usersKey); err != nil {
		_ = a.kv.Close()
		return nil, fmt.Errorf("cache migration: %w", err)
	}
	a.schemaOK = true

	a.mirror = cache.New(a.kv,
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithUsersKey(cfg.Cache.UsersKey),
		cache.WithMaxValueSize(cfg.Cache.MaxValueSize.Int64()),
	)
	a.center = notify.NewCenter(cfg.Notify.Max)
	a.cli = client.New(client.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		Token:      cfg.Upstream.Token,
		Timeout:    cfg.Upstream.Timeout.Duration(),
		HealthPath: cfg.Upstream.HealthPath,
		RateRPS:    cfg.Upstream.RateRPS,
		RateBurst:  cfg.Upstream.RateBurst,
	})

	a.ob = outbox.New(a.kv, outbox.Config{
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		BackoffBase:   cfg.Outbox.BackoffBase.Duration(),
		BackoffCap:    cfg.Outbox.BackoffCap.Duration(),
		QueueCapacity: cfg.Outbox.QueueCapacity,
	}, a.resendEntry)

	profile, err := loadProfile(cfg.Session.ProfileFile)
	if err != nil {
		logger.Warn("profile_file_unreadable", "path", cfg.Session.ProfileFile, "error", err)
	}
	a.svc = syncer.New(syncer.Config{
		Session: syncer.Session{
			Admin:  session.IsAdmin(),
			UserID: session.UserID,
			Name:   session.Name,
			Email:  session.Email,
		},
		FanoutConcurrency: cfg.Sync.FanoutConcurrency,
		Profile:           profile,
	}, a.cli, a.mirror, a.ob, a.center)

	a.ob.OnConfirmed(func(e outbox.Entry, confirmed, autoReply *models.Message) {
		a.svc.ConfirmPending(e.ConversationID, e.ID, confirmed, autoReply)
	})
	a.ob.OnExhausted(func(e outbox.Entry, cause string) {
		a.center.Add(models.NotifSystem, "Message not delivered",
			fmt.Sprintf("A queued message could not be delivered after %d attempts.", e.Attempts))
	})

	if cfg.Bridge.Enabled && cfg.Bridge.URL != "" {
		group := bridge.UserGroup(session.UserID)
		if session.IsAdmin() {
			group = bridge.AdminGroup
		}
		a.br = bridge.New(bridge.Config{
			URL:              cfg.Bridge.URL,
			Token:            cfg.Upstream.Token,
			Origin:           cfg.Bridge.Origin,
			Group:            group,
			HandshakeTimeout: cfg.Bridge.HandshakeTimeout.Duration(),
			PingInterval:     cfg.Bridge.PingInterval.Duration(),
			ReconnectMin:     cfg.Bridge.ReconnectMin.Duration(),
			ReconnectMax:     cfg.Bridge.ReconnectMax.Duration(),
		})
	}

	if cfg.Upstream.BaseURL != "" {
		a.sen = sensor.New(sensor.Config{}, a.cli)
	}
	return a, nil
}

// resendEntry is the outbox's delivery attempt. Rejections are
// permanent; everything else is retried.
func (a *App) resendEntry(ctx context.Context, e outbox.Entry) (*models.Message, *models.Message, error) {
	confirmed, autoReply, err := a.cli.Send(ctx, e.Text, e.RecipientID)
	if err != nil {
		if errors.Is(err, client.ErrRejected) {
			return nil, nil, fmt.Errorf("%w: %v", outbox.ErrPermanent, err)
		}
		return nil, nil, err
	}
	if confirmed == nil {
		return nil, nil, errors.New("upstream confirmed without a message payload")
	}
	return confirmed, autoReply, nil
}

// Run starts the moving parts and blocks until ctx is cancelled or the
// HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.ob.Start(); err != nil {
		return err
	}

	if a.br != nil {
		a.br.Subscribe(bridge.EvMessageReceived, a.svc.OnMessageReceived)
		for _, ev := range bridge.Events() {
			ev := ev
			a.br.Subscribe(ev, func(payload map[string]any) {
				a.center.FromEvent(ev, payload)
			})
		}
		a.br.OnTransition(func(connected bool) {
			if connected {
				a.ob.Kick()
			}
		})
		a.br.Start()
	}

	if a.sen != nil {
		a.sen.OnTransition(func(online bool) {
			if online {
				a.ob.Kick()
				a.svc.RefreshMessages(context.Background())
			}
		})
		a.sen.Start()
	}

	cancel, err := refresh.Start(ctx, a.eff.Config.Refresh, func(ctx context.Context) {
		a.svc.RefreshMessages(ctx)
		a.ob.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	a.refreshCancel = cancel

	// initial load; failures degrade internally, never abort startup
	go a.svc.LoadConversations(ctx)

	a.printBanner()
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.shutdown()
		return err
	}
}

// shutdown tears components down in reverse dependency order: stop
// producing events, stop accepting requests, then close the store.
func (a *App) shutdown() {
	if a.br != nil {
		a.br.Stop()
	}
	if a.refreshCancel != nil {
		a.refreshCancel()
	}
	if a.sen != nil {
		a.sen.Stop()
	}
	a.ob.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.srv != nil {
		_ = a.srv.Shutdown(sctx)
	}
	if a.opsClose != nil {
		_ = a.opsClose(sctx)
	}
	if err := a.kv.Close(); err != nil {
		logger.Error("cache_close_failed", "error", err)
	}
	security.ClearKey()
	logger.Info("agent_stopped")
}

// loadProfile reads the login-profile messages file: either a bare
// JSON array of raw messages or an object with a "messages" array.
func loadProfile(path string) ([]models.Message, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && len(wrapped.Messages) > 0 {
		return normalize.Messages(wrapped.Messages), nil
	}
	var raws []map[string]any
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, fmt.Errorf("profile file is neither an object with messages nor an array: %w", err)
	}
	return normalize.Messages(raws), nil
}
