package app

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/adhocore/gronx"

	"autosync/pkg/config"
)

// validateConfig fail-fast checks the effective configuration before
// any long-running component starts. Checks stay light so callers can
// surface friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	cfg := eff.Config

	if !cfg.Cache.Ephemeral && strings.TrimSpace(eff.DataDir) == "" {
		return fmt.Errorf("data directory is empty: set --data, AUTOSYNC_DATA_DIR, or server.data_dir")
	}

	if u := cfg.Upstream.BaseURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid upstream.base_url: %q", u)
		}
	}

	if cfg.Bridge.Enabled {
		u := cfg.Bridge.URL
		if u == "" {
			return fmt.Errorf("bridge.enabled is set but bridge.url is empty")
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			return fmt.Errorf("bridge.url must be a ws:// or wss:// URL: %q", u)
		}
	}

	if r := cfg.Session.Role; r != "" && r != "user" && r != "admin" {
		return fmt.Errorf("session.role must be \"user\" or \"admin\", got %q", r)
	}

	if cfg.Refresh.Enabled && cfg.Refresh.Cron != "" {
		if !gronx.IsValid(cfg.Refresh.Cron) {
			return fmt.Errorf("invalid refresh.cron expression: %s", cfg.Refresh.Cron)
		}
	}

	if e := cfg.Server.OpsEngine; e != "" && e != "fasthttp" && e != "nethttp" {
		return fmt.Errorf("server.ops_engine must be \"fasthttp\" or \"nethttp\", got %q", e)
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "") != (key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if h := cfg.Security.CacheKeyHex; h != "" {
		b, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil {
			return fmt.Errorf("invalid security.cache_key_hex: %w", err)
		}
		if len(b) != 32 {
			return fmt.Errorf("security.cache_key_hex must be 64 hex chars (32 bytes)")
		}
	}
	return nil
}
