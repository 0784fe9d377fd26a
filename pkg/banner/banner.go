package banner

import (
	"fmt"

	"autosync/pkg/config"
)

const banner = `
 █████╗ ██╗   ██╗████████╗ ██████╗ ███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔══██╗██║   ██║╚══██╔══╝██╔═══██╗██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
███████║██║   ██║   ██║   ██║   ██║███████╗ ╚████╔╝ ██║╚██╗ ██║██║
██╔══██║██║   ██║   ██║   ██║   ██║╚════██║  ╚██╔╝  ██║ ╚████║██║
██║  ██║╚██████╔╝   ██║   ╚██████╔╝███████║   ██║   ██║  ╚████║╚██████╗
╚═╝  ╚═╝ ╚═════╝    ╚═╝    ╚═════╝ ╚══════╝   ╚═╝   ╚═╝   ╚═══╝ ╚═════╝
`

// Print writes the startup banner plus a short config checklist. It
// uses the effective config so operators see what the agent actually
// resolved, not what any single source said.
func Print(eff config.EffectiveConfigResult, role, userID, version string, encrypted bool) {
	cfg := eff.Config

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", eff.Addr)
	if cfg.Cache.Ephemeral {
		fmt.Println("Cache:     in-memory (ephemeral)")
	} else {
		fmt.Printf("Data dir:  %s\n", eff.DataDir)
	}
	fmt.Printf("Session:   %s", role)
	if userID != "" {
		fmt.Printf(" (%s)", userID)
	}
	fmt.Println()
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config:    %s\n", eff.Source)

	fmt.Println("\n== Upstream ===================================================")
	if cfg.Upstream.BaseURL != "" {
		fmt.Printf("- API: %s\n", cfg.Upstream.BaseURL)
	} else {
		fmt.Println("- API: NOT SET (local cache only; set upstream.base_url)")
	}
	if cfg.Bridge.Enabled && cfg.Bridge.URL != "" {
		fmt.Printf("- Bridge: %s\n", cfg.Bridge.URL)
	} else {
		fmt.Println("- Bridge: disabled (no realtime pushes)")
	}
	if cfg.Refresh.Enabled {
		cron := cfg.Refresh.Cron
		if cron == "" {
			cron = "*/10 * * * *"
		}
		fmt.Printf("- Refresh: cron=%s\n", cron)
	} else {
		fmt.Println("- Refresh: disabled")
	}

	fmt.Println("\n== Production? ================================================")
	if n := len(cfg.Security.APIKeys.Dashboard); n > 0 {
		fmt.Printf("- Dashboard API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Dashboard API keys: MISSING (local API is unreachable without keys)")
	}
	if n := len(cfg.Security.APIKeys.Admin); n > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Admin API keys: MISSING (operational endpoints need one)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if encrypted {
		fmt.Println("- Cache encryption: enabled")
	} else {
		fmt.Println("- Cache encryption: disabled")
	}

	fmt.Println("\n== Logs =======================================================")
}
