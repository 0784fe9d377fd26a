package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr      string
	Data      string
	Config    string
	Ephemeral bool
	Version   bool
	Set       map[string]bool
}

// EnvResult holds the results of applying environment overrides.
type EnvResult struct {
	DashboardKeys map[string]struct{}
	SigningKeys   map[string]struct{}
	EnvUsed       bool
}

// EffectiveConfigResult holds the single resolved configuration source
// plus the derived listen address and data directory.
type EffectiveConfigResult struct {
	Config  *Config
	Addr    string
	DataDir string
	Source  string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":7180", "local API listen address")
	dataPtr := flag.String("data", "./.autosync", "data directory (cache and state)")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	ephPtr := flag.Bool("ephemeral", false, "keep the cache in memory only")
	verPtr := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Data: *dataPtr, Config: *cfgPtr, Ephemeral: *ephPtr, Version: *verPtr, Set: setFlags}
}

// ResolveConfigPath picks the config file path: an explicit flag wins,
// then AUTOSYNC_CONFIG, then the flag default.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("AUTOSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Load reads and parses a YAML config file. Not-found errors are
// returned unwrapped so callers can distinguish them.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads AUTOSYNC_* environment variables into a fresh
// Config and returns that env-only config plus an EnvResult describing
// keys present and whether envs were used. This function does not
// mutate any caller provided config.
func ParseConfigEnvs() (*Config, EnvResult) {
	envCfg := &Config{}
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		}
		return false
	}
	splitAddr := func(v string) {
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	}

	// Local API address/port
	if v := os.Getenv("AUTOSYNC_SERVER_ADDR"); v != "" {
		envUsed = true
		splitAddr(v)
	} else if v := os.Getenv("AUTOSYNC_ADDR"); v != "" {
		envUsed = true
		splitAddr(v)
	} else {
		if host := os.Getenv("AUTOSYNC_SERVER_ADDRESS"); host != "" {
			envUsed = true
			envCfg.Server.Address = host
		}
		if port := os.Getenv("AUTOSYNC_SERVER_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("AUTOSYNC_SERVER_DATA_DIR"); v != "" {
		envUsed = true
		envCfg.Server.DataDir = v
	} else if v := os.Getenv("AUTOSYNC_DATA_DIR"); v != "" {
		envUsed = true
		envCfg.Server.DataDir = v
	}
	if v := os.Getenv("AUTOSYNC_OPS_ADDR"); v != "" {
		envUsed = true
		envCfg.Server.OpsAddr = v
	}
	if v := os.Getenv("AUTOSYNC_OPS_ENGINE"); v != "" {
		envUsed = true
		envCfg.Server.OpsEngine = strings.ToLower(strings.TrimSpace(v))
	}

	// Upstream backend
	if v := os.Getenv("AUTOSYNC_API_BASE_URL"); v != "" {
		envUsed = true
		envCfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("AUTOSYNC_API_TOKEN"); v != "" {
		envUsed = true
		envCfg.Upstream.Token = v
	}
	if v := os.Getenv("AUTOSYNC_API_TIMEOUT"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Upstream.Timeout = Duration(td)
		}
	}
	if v := os.Getenv("AUTOSYNC_API_HEALTH_PATH"); v != "" {
		envUsed = true
		envCfg.Upstream.HealthPath = v
	}

	// Session identity
	if v := os.Getenv("AUTOSYNC_SESSION_ROLE"); v != "" {
		envUsed = true
		envCfg.Session.Role = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("AUTOSYNC_SESSION_USER_ID"); v != "" {
		envUsed = true
		envCfg.Session.UserID = v
	}
	if v := os.Getenv("AUTOSYNC_SESSION_NAME"); v != "" {
		envUsed = true
		envCfg.Session.Name = v
	}
	if v := os.Getenv("AUTOSYNC_SESSION_EMAIL"); v != "" {
		envUsed = true
		envCfg.Session.Email = v
	}
	if v := os.Getenv("AUTOSYNC_PROFILE_FILE"); v != "" {
		envUsed = true
		envCfg.Session.ProfileFile = v
	}

	// Realtime bridge
	if v := os.Getenv("AUTOSYNC_BRIDGE_URL"); v != "" {
		envUsed = true
		envCfg.Bridge.URL = v
		envCfg.Bridge.Enabled = true
	}
	if v := os.Getenv("AUTOSYNC_BRIDGE_ORIGIN"); v != "" {
		envUsed = true
		envCfg.Bridge.Origin = v
	}

	// Cache mirror
	if v := os.Getenv("AUTOSYNC_CACHE_PREFIX"); v != "" {
		envUsed = true
		envCfg.Cache.Prefix = v
	}
	if v := os.Getenv("AUTOSYNC_CACHE_EPHEMERAL"); v != "" {
		envUsed = true
		envCfg.Cache.Ephemeral = parseBool(v)
	}

	// Refresh schedule
	if v := os.Getenv("AUTOSYNC_REFRESH_CRON"); v != "" {
		envUsed = true
		envCfg.Refresh.Cron = v
		envCfg.Refresh.Enabled = true
	}
	if v := os.Getenv("AUTOSYNC_REFRESH_ENABLED"); v != "" {
		envUsed = true
		envCfg.Refresh.Enabled = parseBool(v)
	}

	// Local API protection
	if v := os.Getenv("AUTOSYNC_CORS_ORIGINS"); v != "" {
		envUsed = true
		envCfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("AUTOSYNC_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("AUTOSYNC_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("AUTOSYNC_DASHBOARD_KEYS"); v != "" {
		envUsed = true
		envCfg.Security.APIKeys.Dashboard = parseList(v)
	}
	if v := os.Getenv("AUTOSYNC_ADMIN_KEYS"); v != "" {
		envUsed = true
		envCfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := os.Getenv("AUTOSYNC_SIGNING_KEYS"); v != "" {
		envUsed = true
		envCfg.Security.SigningKeys = parseList(v)
	}

	// Cache at-rest encryption
	if v := os.Getenv("AUTOSYNC_CACHE_KEY_HEX"); v != "" {
		envUsed = true
		envCfg.Security.CacheKeyHex = v
	}
	if v := os.Getenv("AUTOSYNC_CACHE_KEY_FILE"); v != "" {
		envUsed = true
		envCfg.Security.CacheKeyFile = v
	}

	// TLS cert/key
	if c := os.Getenv("AUTOSYNC_TLS_CERT"); c != "" {
		envUsed = true
		envCfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("AUTOSYNC_TLS_KEY"); k != "" {
		envUsed = true
		envCfg.Server.TLS.KeyFile = k
	}

	dashKeys := make(map[string]struct{})
	for _, k := range envCfg.Security.APIKeys.Dashboard {
		dashKeys[k] = struct{}{}
	}
	signingKeys := make(map[string]struct{})
	for _, k := range envCfg.Security.SigningKeys {
		signingKeys[k] = struct{}{}
	}
	for _, k := range envCfg.Security.APIKeys.Admin {
		signingKeys[k] = struct{}{}
	}
	return envCfg, EnvResult{DashboardKeys: dashKeys, SigningKeys: signingKeys, EnvUsed: envUsed}
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// data dir. An explicit --config requires the file to exist and uses it
// exclusively. Explicit addr/data/ephemeral flags win for those fields
// while the rest of the config comes from env when present, else the
// file, so flag runs do not lose upstream credentials.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	// If user explicitly passed --config, require the file to exist and use it.
	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DataDir = fileCfg.Server.DataDir
		res.Source = "config"
		return res, nil
	}

	if flags.Set["addr"] || flags.Set["data"] || flags.Set["ephemeral"] {
		base := &Config{}
		if envRes.EnvUsed {
			base = envCfg
		} else if fileExists {
			base = fileCfg
		}
		out := *base
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = base.Addr()
		}
		out.Server.Address = addr
		out.Server.Port = parsePortFromAddr(addr)
		if flags.Set["data"] {
			out.Server.DataDir = flags.Data
		} else if strings.TrimSpace(out.Server.DataDir) == "" {
			out.Server.DataDir = flags.Data
		}
		if flags.Set["ephemeral"] {
			out.Cache.Ephemeral = flags.Ephemeral
		}
		res.Config = &out
		res.Addr = addr
		res.DataDir = out.Server.DataDir
		res.Source = "flags"
		return res, nil
	}

	// No explicit flags: prefer file config if present, otherwise env.
	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.DataDir = fileCfg.Server.DataDir
		res.Source = "config"
		return res, nil
	}
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.DataDir = envCfg.Server.DataDir
	res.Source = "env"
	return res, nil
}

// parsePortFromAddr extracts port integer from host:port string.
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
