package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tab titler.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Monitored application
	MonitoredOrigin string
	SelectorsFile   string

	// API listener
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Timing
	EvalTimeoutMS      int
	FocusPollMS        int
	StartupPassDelayMS int
	ObserverDelayMS    int
	ObserverRetryMS    int

	// Browser launch
	LaunchBrowser bool
	ProfileDir    string

	// Optional ntfy-style endpoint receiving applied titles
	NotifyURL string

	LogLevel string
	LogFile  string
	LockFile string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		MonitoredOrigin:    strings.TrimRight(getEnvOrDefault("TITLER_MONITORED_ORIGIN", "https://gemini.google.com"), "/"),
		SelectorsFile:      getEnvOrDefault("TITLER_SELECTORS_FILE", ""),
		BindAddr:           getEnvOrDefault("TITLER_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:     getEnvListOrDefault("TITLER_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:   getEnvBoolOrDefault("TITLER_PORT_AUTO_FALLBACK", true),
		EvalTimeoutMS:      getEnvIntOrDefault("TITLER_EVAL_TIMEOUT_MS", 5000),
		FocusPollMS:        getEnvIntOrDefault("TITLER_FOCUS_POLL_MS", 500),
		StartupPassDelayMS: getEnvIntOrDefault("TITLER_STARTUP_PASS_DELAY_MS", 1000),
		ObserverDelayMS:    getEnvIntOrDefault("TITLER_OBSERVER_DELAY_MS", 1000),
		ObserverRetryMS:    getEnvIntOrDefault("TITLER_OBSERVER_RETRY_MS", 3000),
		LaunchBrowser:      getEnvBoolOrDefault("TITLER_LAUNCH_BROWSER", false),
		ProfileDir:         getEnvOrDefault("TITLER_PROFILE_DIR", "./browser_profile"),
		NotifyURL:          strings.TrimSpace(os.Getenv("TITLER_NOTIFY_URL")),
		LogLevel:           strings.ToLower(getEnvOrDefault("TITLER_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("TITLER_LOG_FILE", "logs/tab_titler.log"),
	}
	cfg.LockFile = getEnvOrDefault("TITLER_LOCK_FILE",
		filepath.Join(os.TempDir(), "tab_titler-"+strconv.Itoa(cfg.CDPPort)+".lock"))
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.FocusPollMS < 100 {
		cfg.FocusPollMS = 100
	}

	if err := validateOrigin(cfg.MonitoredOrigin); err != nil {
		return nil, fmt.Errorf("config: TITLER_MONITORED_ORIGIN: %w", err)
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: CHROMIUM_CDP_PORT: out of range: %d", cfg.CDPPort)
	}
	if cfg.NotifyURL != "" {
		if u, err := url.Parse(cfg.NotifyURL); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("config: TITLER_NOTIFY_URL: %q is not an absolute URL", cfg.NotifyURL)
		}
	}
	for _, v := range []struct {
		env string
		ms  int
	}{
		{"TITLER_STARTUP_PASS_DELAY_MS", cfg.StartupPassDelayMS},
		{"TITLER_OBSERVER_DELAY_MS", cfg.ObserverDelayMS},
		{"TITLER_OBSERVER_RETRY_MS", cfg.ObserverRetryMS},
	} {
		if v.ms < 0 {
			return nil, fmt.Errorf("config: %s: must not be negative", v.env)
		}
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) FocusPoll() time.Duration {
	return time.Duration(c.FocusPollMS) * time.Millisecond
}

func (c *Config) StartupPassDelay() time.Duration {
	return time.Duration(c.StartupPassDelayMS) * time.Millisecond
}

func (c *Config) ObserverDelay() time.Duration {
	return time.Duration(c.ObserverDelayMS) * time.Millisecond
}

func (c *Config) ObserverRetry() time.Duration {
	return time.Duration(c.ObserverRetryMS) * time.Millisecond
}

// validateOrigin accepts scheme://host[:port] with no path, query or fragment.
func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not scheme://host", origin)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("%q must be an origin without path", origin)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
