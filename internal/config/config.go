// Package config loads the worker's frozen configuration snapshot from the
// process environment. There are no CLI flags and no dynamic
// reconfiguration: Config is constructed once at startup and passed by
// reference into every component's constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable configuration snapshot for one worker process.
type Config struct {
	QueueRequestURL  string
	QueueResponseURL string
	QueueWorkDir     string

	MaxSessions int
	PortStart   int
	PortEnd     int

	DefaultTTL      time.Duration
	HardTTL         time.Duration
	IdleTimeout     time.Duration
	DevToolsWait    time.Duration

	UseCustomLauncher bool
	LauncherCmd       string
	CleanupPortCmd    string
	CleanupSessionCmd string
	CleanupProfilesCmd string

	ProfileReuseEnabled      bool
	ProfileRoot              string
	ProfileMaxAge            time.Duration
	ProfileCleanupInterval   time.Duration

	CallbackEnabled    bool
	CallbackURL        string
	CallbackTimeout    time.Duration

	LogLevel            string
	LogPath             string
	StatusLogInterval   time.Duration

	// Derived values, computed by ComputeDerived.
	LaunchBudget       time.Duration
	VisibilityTimeout  time.Duration
}

const envPrefix = "CHROMEWORKER_"

// FromEnv reads every recognized CHROMEWORKER_* environment variable into a
// Config, applies defaults, computes derived values, and validates the
// result. A non-nil error here is a fatal_config condition (see §7/§6):
// the caller should log it and exit(1).
func FromEnv() (*Config, error) {
	var errs []string
	get := func(key string) (string, bool) {
		v, ok := os.LookupEnv(envPrefix + key)
		return v, ok
	}

	c := &Config{}

	if v, ok := get("QUEUE_REQUEST_URL"); ok {
		c.QueueRequestURL = v
	}
	if v, ok := get("QUEUE_RESPONSE_URL"); ok {
		c.QueueResponseURL = v
	}
	if v, ok := get("QUEUE_WORK_DIR"); ok {
		c.QueueWorkDir = v
	}

	c.MaxSessions = envInt(get, "MAX_SESSIONS", 0, &errs)
	c.PortStart = envInt(get, "PORT_START", 0, &errs)
	c.PortEnd = envInt(get, "PORT_END", 0, &errs)

	c.DefaultTTL = envDuration(get, "DEFAULT_TTL_MIN", time.Minute, 0, &errs)
	c.HardTTL = envDuration(get, "HARD_TTL_MIN", time.Minute, 0, &errs)
	c.IdleTimeout = envDuration(get, "IDLE_TIMEOUT_SEC", time.Second, 0, &errs)
	c.DevToolsWait = envDuration(get, "DEVTOOLS_WAIT_MS", time.Millisecond, 0, &errs)

	c.UseCustomLauncher = envBool(get, "USE_CUSTOM_LAUNCHER", false, &errs)
	if v, ok := get("LAUNCHER_CMD"); ok {
		c.LauncherCmd = v
	}
	if v, ok := get("CLEANUP_PORT_CMD"); ok {
		c.CleanupPortCmd = v
	}
	if v, ok := get("CLEANUP_SESSION_CMD"); ok {
		c.CleanupSessionCmd = v
	}
	if v, ok := get("CLEANUP_PROFILES_CMD"); ok {
		c.CleanupProfilesCmd = v
	}

	c.ProfileReuseEnabled = envBool(get, "PROFILE_REUSE_ENABLED", false, &errs)
	if v, ok := get("PROFILE_ROOT"); ok {
		c.ProfileRoot = v
	}
	c.ProfileMaxAge = envDuration(get, "PROFILE_MAX_AGE_HOURS", time.Hour, 0, &errs)
	c.ProfileCleanupInterval = envDuration(get, "PROFILE_CLEANUP_INTERVAL_SEC", time.Second, 0, &errs)

	c.CallbackEnabled = envBool(get, "CALLBACK_ENABLED", false, &errs)
	if v, ok := get("CALLBACK_URL"); ok {
		c.CallbackURL = v
	}
	c.CallbackTimeout = envDuration(get, "CALLBACK_TIMEOUT_SEC", time.Second, 0, &errs)

	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_PATH"); ok {
		c.LogPath = v
	}
	c.StatusLogInterval = envDuration(get, "STATUS_LOG_INTERVAL_SEC", time.Second, 0, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	c.ApplyDefaults()
	c.ComputeDerived()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// ApplyDefaults fills zero-valued fields with the defaults named in spec §4.1.
func (c *Config) ApplyDefaults() {
	if c.MaxSessions == 0 {
		c.MaxSessions = 5
	}
	if c.PortStart == 0 {
		c.PortStart = 9222
	}
	if c.PortEnd == 0 {
		c.PortEnd = 9321
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 30 * time.Minute
	}
	if c.HardTTL == 0 {
		c.HardTTL = 2 * time.Hour
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.DevToolsWait == 0 {
		c.DevToolsWait = 90 * time.Second
	}
	if c.ProfileRoot == "" {
		c.ProfileRoot = "./profiles"
	}
	if c.ProfileMaxAge == 0 {
		c.ProfileMaxAge = 24 * time.Hour
	}
	if c.ProfileCleanupInterval == 0 {
		c.ProfileCleanupInterval = time.Hour
	}
	if c.CallbackTimeout == 0 {
		c.CallbackTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = "stdout"
	}
	if c.StatusLogInterval == 0 {
		c.StatusLogInterval = 30 * time.Second
	}
	if c.QueueRequestURL == "" {
		c.QueueRequestURL = "local"
	}
	if c.QueueWorkDir == "" {
		c.QueueWorkDir = "./queue"
	}
}

// ComputeDerived computes values derived from other fields. Must run after
// ApplyDefaults.
func (c *Config) ComputeDerived() {
	// Launch budget covers the full readiness-probe window plus dispatcher
	// overhead (profile selection, port reservation, argument assembly).
	c.LaunchBudget = c.DevToolsWait + 5*time.Second
	// Visibility timeout must exceed the launch budget with a 5s buffer
	// per spec §4.5; default floor of 120s.
	c.VisibilityTimeout = c.LaunchBudget + 5*time.Second
	if c.VisibilityTimeout < 120*time.Second {
		c.VisibilityTimeout = 120 * time.Second
	}
	// HardTTL must never be below DefaultTTL (spec §3 invariant
	// expires_at <= hard_expires_at).
	if c.HardTTL < c.DefaultTTL {
		c.HardTTL = c.DefaultTTL
	}
}

// Validate returns a fatal_config error if the snapshot is unusable.
func (c *Config) Validate() error {
	var errs []string
	if c.PortStart <= 0 || c.PortEnd <= 0 || c.PortStart > c.PortEnd {
		errs = append(errs, fmt.Sprintf("invalid port range [%d, %d]", c.PortStart, c.PortEnd))
	}
	if c.QueueRequestURL == "" {
		errs = append(errs, "queue_request_url must not be empty")
	}
	if c.UseCustomLauncher && c.LauncherCmd == "" {
		errs = append(errs, "launcher_cmd required when use_custom_launcher is set")
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, "max_sessions must be positive")
	}
	if c.CallbackEnabled && c.CallbackURL == "" {
		errs = append(errs, "callback_url required when callback_enabled is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsLocalMode reports whether the filesystem queue backend is selected.
func (c *Config) IsLocalMode() bool {
	return c.QueueRequestURL == "local"
}

func envInt(get func(string) (string, bool), key string, def int, errs *[]string) int {
	v, ok := get(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
		return def
	}
	return n
}

func envBool(get func(string) (string, bool), key string, def bool, errs *[]string) bool {
	v, ok := get(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
		return def
	}
	return b
}

func envDuration(get func(string) (string, bool), key string, unit time.Duration, def time.Duration, errs *[]string) time.Duration {
	v, ok := get(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s%s: %v", envPrefix, key, err))
		return def
	}
	return time.Duration(n * float64(unit))
}
