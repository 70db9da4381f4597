package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"QUEUE_REQUEST_URL", "QUEUE_RESPONSE_URL", "MAX_SESSIONS", "PORT_START",
		"PORT_END", "DEFAULT_TTL_MIN", "HARD_TTL_MIN", "IDLE_TIMEOUT_SEC",
		"DEVTOOLS_WAIT_MS", "USE_CUSTOM_LAUNCHER", "LAUNCHER_CMD",
		"PROFILE_REUSE_ENABLED", "CALLBACK_ENABLED", "CALLBACK_URL",
	}
	for _, k := range keys {
		os.Unsetenv(envPrefix + k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d, want 5", c.MaxSessions)
	}
	if c.PortStart != 9222 || c.PortEnd != 9321 {
		t.Errorf("port range = [%d,%d]", c.PortStart, c.PortEnd)
	}
	if c.DefaultTTL != 30*time.Minute {
		t.Errorf("DefaultTTL = %v", c.DefaultTTL)
	}
	if !c.IsLocalMode() {
		t.Errorf("expected local mode by default")
	}
	if c.VisibilityTimeout < 120*time.Second {
		t.Errorf("VisibilityTimeout = %v, want >= 120s", c.VisibilityTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv(envPrefix+"MAX_SESSIONS", "2")
	os.Setenv(envPrefix+"PORT_START", "9222")
	os.Setenv(envPrefix+"PORT_END", "9223")
	defer clearEnv(t)

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.MaxSessions != 2 {
		t.Errorf("MaxSessions = %d, want 2", c.MaxSessions)
	}
	if c.PortEnd != 9223 {
		t.Errorf("PortEnd = %d, want 9223", c.PortEnd)
	}
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	c := &Config{PortStart: 100, PortEnd: 1, MaxSessions: 1, QueueRequestURL: "local"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for inverted port range")
	}
}

func TestValidateRequiresLauncherCmd(t *testing.T) {
	c := &Config{PortStart: 1, PortEnd: 2, MaxSessions: 1, QueueRequestURL: "local", UseCustomLauncher: true}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when use_custom_launcher set without launcher_cmd")
	}
}

func TestHardTTLNeverBelowDefault(t *testing.T) {
	c := &Config{DefaultTTL: 30 * time.Minute, HardTTL: 5 * time.Minute}
	c.ComputeDerived()
	if c.HardTTL < c.DefaultTTL {
		t.Errorf("HardTTL %v < DefaultTTL %v", c.HardTTL, c.DefaultTTL)
	}
}
