package ws

import (
	"testing"
	"time"
)

func TestServerConfigHeartbeat(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Heartbeat != DefaultHeartbeatConfig() {
		t.Errorf("default config heartbeat = %+v, want %+v", cfg.Heartbeat, DefaultHeartbeatConfig())
	}

	cfg.Heartbeat = HeartbeatConfig{Interval: 5 * time.Second, Timeout: 2 * time.Second}
	if hb := cfg.heartbeat(); hb != cfg.Heartbeat {
		t.Errorf("configured heartbeat not honored: got %+v", hb)
	}

	// Zero or negative values fall back to the defaults rather than
	// producing a never-firing ticker.
	var zero ServerConfig
	if hb := zero.heartbeat(); hb != DefaultHeartbeatConfig() {
		t.Errorf("zero config heartbeat = %+v, want defaults", hb)
	}
}

func TestConnectionActivityTracking(t *testing.T) {
	c := &Connection{ID: "conn-1"}
	if !c.LastActive().Before(time.Now().Add(-time.Hour)) {
		t.Fatal("untouched connection should report no recent activity")
	}

	c.Touch()
	if idle := time.Since(c.LastActive()); idle > time.Second {
		t.Errorf("touched connection idle for %s, want ~0", idle)
	}
}
