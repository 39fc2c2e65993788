package sysinfo

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCollector_Collect(t *testing.T) {
	c := NewCollector()

	info := c.Collect()

	if info.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if info.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, want > 0", info.Goroutines)
	}
	if info.ProcUptimeSecs < 0 {
		t.Errorf("ProcUptimeSecs = %d, want >= 0", info.ProcUptimeSecs)
	}
}

func TestCollector_CachesSnapshots(t *testing.T) {
	c := NewCollector()

	first := c.Collect()
	second := c.Collect()

	if !first.Timestamp.Equal(second.Timestamp) {
		t.Error("back-to-back snapshots not served from cache")
	}
}

func TestCollector_CacheExpires(t *testing.T) {
	c := NewCollector()

	first := c.Collect()

	c.mu.Lock()
	c.cacheExpiry = time.Now().Add(-time.Second)
	c.mu.Unlock()

	second := c.Collect()
	if first.Timestamp.Equal(second.Timestamp) {
		t.Error("expired cache still served the stale snapshot")
	}
}

func TestInfo_JSONShape(t *testing.T) {
	info := Info{
		Timestamp:  time.Now(),
		Hostname:   "watchdog-01",
		Goroutines: 7,
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded["hostname"] != "watchdog-01" {
		t.Errorf("hostname field = %v, want watchdog-01", decoded["hostname"])
	}
	if _, ok := decoded["degraded_reason"]; ok {
		t.Error("empty degraded_reason should be omitted")
	}
}
