package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
	"github.com/maraxa/powerwatch-core/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "powerwatch-dev-token",
		Org:           "powerwatch",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		cfg := testConfig()
		client, err := influxdb.Connect(cfg)
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// errorCapture collects async write errors behind a mutex.
type errorCapture struct {
	mu  sync.Mutex
	err error
}

func (ec *errorCapture) set(err error) {
	ec.mu.Lock()
	ec.err = err
	ec.mu.Unlock()
}

func (ec *errorCapture) get() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.err
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() after Connect() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should return error when disabled")
	}
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influxdb.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should return error for invalid URL")
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = 0     // Should use default
	cfg.FlushInterval = 0 // Should use default

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteProbeSample(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var ec errorCapture
	client.SetOnError(ec.set)

	client.WriteProbeSample("lan", "192.168.1.1", "ping", true, 2*time.Millisecond)
	client.WriteProbeSample("lan", "192.168.1.2", "tcp", false, 0)

	// Close flushes the batch; give the error callback a moment.
	client.Close()
	time.Sleep(100 * time.Millisecond)

	if err := ec.get(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWriteGroupState(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var ec errorCapture
	client.SetOnError(ec.set)

	client.WriteGroupState("lan", "degraded", 2)

	client.Close()
	time.Sleep(100 * time.Millisecond)

	if err := ec.get(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWriteActuation(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var ec errorCapture
	client.SetOnError(ec.set)

	client.WriteActuation("lan", "rack-a", "power_cycle", true)

	client.Close()
	time.Sleep(100 * time.Millisecond)

	if err := ec.get(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteProbeSample("lan", "192.168.1.1", "ping", true, time.Millisecond)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Writes after Close must be silent no-ops.
	client.WriteProbeSample("lan", "192.168.1.1", "ping", true, time.Millisecond)
	client.WriteGroupState("lan", "healthy", 0)
	client.WriteActuation("lan", "rack-a", "on", true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() = %v, want ErrNotConnected", err)
	}
}
