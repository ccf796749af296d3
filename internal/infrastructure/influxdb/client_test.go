package influxdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nomanocra/SmartConnectServer/internal/infrastructure/config"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "smartconnect-dev-token",
		Org:           "smartconnect",
		Bucket:        "readings",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil IsConnected() = true")
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	c.WriteReading(ingest.Point{Value: "1"})
}

func TestWriteReading_ConcurrentWithClose(t *testing.T) {
	var writes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/write") {
			writes.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = srv.URL
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				client.WriteReading(ingest.Point{
					DeviceID: id, SensorID: "Temperature_1", Type: "Temperature",
					Value: "21", RecordedAt: time.Now(),
				})
			}
		}(int64(i))
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	wg.Wait()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	client.WriteReading(ingest.Point{Value: "1", RecordedAt: time.Now()})
}

func TestReadingPoint(t *testing.T) {
	at := time.Date(2025, 1, 15, 14, 35, 0, 0, time.UTC)

	tests := []struct {
		name      string
		point     ingest.Point
		contains  []string
		notExpect string
	}{
		{
			name: "numeric value with unit",
			point: ingest.Point{
				DeviceID: 7, SensorID: "Temperature_12", Type: "Temperature",
				Unit: "°C", Value: "23.5", RecordedAt: at,
			},
			contains: []string{
				"sensor_reading,",
				"device_id=7",
				"sensor_id=Temperature_12",
				"type=Temperature",
				"unit=°C",
				`raw="23.5"`,
				"value=23.5",
			},
		},
		{
			name: "non numeric value keeps raw only",
			point: ingest.Point{
				DeviceID: 7, SensorID: "Door_3", Type: "Door", Value: "OPEN", RecordedAt: at,
			},
			contains:  []string{`raw="OPEN"`, "type=Door"},
			notExpect: "value=",
		},
		{
			name: "empty unit is not tagged",
			point: ingest.Point{
				DeviceID: 1, SensorID: "Count_1", Type: "Count", Value: "-4", RecordedAt: at,
			},
			contains:  []string{"value=-4"},
			notExpect: "unit=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(readingPoint(tt.point), time.Second)
			for _, want := range tt.contains {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
			if tt.notExpect != "" && strings.Contains(line, tt.notExpect) {
				t.Errorf("line %q contains %q", line, tt.notExpect)
			}
			if !strings.HasSuffix(strings.TrimSpace(line), "1736951700") {
				t.Errorf("line %q does not end with the recorded time", line)
			}
		})
	}
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"21", 21, true},
		{"-0.25", -0.25, true},
		{"1e3", 1000, true},
		{"", 0, false},
		{"OPEN", 0, false},
		{"12 V", 0, false},
	}
	for _, tt := range tests {
		got, ok := numericValue(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("numericValue(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWriteReading_Integration(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	client.WriteReading(ingest.Point{
		DeviceID: 1, SensorID: "Temperature_1", Type: "Temperature",
		Unit: "°C", Value: "21", RecordedAt: time.Now(),
	})
	client.Flush()

	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
