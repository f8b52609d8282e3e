package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestWriteDeviceValue_NotConnected(t *testing.T) {
	c := &Client{}
	// Must not touch the nil write API.
	c.WriteDeviceValue(DeviceValue{DeviceID: 1, IsNumeric: true, Numeric: 1})
	c.Flush()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name          string
		batchSize     int
		flushInterval int
		wantBatch     uint
		wantFlushMS   uint
	}{
		{"configured", 500, 2, 500, 2000},
		{"defaults", 0, 0, defaultBatchSize, defaultFlushInterval * 1000},
		{"negative", -1, -5, defaultBatchSize, defaultFlushInterval * 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BatchSize, cfg.FlushInterval = tt.batchSize, tt.flushInterval
			opts := clientOptions(cfg)
			if opts.BatchSize() != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), tt.wantBatch)
			}
			if opts.FlushInterval() != tt.wantFlushMS {
				t.Errorf("FlushInterval() = %d, want %d", opts.FlushInterval(), tt.wantFlushMS)
			}
		})
	}
}

func TestHandleWriteErrorsWrapsErrWriteFailed(t *testing.T) {
	c := &Client{cfg: testConfig()}

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	errorsCh := make(chan error, 2)
	errorsCh <- errors.New("429 too many requests")
	errorsCh <- errors.New("field type conflict")
	close(errorsCh)
	c.handleWriteErrors(errorsCh)

	if len(got) != 2 {
		t.Fatalf("callback calls = %d, want 2", len(got))
	}
	for _, err := range got {
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
		if !strings.Contains(err.Error(), "bucket metrics") {
			t.Errorf("callback error = %q, want the bucket name", err)
		}
	}
	if c.WriteFailures() != 2 {
		t.Errorf("WriteFailures() = %d, want 2", c.WriteFailures())
	}
}

func TestHandleWriteErrorsWithoutCallback(t *testing.T) {
	c := &Client{cfg: testConfig()}

	errorsCh := make(chan error, 1)
	errorsCh <- errors.New("timeout")
	close(errorsCh)
	c.handleWriteErrors(errorsCh)

	if c.WriteFailures() != 1 {
		t.Errorf("WriteFailures() = %d, want 1", c.WriteFailures())
	}
}

func TestDevicePoint_Numeric(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(devicePoint(DeviceValue{
		DeviceID:  12,
		Adapter:   "virtual",
		Reference: "thermostat",
		Kind:      "level",
		Source:    "api",
		Numeric:   21.5,
		IsNumeric: true,
		At:        at,
	}), time.Second)

	for _, want := range []string{
		"device_values,",
		"device_id=12",
		"reference=thermostat",
		"source=api",
		"value=21.5",
		"1710072000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "text=") {
		t.Errorf("numeric point carries a text field: %q", line)
	}
}

func TestDevicePoint_Text(t *testing.T) {
	line := write.PointToLineProtocol(devicePoint(DeviceValue{
		DeviceID: 3,
		Kind:     "switch",
		Text:     "on",
		At:       time.Unix(100, 0),
	}), time.Second)

	if !strings.Contains(line, `text="on"`) || strings.Contains(line, "value=") {
		t.Errorf("line protocol = %q, want only a text field", line)
	}
}

func TestWriteDeviceValue(t *testing.T) {
	client := connectOrSkip(t)

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteDeviceValue(DeviceValue{DeviceID: 1, Kind: "level", Numeric: 42, IsNumeric: true})
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
	if client.WriteFailures() != 0 {
		t.Errorf("WriteFailures() = %d, want 0", client.WriteFailures())
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	// Writes after Close are dropped silently.
	client.WriteDeviceValue(DeviceValue{DeviceID: 1, Numeric: 1, IsNumeric: true})
}
