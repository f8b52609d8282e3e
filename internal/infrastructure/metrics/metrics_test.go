package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/pending"
	"github.com/nerrad567/gray-logic-hub/internal/scheduler"
)

// The collector is handed to every instrumented package.
var (
	_ scheduler.Metrics = (*Collector)(nil)
	_ pending.Metrics   = (*Collector)(nil)
	_ device.Metrics    = (*Collector)(nil)
)

func TestNewCollector_Independent(t *testing.T) {
	// Two collectors must not fight over a shared registry.
	assert.NotPanics(t, func() {
		NewCollector()
		NewCollector()
	})
}

func TestSchedulerMetrics(t *testing.T) {
	c := NewCollector()

	c.TaskScheduled()
	c.TaskScheduled()
	c.TaskExecuted("history-aggregate", 20*time.Millisecond)
	c.TaskFault("history-aggregate")
	c.QueueDepth(7, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksScheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskFaults.WithLabelValues("history-aggregate")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.tasksPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksActive))
	assert.Equal(t, 1, testutil.CollectAndCount(c.taskDuration))
}

func TestPendingMetrics(t *testing.T) {
	c := NewCollector()

	c.PendingAcquired()
	c.PendingAcquired()
	c.PendingBusy()
	c.PendingReleased()
	c.PendingStale()
	c.PendingExpired()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pendingEvents.WithLabelValues(pendingAcquired)))
	for _, event := range []string{pendingBusy, pendingReleased, pendingStale, pendingExpired} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.pendingEvents.WithLabelValues(event)), event)
	}
}

func TestDeviceMetrics(t *testing.T) {
	c := NewCollector()

	c.UpdateOutcome(device.KindLevel, device.OutcomeApplied)
	c.UpdateOutcome(device.KindLevel, device.OutcomeApplied)
	c.UpdateOutcome(device.KindSwitch, device.OutcomeAuthorizationRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.deviceUpdates.WithLabelValues("level", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deviceUpdates.WithLabelValues("switch", "authorization_rejected")))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.UpdateOutcome(device.KindCounter, device.OutcomeDuplicate)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `grayhub_device_updates_total{kind="counter",outcome="duplicate"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServe(t *testing.T) {
	// Reserve a free port, then hand it to Serve.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, addr) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "grayhub_tasks_scheduled_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = NewCollector().Serve(context.Background(), ln.Addr().String())
	assert.Error(t, err)
}
