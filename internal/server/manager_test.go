package server

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/internal/metrics"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestManager_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector("driftguard", reg, nil)
	c.RecordResolution("selector", true, 0)

	m := NewMetricsManager(reg, DefaultConfig("127.0.0.1:0"), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	status, body := get(t, "http://"+m.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "driftguard_resolutions_total")

	status, body = get(t, "http://"+m.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewMetricsManager(nil, DefaultConfig("127.0.0.1:0"), nil)
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "idempotent")
	assert.Error(t, m.Start(), "closed")
}

func TestManager_ListenFailure(t *testing.T) {
	first := NewMetricsManager(nil, DefaultConfig("127.0.0.1:0"), nil)
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	second := NewMetricsManager(nil, DefaultConfig(first.Addr()), nil)
	assert.Error(t, second.Start())
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := NewMetricsManager(nil, DefaultConfig(":0"), nil)
	assert.NoError(t, m.Shutdown(context.Background()))
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected error %v", err)
	default:
	}
}
