package tgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHeartbeatInterval, cfg.heartbeatInterval)
	assert.True(t, cfg.StartClientTimerIsAbsolute)
	assert.True(t, cfg.ForwardPayloadPopFromTail)
	assert.False(t, cfg.HonorPerActionPeersAfterSampling)
	assert.True(t, cfg.ZeroPercentServersMeansFullPool)
}

func TestApplyConfigWithOptions(t *testing.T) {
	cfg := applyConfig([]Option{
		WithHeartbeat(5 * time.Second),
		WithTransferHeartbeat(2 * time.Second),
		WithConnectTimeout(9 * time.Second),
		WithDefaultStallout(3 * time.Second),
		WithDefaultTimeout(4 * time.Second),
		WithHonorPerActionPeersAfterSampling(true),
		WithForwardPayloadPopFromTail(false),
		WithStartClientTimerIsAbsolute(false),
		WithZeroPercentServersMeansFullPool(false),
	})

	assert.Equal(t, 5*time.Second, cfg.heartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.transferHeartbeat)
	assert.Equal(t, 9*time.Second, cfg.connectTimeout)
	assert.Equal(t, 3*time.Second, cfg.defaultStallout)
	assert.Equal(t, 4*time.Second, cfg.defaultTimeout)
	assert.True(t, cfg.HonorPerActionPeersAfterSampling)
	assert.False(t, cfg.ForwardPayloadPopFromTail)
	assert.False(t, cfg.StartClientTimerIsAbsolute)
	assert.False(t, cfg.ZeroPercentServersMeansFullPool)
}

func TestOptionsIgnoreNonPositiveDurations(t *testing.T) {
	cfg := applyConfig([]Option{
		WithHeartbeat(0),
		WithConnectTimeout(-time.Second),
	})
	assert.Equal(t, DefaultHeartbeatInterval, cfg.heartbeatInterval)
	assert.Equal(t, DefaultConnectTimeout, cfg.connectTimeout)
}

func TestWithSocksProxyAndMetricsAndLogger(t *testing.T) {
	proxy := NewPeer("proxy", "10.0.0.5", 1080)
	metrics := NewDefaultMetrics()
	logger := NewLogger()

	cfg := applyConfig([]Option{
		WithSocksProxy(proxy),
		WithMetrics(metrics),
		WithLogger(logger),
		WithMetrics(nil),
		WithLogger(nil),
	})

	assert.Same(t, proxy, cfg.socksProxy)
	assert.Same(t, metrics, cfg.metrics)
	assert.Same(t, logger, cfg.logger)
}

func TestConfigValidateRejectsNonPositiveFields(t *testing.T) {
	cfg := defaultConfig()
	cfg.heartbeatInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = defaultConfig()
	cfg.connectTimeout = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
