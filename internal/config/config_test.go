package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	c, err := LoadFrom(envOf(map[string]string{"YA_USER_ID": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, "local", c.App.Env)
	assert.Equal(t, ":8080", c.App.HTTPAddr)
	assert.Equal(t, zerolog.InfoLevel, c.App.LogLevel)
	assert.Equal(t, TransportLoopback, c.Signaling.Transport)
	assert.Equal(t, 30*time.Second, c.Call.RingTimeout)
	assert.Equal(t, 3*time.Second, c.Call.DisposeAfter)
	assert.Equal(t, "microphone,camera", c.Call.Permissions)
	assert.Equal(t, "yacall", c.Metrics.Namespace)
}

func TestLoadWebsocket(t *testing.T) {
	c, err := LoadFrom(envOf(map[string]string{
		"YA_ENV":              "staging",
		"YA_USER_ID":          "alice",
		"YA_USER_NAME":        "Alice",
		"YA_LOG_LEVEL":        "debug",
		"YA_SIGNALING":        "ws",
		"YA_SIGNALING_URL":    "wss://signal.example.com/ws",
		"YA_SIGNALING_SECRET": "s3cret",
		"YA_RING_TIMEOUT":     "45s",
		"YA_DISPOSE_AFTER":    "0",
		"YA_PERMISSIONS":      "none",
	}))
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, c.App.LogLevel)
	assert.Equal(t, "Alice", c.User.Name)
	assert.Equal(t, 45*time.Second, c.Call.RingTimeout)
	assert.Zero(t, c.Call.DisposeAfter)
	assert.Empty(t, c.Call.Permissions)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	_, err := LoadFrom(envOf(map[string]string{
		"YA_LOG_LEVEL":    "loud",
		"YA_RING_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YA_LOG_LEVEL")
	assert.Contains(t, err.Error(), "YA_RING_TIMEOUT")

	_, err = LoadFrom(envOf(map[string]string{
		"YA_SIGNALING":   "ws",
		"YA_PERMISSIONS": "microphone,xray",
	}))
	require.Error(t, err)
	for _, want := range []string{"YA_USER_ID", "YA_SIGNALING_URL", "YA_SIGNALING_SECRET", "YA_PERMISSIONS"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateProduction(t *testing.T) {
	c := Config{
		App:       AppConfig{Env: "production"},
		Signaling: SignalingConfig{Transport: TransportWS, URL: "ws://plain", Secret: "x"},
	}
	c.User.ID = "alice"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wss://")

	c.Signaling = SignalingConfig{}
	assert.Error(t, c.Validate(), "loopback is refused in production")

	c.Signaling = SignalingConfig{Transport: TransportRedis, RedisAddr: "redis:6379"}
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	c := Config{Signaling: SignalingConfig{Transport: "carrier-pigeon"}}
	c.User.ID = "alice"
	assert.Error(t, c.Validate())
}
