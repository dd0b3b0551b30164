package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.WatchWindow())
	assert.Equal(t, 150*time.Millisecond, cfg.WatchPoll())
	assert.Equal(t, 90*time.Second, cfg.SuccessWindow())
	assert.Equal(t, 25*time.Second, cfg.FailureWindow())
	assert.Equal(t, "auto", cfg.Convert.Engine)
	assert.Equal(t, TransportSSE, cfg.Server.Transport)
	assert.Equal(t, "/sse", cfg.Server.SSEPath)
	assert.Equal(t, "/messages/", cfg.Server.MessagePath)
	assert.Equal(t, "/", cfg.Server.MountPath)
	assert.Equal(t, "/mcp", cfg.Server.Path)
	assert.Equal(t, "127.0.0.1:8001", cfg.Addr())
	assert.Equal(t, "HUB", cfg.Report.DefaultTicker)
	assert.Equal(t, []string{"console", "file"}, cfg.Log.Writer)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ASX_WATCH_WINDOW_MS", "5000")
	t.Setenv("ASX_WATCH_POLL_MS", "10")
	t.Setenv("ASX_HEADLESS", "true")
	t.Setenv("MCP_DEDUPE_SECONDS", "0")
	t.Setenv("ASX_PDF_ENGINE", " Word ")
	t.Setenv("ASX_LIBREOFFICE_TIMEOUT_SECONDS", "5")
	t.Setenv("MCP_TRANSPORT", "http")
	t.Setenv("LOG_WRITER", "console")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.WatchWindow())
	// poll interval is clamped to its 50ms floor
	assert.Equal(t, 50*time.Millisecond, cfg.WatchPoll())
	assert.True(t, cfg.Capture.Headless)
	assert.Zero(t, cfg.SuccessWindow())
	assert.Equal(t, "word", cfg.Convert.Engine)
	assert.Equal(t, 30, cfg.Convert.LibreOfficeTimeoutSeconds)
	assert.Equal(t, TransportStreamableHTTP, cfg.Server.Transport)
	assert.Equal(t, []string{"console"}, cfg.Log.Writer)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "capture:\n  watch_window_ms: 3000\nserver:\n  transport: stdio\nreport:\n  default_ticker: bhp\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.WatchWindow())
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, "BHP", cfg.Report.DefaultTicker)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	cfg.Capture.WatchWindowMS = 100
	cfg.Capture.WatchPollMS = 100
	cfg.Server.Transport = "websocket"
	cfg.Report.QuoteURLTemplate = "https://example.com/"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_window_ms")
	assert.Contains(t, err.Error(), "websocket")
	assert.Contains(t, err.Error(), "quote_url_template")
}

func TestLoadSSEEnv(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", " SSE ")
	t.Setenv("MCP_SSE_PATH", "/events")
	t.Setenv("MCP_MESSAGE_PATH", "/msg/")
	t.Setenv("MCP_MOUNT_PATH", "/asx")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, cfg.Server.Transport)
	assert.Equal(t, "/events", cfg.Server.SSEPath)
	assert.Equal(t, "/msg/", cfg.Server.MessagePath)
	assert.Equal(t, "/asx", cfg.Server.MountPath)
}

func TestNormalizeTransport(t *testing.T) {
	cases := map[string]string{
		"":                TransportSSE,
		"SSE":             TransportSSE,
		"http":            TransportStreamableHTTP,
		"Streamable_HTTP": TransportStreamableHTTP,
		" stdio ":         TransportStdio,
		"websocket":       "websocket",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTransport(in), in)
	}
}
