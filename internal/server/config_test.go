package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "demo", cfg.Tracker.Type)
	require.Equal(t, 0x35CA, cfg.Tracker.VendorID)
	require.Equal(t, 1, cfg.Tracker.ControlInterface)
	require.Equal(t, 0, cfg.Tracker.SensorInterface)
	require.Equal(t, 60, cfg.Tracker.PollHz)
	require.Equal(t, "pattern", cfg.Capture.Type)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.False(t, cfg.Logging.Enabled)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Equal(t, "demo", cfg.Tracker.Type)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
tracker:
  type: viture
  vendor_id: 0x35CA
  poll_hz: 30
capture:
  type: v4l2
  device_path: /dev/video2
server:
  listen_addr: ":9000"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg := LoadConfig(path)
	require.Equal(t, "viture", cfg.Tracker.Type)
	require.Equal(t, 0x35CA, cfg.Tracker.VendorID)
	require.Equal(t, 30, cfg.Tracker.PollHz)
	require.Equal(t, "v4l2", cfg.Capture.Type)
	require.Equal(t, "/dev/video2", cfg.Capture.DevicePath)
	require.Equal(t, ":9000", cfg.Server.ListenAddr)
	// Fields absent from the file keep their defaults.
	require.Equal(t, 115200, cfg.Tracker.BaudRate)
	require.Equal(t, 1920, cfg.Capture.Width)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_TYPE", "serial")
	t.Setenv("TRACKER_PORT", "/dev/ttyACM3")
	t.Setenv("TRACKER_BAUD", "57600")
	t.Setenv("TRACKER_VENDOR_ID", "0x1234")
	t.Setenv("CAPTURE_TYPE", "disabled")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("LOG_ENABLED", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	require.Equal(t, "serial", cfg.Tracker.Type)
	require.Equal(t, "/dev/ttyACM3", cfg.Tracker.PortPath)
	require.Equal(t, 57600, cfg.Tracker.BaudRate)
	require.Equal(t, 0x1234, cfg.Tracker.VendorID)
	require.Equal(t, "disabled", cfg.Capture.Type)
	require.Equal(t, ":7000", cfg.Server.ListenAddr)
	require.True(t, cfg.Logging.Enabled)
}

func TestEnvOverrideIgnoresBadNumbers(t *testing.T) {
	t.Setenv("TRACKER_BAUD", "fast")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	require.Equal(t, 115200, cfg.Tracker.BaudRate)
}

func TestUpdateFromJSONDeepMerge(t *testing.T) {
	cfg := DefaultConfig()
	patch := `{"display": {"smoothing": 0.5}, "tracker": {"poll_hz": 0}}`

	require.NoError(t, cfg.UpdateFromJSON([]byte(patch)))
	require.InDelta(t, 0.5, cfg.Display.Smoothing, 1e-9)
	// Untouched siblings survive the merge.
	require.Equal(t, "demo", cfg.Tracker.Type)
	require.Equal(t, "/dev/ttyTracker", cfg.Tracker.PortPath)
	require.InDelta(t, 5.0, cfg.Display.PlaneDistance, 1e-9)
}

func TestUpdateFromJSONRejectsGarbage(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.UpdateFromJSON([]byte("not json")))
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := LoadConfig(path)
	cfg.Tracker.Type = "viture"
	cfg.Server.ListenAddr = ":9999"
	require.NoError(t, cfg.Save())

	again := LoadConfig(path)
	require.Equal(t, "viture", again.Tracker.Type)
	require.Equal(t, ":9999", again.Server.ListenAddr)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	src := map[string]interface{}{
		"a": map[string]interface{}{"y": 9.0},
		"c": true,
	}
	deepMerge(dst, src)

	require.Equal(t, "keep", dst["b"])
	require.Equal(t, true, dst["c"])
	inner := dst["a"].(map[string]interface{})
	require.Equal(t, 1.0, inner["x"])
	require.Equal(t, 9.0, inner["y"])
}

func TestUpdateFromJSONUsesJSONTags(t *testing.T) {
	// The API speaks the json tag names, not the yaml ones.
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"capture": {"devicePath": "/dev/video9"}}`)))
	require.Equal(t, "/dev/video9", cfg.Capture.DevicePath)
}
