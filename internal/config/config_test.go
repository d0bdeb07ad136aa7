package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detectrank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
pipeline:
  confidence_threshold: 0.3
  target_frame_rate: 0
exclude: [person]
detector:
  kind: replay
  replay_path: detections.jsonl
  timeout: 750ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 0.3, cfg.Pipeline.ConfidenceThreshold)
	require.Equal(t, 0.0, cfg.Pipeline.TargetFrameRate)
	require.Equal(t, []string{"person"}, cfg.Exclude)
	require.Equal(t, "replay", cfg.Detector.Kind)
	require.Equal(t, 750*time.Millisecond, cfg.Detector.Timeout)
	require.Equal(t, "colorbars", cfg.Source.Kind, "unset keys keep defaults")
	require.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "treshold: 0.4\n"))
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestParseFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  confidence_threshold: 0.3
  target_frame_rate: 5
`)
	cfg, err := Parse("detectrank", []string{
		"-config", path,
		"-fps", "30",
		"-exclude", "cat, dog,,",
	})
	require.NoError(t, err)
	require.Equal(t, 0.3, cfg.Pipeline.ConfidenceThreshold, "file value kept")
	require.Equal(t, 30.0, cfg.Pipeline.TargetFrameRate, "flag wins over file")
	require.Equal(t, []string{"cat", "dog"}, cfg.Exclude)
}

func TestParseWithoutFile(t *testing.T) {
	cfg, err := Parse("detectrank", []string{"-threshold", "0.8", "-frames", "3"})
	require.NoError(t, err)
	require.Equal(t, 0.8, cfg.Pipeline.ConfidenceThreshold)
	require.Equal(t, 3, cfg.Source.Frames)
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	cfg.Pipeline.ConfidenceThreshold = 2
	cfg.Source.Kind = "image"
	cfg.Detector.Kind = "yolo"
	cfg.Output.SnapshotFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"chatty", "confidence threshold", "image_path", "yolo", "xml"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse("detectrank", []string{"-detector", "replay"})
	require.ErrorContains(t, err, "replay_path")
}
