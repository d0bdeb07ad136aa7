// Package config loads the detectrank daemon settings from defaults, an
// optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/pipeline"
)

// Config is the complete daemon configuration.
type Config struct {
	LogLevel    string          `yaml:"log_level"`
	LogColor    bool            `yaml:"log_color"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Pipeline    pipeline.Config `yaml:"pipeline"`
	Exclude     []string        `yaml:"exclude"`
	Source      SourceConfig    `yaml:"source"`
	Detector    DetectorConfig  `yaml:"detector"`
	Output      OutputConfig    `yaml:"output"`
}

// SourceConfig selects where frames come from.
type SourceConfig struct {
	Kind      string `yaml:"kind"` // "colorbars" or "image"
	ImagePath string `yaml:"image_path"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Frames    int    `yaml:"frames"` // 0 streams until stopped
}

// DetectorConfig selects the detection backend.
type DetectorConfig struct {
	Kind        string        `yaml:"kind"` // "synthetic" or "replay"
	ReplayPath  string        `yaml:"replay_path"`
	Loop        bool          `yaml:"loop"`
	Seed        uint64        `yaml:"seed"`
	Classes     []string      `yaml:"classes"`
	MaxPerFrame int           `yaml:"max_per_frame"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OutputConfig controls what is written per cycle.
type OutputConfig struct {
	SnapshotPath   string `yaml:"snapshot_path"` // "-" for stdout, empty to disable
	SnapshotFormat string `yaml:"snapshot_format"`
	AnnotatedDir   string `yaml:"annotated_dir"` // empty disables PNG output
	AnnotateEvery  int    `yaml:"annotate_every"`
	RecordDir      string `yaml:"record_dir"` // empty disables detection recording
}

// DefaultConfig returns settings for a local demo run.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		LogColor:    true,
		MetricsAddr: ":9090",
		Pipeline:    pipeline.DefaultConfig(),
		Source: SourceConfig{
			Kind:   "colorbars",
			Width:  640,
			Height: 480,
		},
		Detector: DetectorConfig{
			Kind:        "synthetic",
			Seed:        1,
			MaxPerFrame: 5,
			Timeout:     2 * time.Second,
		},
		Output: OutputConfig{
			SnapshotPath:   "-",
			SnapshotFormat: "json",
			AnnotateEvery:  20,
		},
	}
}

// Load decodes a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Parse builds the configuration from args (without the program name).
// Flags win over the file named by -config, which wins over defaults.
func Parse(name string, args []string) (Config, error) {
	cfg := DefaultConfig()
	fs, configPath := newFlagSet(name, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		fileCfg := DefaultConfig()
		if err := loadFile(*configPath, &fileCfg); err != nil {
			return Config{}, err
		}
		fs, _ = newFlagSet(name, &fileCfg)
		if err := fs.Parse(args); err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newFlagSet(name string, cfg *Config) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty to disable)")

	fs.Float64Var(&cfg.Pipeline.ConfidenceThreshold, "threshold", cfg.Pipeline.ConfidenceThreshold, "Confidence threshold for rendering [0,1]")
	fs.Float64Var(&cfg.Pipeline.TargetFrameRate, "fps", cfg.Pipeline.TargetFrameRate, "Target frame rate (0 = uncapped)")
	fs.Func("exclude", "Comma-separated classes to hide", func(s string) error {
		cfg.Exclude = splitList(s)
		return nil
	})

	fs.StringVar(&cfg.Source.Kind, "source", cfg.Source.Kind, "Frame source (colorbars, image)")
	fs.StringVar(&cfg.Source.ImagePath, "image", cfg.Source.ImagePath, "Image file for -source=image")
	fs.IntVar(&cfg.Source.Frames, "frames", cfg.Source.Frames, "Frames to process (0 = until stopped)")

	fs.StringVar(&cfg.Detector.Kind, "detector", cfg.Detector.Kind, "Detector (synthetic, replay)")
	fs.StringVar(&cfg.Detector.ReplayPath, "replay", cfg.Detector.ReplayPath, "JSON-lines detection recording for -detector=replay")
	fs.BoolVar(&cfg.Detector.Loop, "loop", cfg.Detector.Loop, "Loop the replay recording")
	fs.Uint64Var(&cfg.Detector.Seed, "seed", cfg.Detector.Seed, "Synthetic detector seed")
	fs.DurationVar(&cfg.Detector.Timeout, "detect-timeout", cfg.Detector.Timeout, "Per-frame detector timeout (0 = none)")

	fs.StringVar(&cfg.Output.SnapshotPath, "snapshots", cfg.Output.SnapshotPath, "Snapshot output file ('-' = stdout, empty = off)")
	fs.StringVar(&cfg.Output.SnapshotFormat, "snapshot-format", cfg.Output.SnapshotFormat, "Snapshot encoding (json, protobuf)")
	fs.StringVar(&cfg.Output.AnnotatedDir, "annotated-dir", cfg.Output.AnnotatedDir, "Directory for annotated PNGs (empty = off)")
	fs.IntVar(&cfg.Output.AnnotateEvery, "annotate-every", cfg.Output.AnnotateEvery, "Save one annotated PNG every N cycles")
	fs.StringVar(&cfg.Output.RecordDir, "record-dir", cfg.Output.RecordDir, "Directory for detection recordings (empty = off)")

	return fs, configPath
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	err := c.Pipeline.Validate()
	if _, e := logger.ParseLevel(c.LogLevel); e != nil {
		err = multierr.Append(err, e)
	}
	switch c.Source.Kind {
	case "colorbars":
	case "image":
		if c.Source.ImagePath == "" {
			err = multierr.Append(err, errors.New("source image requires image_path"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown source %q", c.Source.Kind))
	}
	switch c.Detector.Kind {
	case "synthetic":
	case "replay":
		if c.Detector.ReplayPath == "" {
			err = multierr.Append(err, errors.New("replay detector requires replay_path"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown detector %q", c.Detector.Kind))
	}
	if c.Source.Frames < 0 {
		err = multierr.Append(err, fmt.Errorf("frames %d must be >= 0", c.Source.Frames))
	}
	if c.Detector.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("detector timeout %s must be >= 0", c.Detector.Timeout))
	}
	switch strings.ToLower(c.Output.SnapshotFormat) {
	case "json", "protobuf", "proto":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown snapshot format %q", c.Output.SnapshotFormat))
	}
	return err
}
