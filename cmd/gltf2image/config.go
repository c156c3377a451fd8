package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Carmen-Shannon/gltf2image/api"
	"github.com/Carmen-Shannon/gltf2image/engine/renderer"
	"github.com/pelletier/go-toml/v2"
)

// Config is the CLI configuration. A TOML file may set any field; flags override the file.
type Config struct {
	// Backend is "wgpu" or "software".
	Backend              string `toml:"backend"`
	ForceSoftwareAdapter bool   `toml:"force_software_adapter"`
	ResourceDir          string `toml:"resource_dir"`
	DecodeWorkers        int    `toml:"decode_workers"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Render RenderConfig `toml:"render"`
	Server ServerConfig `toml:"server"`
}

// RenderConfig configures the render subcommand.
type RenderConfig struct {
	Width   uint32 `toml:"width"`
	Height  uint32 `toml:"height"`
	OutDir  string `toml:"out_dir"`
	Workers int    `toml:"workers"`
}

// ServerConfig configures the serve subcommand.
type ServerConfig struct {
	Addr         string `toml:"addr"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	MaxDimension uint32 `toml:"max_dimension"`
	MaxInFlight  int    `toml:"max_in_flight"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Backend:       "wgpu",
		DecodeWorkers: 4,
		LogLevel:      "info",
		LogFormat:     "text",
		Render: RenderConfig{
			Width:   512,
			Height:  512,
			OutDir:  ".",
			Workers: 4,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 64 << 20,
			MaxDimension: 4096,
			MaxInFlight:  4,
		},
	}
}

// LoadConfig reads a TOML file over the defaults. Unknown keys are an error.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the merged configuration
//   - error: error if the file cannot be read, parsed or validated
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a file or flags can get wrong.
func (c Config) Validate() error {
	if _, err := renderer.ParseBackendType(c.Backend); err != nil {
		return err
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Render.Width == 0 || c.Render.Height == 0 {
		return fmt.Errorf("render size %dx%d must be positive", c.Render.Width, c.Render.Height)
	}
	if c.Server.MaxInFlight < 1 {
		return fmt.Errorf("server max_in_flight %d must be positive", c.Server.MaxInFlight)
	}
	return nil
}

// ContextOptions converts the configuration into api options.
func (c Config) ContextOptions(logger *slog.Logger) ([]api.ContextOption, error) {
	backend, err := renderer.ParseBackendType(c.Backend)
	if err != nil {
		return nil, err
	}
	return []api.ContextOption{
		api.WithLogger(logger),
		api.WithBackend(backend),
		api.WithForceSoftwareAdapter(c.ForceSoftwareAdapter),
		api.WithResourceDir(c.ResourceDir),
		api.WithDecodeWorkers(c.DecodeWorkers),
	}, nil
}

// Logger builds the process logger.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.slogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (c Config) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return level, nil
}
