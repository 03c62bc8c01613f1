// Package config loads the YAML configuration shared by the virtius binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"virtius.io/virtius/cloak"
	"virtius.io/virtius/hasher"
	"virtius.io/virtius/imagebuf"
	"virtius.io/virtius/storage/casconfig"
)

// Config is the root configuration document.
type Config struct {
	Logger   LoggerConfig     `yaml:"logger"`
	Tracer   TracerConfig     `yaml:"tracer"`
	Pipeline PipelineConfig   `yaml:"pipeline"`
	Storage  casconfig.Config `yaml:"storage"`
	Registry RegistryConfig   `yaml:"registry"`
	CASD     CASDConfig       `yaml:"casd"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// PipelineConfig tunes the protection pipeline.
type PipelineConfig struct {
	Level     string `yaml:"level"`
	ChunkSize int    `yaml:"chunk_size"`
	MaxPixels int    `yaml:"max_pixels"`
}

// RegistryConfig locates the content record database.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// CASDConfig configures the gRPC CAS daemon.
type CASDConfig struct {
	Listen         string  `yaml:"listen"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
}

// Defaults returns a config that works without a file: text logs on stderr,
// no tracing, high cloaking, and a local CAS plus registry under ./data.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Pipeline: PipelineConfig{
			Level:     string(cloak.DefaultLevel),
			ChunkSize: hasher.DefaultChunkSize,
			MaxPixels: imagebuf.DefaultMaxPixels,
		},
		Storage: casconfig.Config{
			Backends: []casconfig.BackendConfig{
				{Name: "localfs", Config: map[string]string{"localfs-dir": filepath.Join("data", "cas")}},
			},
		},
		Registry: RegistryConfig{
			Path: filepath.Join("data", "virtius.db"),
		},
		CASD: CASDConfig{
			Listen:         "127.0.0.1:7777",
			RequestsPerSec: 200,
			Burst:          50,
		},
	}
}

// Load reads a YAML config file over Defaults, applies VIRTIUS_* environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps VIRTIUS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIRTIUS_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("VIRTIUS_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("VIRTIUS_CLOAK_LEVEL"); v != "" {
		cfg.Pipeline.Level = v
	}
	if v := os.Getenv("VIRTIUS_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("VIRTIUS_TRACING"); v != "" {
		cfg.Tracer.Enabled = strings.EqualFold(v, "true") || v == "1"
		if cfg.Tracer.Enabled && (cfg.Tracer.Exporter == "" || cfg.Tracer.Exporter == "noop") {
			cfg.Tracer.Exporter = "stdout"
		}
	}
}
