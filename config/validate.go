package config

import (
	"fmt"
	"strings"

	"virtius.io/virtius/cloak"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validatePipeline(cfg, ve)
	validateStorage(cfg, ve)
	validateCASD(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
}

func validatePipeline(cfg *Config, ve *ValidationError) {
	if _, err := cloak.ParseLevel(cfg.Pipeline.Level); err != nil {
		ve.Add("pipeline.level must be min, low, mid or high, got %q", cfg.Pipeline.Level)
	}
	if cfg.Pipeline.ChunkSize <= 0 {
		ve.Add("pipeline.chunk_size must be > 0")
	}
	if cfg.Pipeline.MaxPixels < 0 {
		ve.Add("pipeline.max_pixels must be >= 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if err := cfg.Storage.Validate(); err != nil {
		ve.Add("storage: %v", err)
	}
}

func validateCASD(cfg *Config, ve *ValidationError) {
	if cfg.CASD.RequestsPerSec < 0 {
		ve.Add("casd.requests_per_sec must be >= 0")
	}
	if cfg.CASD.RequestsPerSec > 0 && cfg.CASD.Burst <= 0 {
		ve.Add("casd.burst must be > 0 when rate limiting is enabled")
	}
}
