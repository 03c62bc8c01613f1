// Package casconfig opens one or more storage backends from configuration.
//
// Backends still have to be linked into the binary with blank imports; this
// package only selects and combines them. Example (YAML):
//
//	write_policy: all
//	backends:
//	  - name: localfs
//	    config: {localfs-dir: /var/lib/virtius/cas}
//	  - name: grpc
//	    id: archive
//	    config: {grpc-target: archive.internal:7777}
//
// write_policy "first" (the default) writes to the first backend and reads
// through all of them in order; "all" replicates every write (see
// storage.ReplicatingCAS).
package casconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casregistry"
)

const (
	WriteFirst = "first"
	WriteAll   = "all"
)

type Config struct {
	WritePolicy string          `yaml:"write_policy,omitempty" json:"write_policy,omitempty"`
	Backends    []BackendConfig `yaml:"backends" json:"backends"`
}

type BackendConfig struct {
	// Name is the casregistry backend to open ("localfs", "grpc").
	Name string `yaml:"name" json:"name"`
	// ID distinguishes two backends of the same kind; defaults to Name.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
	// Config holds backend settings keyed by their flag names.
	Config map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// LoadFile reads a YAML (or JSON) storage config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("casconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("casconfig: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("casconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("casconfig: backend name is required")
		}
		if _, dup := seen[b.id()]; dup {
			return fmt.Errorf("casconfig: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every configured backend and combines them per WritePolicy.
// A non-empty preferred (name or id) is moved to the front so it receives
// writes under the "first" policy. The returned func closes all backends.
func (c Config) Open(usage casregistry.Usage, preferred string) (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	ordered, err := c.ordered(preferred)
	if err != nil {
		return nil, nil, err
	}

	var closers []func() error
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	named := make([]storage.NamedCAS, 0, len(ordered))
	for _, b := range ordered {
		cas, closeFn, err := casregistry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("casconfig: open %q: %w", b.id(), err)
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		named = append(named, storage.NamedCAS{Name: b.id(), CAS: cas})
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return storage.ReplicatingCAS{Backends: named}, closeAll, nil
	}
	adapters := make([]storage.CAS, len(named))
	for i, n := range named {
		adapters[i] = n.CAS
	}
	return storage.MultiCAS{Adapters: adapters}, closeAll, nil
}

func (c Config) ordered(preferred string) ([]BackendConfig, error) {
	out := append([]BackendConfig(nil), c.Backends...)
	if preferred == "" {
		return out, nil
	}
	for i, b := range out {
		if b.Name == preferred || b.ID == preferred {
			copy(out[1:i+1], out[:i])
			out[0] = b
			return out, nil
		}
	}
	return nil, fmt.Errorf("casconfig: preferred backend %q not found in config", preferred)
}
