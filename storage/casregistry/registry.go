// Package casregistry links storage backends into a binary at build time.
//
// A backend registers itself from init() and is enabled by importing its
// package, usually as a blank import in main:
//
//	import _ "virtius.io/virtius/storage/localfs"
package casregistry

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"virtius.io/virtius/storage"
)

// Backend describes one pluggable storage.CAS implementation.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// RegisterFlags binds the backend's settings to fs. Values parsed into
	// fs are what Open reads.
	RegisterFlags func(fs *flag.FlagSet)

	// Open builds the store from the bound settings and may return a close func.
	Open func() (storage.CAS, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register adds b. Names must be unique.
func Register(b Backend) error {
	switch {
	case b.Name == "":
		return fmt.Errorf("casregistry: backend name is required")
	case b.RegisterFlags == nil:
		return fmt.Errorf("casregistry: backend %q missing RegisterFlags", b.Name)
	case b.Open == nil:
		return fmt.Errorf("casregistry: backend %q missing Open", b.Name)
	case b.Usage == 0:
		return fmt.Errorf("casregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("casregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is Register for init(); it panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends available for usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of backends available for usage.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags binds every backend's flags to fs so one flag pass can
// configure whichever backend is selected.
func RegisterFlags(fs *flag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		b.RegisterFlags(fs)
	}
}

// Open opens the named backend using values already parsed into its flags.
func Open(name string, usage Usage) (storage.CAS, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	return b.Open()
}

// OpenWithConfig opens the named backend with settings keyed by flag name
// (for example {"localfs-dir": "/var/lib/virtius/cas"}). Unset flags keep
// their defaults. Unknown keys are rejected.
func OpenWithConfig(name string, usage Usage, cfg map[string]string) (storage.CAS, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	b.RegisterFlags(fs)
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fs.Lookup(k) == nil {
			return nil, nil, fmt.Errorf("casregistry: backend %q has no setting %q", name, k)
		}
		if err := fs.Set(k, cfg[k]); err != nil {
			return nil, nil, fmt.Errorf("casregistry: backend %q setting %q: %w", name, k, err)
		}
	}
	return b.Open()
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("casregistry: unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("casregistry: backend %q not supported in this binary", name)
	}
	return b, nil
}
