package casconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/casconfig"
	"virtius.io/virtius/storage/casregistry"
	_ "virtius.io/virtius/storage/localfs"
)

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "storage.yaml")
	doc := "write_policy: all\nbackends:\n  - name: localfs\n    id: hot\n    config: {localfs-dir: " + filepath.Join(dir, "a") + "}\n  - name: localfs\n    id: cold\n    config: {localfs-dir: " + filepath.Join(dir, "b") + "}\n"
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := casconfig.LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.WritePolicy != casconfig.WriteAll || len(cfg.Backends) != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cas, closeFn, err := cfg.Open(casregistry.UsageCLI, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	rep, ok := cas.(storage.ReplicatingCAS)
	if !ok {
		t.Fatalf("expected ReplicatingCAS, got %T", cas)
	}
	id, perBackend, err := rep.PutAll([]byte("replicated"))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if perBackend["hot"] != id || perBackend["cold"] != id {
		t.Fatalf("expected both backends to report %s, got %v", id, perBackend)
	}
}

func TestOpen_PreferredBackendReceivesWrites(t *testing.T) {
	dir := t.TempDir()
	cfg := casconfig.Config{Backends: []casconfig.BackendConfig{
		{Name: "localfs", ID: "a", Config: map[string]string{"localfs-dir": filepath.Join(dir, "a")}},
		{Name: "localfs", ID: "b", Config: map[string]string{"localfs-dir": filepath.Join(dir, "b")}},
	}}
	cas, closeFn, err := cfg.Open(casregistry.UsageCLI, "b")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()

	if _, err := cas.Put([]byte("to b")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no writes to backend a")
	}
	entries, err = os.ReadDir(filepath.Join(dir, "b"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one shard dir in backend b, got %d", len(entries))
	}

	if _, _, err := cfg.Open(casregistry.UsageCLI, "missing"); err == nil {
		t.Fatalf("expected unknown preferred backend to fail")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]casconfig.Config{
		"empty":     {},
		"no name":   {Backends: []casconfig.BackendConfig{{}}},
		"duplicate": {Backends: []casconfig.BackendConfig{{Name: "localfs"}, {Name: "localfs"}}},
		"policy":    {WritePolicy: "some", Backends: []casconfig.BackendConfig{{Name: "localfs"}}},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
