package bundle_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"testing"
	"time"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/storage"
	"virtius.io/virtius/storage/bundle"
	"virtius.io/virtius/storage/localfs"
)

func newStore(t *testing.T) *localfs.CAS {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return cas
}

func putNamed(t *testing.T, cas storage.CAS, name string, data []byte) storage.Locator {
	t.Helper()
	loc, err := storage.PutNamed(cas, name, data)
	if err != nil {
		t.Fatalf("PutNamed(%s): %v", name, err)
	}
	return loc
}

func TestExport_IsDeterministic(t *testing.T) {
	cas := newStore(t)
	a := putNamed(t, cas, "a_protected.png", []byte("protected image"))
	b := putNamed(t, cas, "a_certificate.json", []byte(`{"version":"1.0"}`))

	var first, second bytes.Buffer
	if err := bundle.Export(&first, cas, []storage.Locator{b, a}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := bundle.Export(&second, cas, []storage.Locator{a, b, a}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("expected identical bundle bytes regardless of locator order")
	}
}

func TestImport_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		src := newStore(t)
		img := putNamed(t, src, "x_protected.png", []byte("pixels"))
		cert := putNamed(t, src, "x_certificate.json", []byte("certificate"))

		var buf bytes.Buffer
		opts := bundle.ExportOptions{IncludeIndex: true, Compress: compress}
		if err := bundle.Export(&buf, src, []storage.Locator{img, cert}, opts); err != nil {
			t.Fatalf("compress=%v: Export: %v", compress, err)
		}

		dst := newStore(t)
		m, err := bundle.Import(bytes.NewReader(buf.Bytes()), dst)
		if err != nil {
			t.Fatalf("compress=%v: Import: %v", compress, err)
		}
		if len(m.Blobs) != 2 || len(m.Locators) != 2 {
			t.Fatalf("compress=%v: unexpected manifest %+v", compress, m)
		}
		for _, l := range m.Locators {
			got, err := storage.GetNamed(dst, l)
			if err != nil {
				t.Fatalf("compress=%v: GetNamed(%s): %v", compress, l, err)
			}
			want, _ := storage.GetNamed(src, l)
			if !bytes.Equal(got, want) {
				t.Fatalf("compress=%v: payload mismatch for %s", compress, l.Name)
			}
		}
	}
}

func TestImport_RejectsCIDMismatch(t *testing.T) {
	other, err := cidutil.CIDv1RawSHA256CID([]byte("other"))
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	data := tarWith(t, "blobs/"+other.String(), []byte("good"))
	if _, err := bundle.Import(bytes.NewReader(data), newStore(t)); !errors.Is(err, storage.ErrCIDMismatch) {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}

func TestImport_UnknownEntries(t *testing.T) {
	data := tarWith(t, "notes.txt", []byte("hello"))
	if _, err := bundle.Import(bytes.NewReader(data), newStore(t)); err == nil {
		t.Fatalf("expected unknown entry to fail the import")
	}
	m, err := bundle.ImportWithOptions(bytes.NewReader(data), newStore(t), bundle.ImportOptions{IgnoreUnknown: true})
	if err != nil {
		t.Fatalf("ImportWithOptions: %v", err)
	}
	if len(m.Blobs) != 0 {
		t.Fatalf("expected no blobs, got %d", len(m.Blobs))
	}
}

func TestImport_RejectsPathEscape(t *testing.T) {
	data := tarWith(t, "../blobs/x", []byte("x"))
	if _, err := bundle.Import(bytes.NewReader(data), newStore(t)); err == nil {
		t.Fatalf("expected path escape to be rejected")
	}
}

func tarWith(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
