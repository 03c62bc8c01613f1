// Package bundle moves protected artifacts between stores as a single
// deterministic TAR stream, optionally zstd-compressed.
//
// Layout:
//
//	blobs/<cid>   raw blob bytes, one entry per distinct CID
//	index.json    optional; the locators (name -> cid) that were exported
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/storage"
)

// FormatVersion is the index.json schema version.
const FormatVersion = 1

const (
	blobDir   = "blobs/"
	indexName = "index.json"
)

var (
	epoch     = time.Unix(0, 0).UTC()
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ExportOptions controls Export.
type ExportOptions struct {
	// IncludeIndex adds index.json carrying the exported locators.
	IncludeIndex bool
	// Compress wraps the TAR stream in zstd.
	Compress bool
}

// Manifest is what Import recovered from a bundle.
type Manifest struct {
	Version int
	// Locators is empty when the bundle carried no index.
	Locators []storage.Locator
	// Blobs lists every imported CID in bundle order.
	Blobs []cid.Cid
}

// Export writes the blobs named by locs to w. Entry order and TAR headers
// are normalised so the same locators always yield the same bytes. Every
// blob is re-hashed against its CID before it is written.
func Export(w io.Writer, cas storage.CAS, locs []storage.Locator, opts ExportOptions) (err error) {
	if cas == nil {
		return errors.New("bundle: nil CAS")
	}

	if opts.Compress {
		enc, zerr := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if zerr != nil {
			return fmt.Errorf("bundle: zstd: %w", zerr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}

	byCID := make(map[string]cid.Cid, len(locs))
	for _, l := range locs {
		if !l.CID.Defined() {
			return storage.ErrInvalidCID
		}
		byCID[l.CID.String()] = l.CID
	}
	ids := make([]string, 0, len(byCID))
	for s := range byCID {
		ids = append(ids, s)
	}
	sort.Strings(ids)

	tw := tar.NewWriter(w)
	sizes := make(map[string]int, len(ids))
	for _, s := range ids {
		b, err := cas.Get(byCID[s])
		if err != nil {
			_ = tw.Close()
			return err
		}
		if got := cidutil.CIDv1RawSHA256(b); got != s {
			_ = tw.Close()
			return storage.ErrCIDMismatch
		}
		if err := writeEntry(tw, blobDir+s, b); err != nil {
			_ = tw.Close()
			return err
		}
		sizes[s] = len(b)
	}

	if opts.IncludeIndex {
		b, err := renderIndex(locs, sizes)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeEntry(tw, indexName, b); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// ImportOptions controls Import.
type ImportOptions struct {
	// IgnoreUnknown skips entries outside the bundle layout instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle (plain or zstd) into cas. Unknown entries fail the import.
func Import(r io.Reader, cas storage.CAS) (*Manifest, error) {
	return ImportWithOptions(r, cas, ImportOptions{})
}

// ImportWithOptions is Import with explicit options. Each blob must hash to
// the CID in its entry name.
func ImportWithOptions(r io.Reader, cas storage.CAS, opts ImportOptions) (*Manifest, error) {
	if cas == nil {
		return nil, errors.New("bundle: nil CAS")
	}

	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("bundle: zstd: %w", err)
		}
		defer dec.Close()
		r = dec
	} else {
		r = br
	}

	m := &Manifest{Version: FormatVersion}
	seen := map[string]struct{}{}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		name := cleanEntryName(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == indexName:
			if err := readIndex(tr, m); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, blobDir):
			id, err := importBlob(tr, strings.TrimPrefix(name, blobDir), cas, seen)
			if err != nil {
				return nil, err
			}
			m.Blobs = append(m.Blobs, id)
		case opts.IgnoreUnknown:
			_, _ = io.Copy(io.Discard, tr)
		default:
			return nil, fmt.Errorf("bundle: unknown entry %s", name)
		}
	}
}

func importBlob(r io.Reader, idStr string, cas storage.CAS, seen map[string]struct{}) (cid.Cid, error) {
	id, err := cid.Decode(idStr)
	if err != nil || !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}
	if _, dup := seen[id.String()]; dup {
		return cid.Undef, fmt.Errorf("bundle: duplicate blob %s", id)
	}
	seen[id.String()] = struct{}{}

	payload, err := io.ReadAll(r)
	if err != nil {
		return cid.Undef, err
	}
	if cidutil.CIDv1RawSHA256(payload) != id.String() {
		return cid.Undef, storage.ErrCIDMismatch
	}
	got, err := cas.Put(payload)
	if err != nil {
		return cid.Undef, err
	}
	if got != id {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

type index struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cid_codec"`
	Multihash string       `json:"multihash"`
	Entries   []indexEntry `json:"entries"`
}

type indexEntry struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

func renderIndex(locs []storage.Locator, sizes map[string]int) ([]byte, error) {
	entries := make([]indexEntry, 0, len(locs))
	seen := map[indexEntry]struct{}{}
	for _, l := range locs {
		e := indexEntry{Name: l.Name, CID: l.CID.String(), Size: sizes[l.CID.String()]}
		if e.Name == "" {
			return nil, errors.New("bundle: locator without a name")
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].CID < entries[j].CID
	})
	b, err := json.Marshal(index{Version: FormatVersion, CIDCodec: "raw", Multihash: "sha2-256", Entries: entries})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readIndex(r io.Reader, m *Manifest) error {
	var idx index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return fmt.Errorf("bundle: index: %w", err)
	}
	if idx.Version != FormatVersion {
		return fmt.Errorf("bundle: unsupported index version %d", idx.Version)
	}
	m.Version = idx.Version
	for _, e := range idx.Entries {
		l, err := storage.ParseLocator(storage.LocatorScheme + e.CID + "/" + e.Name)
		if err != nil {
			return fmt.Errorf("bundle: index: %w", err)
		}
		m.Locators = append(m.Locators, l)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

// cleanEntryName normalises a TAR path and rejects anything that could
// escape the bundle root.
func cleanEntryName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return path.Clean(name)
}
