// Package archive bundles generated documents into a single compressed ZIP
// blob, the sole durable output of a batch run.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"strings"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/document"
)

// Builder collects named documents in order and compresses them into one
// ZIP on Bytes. Entries are held uncompressed until then, matching the
// pipeline's render-then-archive phasing.
type Builder struct {
	naming  api.NamingPattern
	entries []entry
	used    map[string]int
	// groups counts document groups: one per merged document, one per run
	// of single-page documents belonging to the same guest.
	groups int
}

type entry struct {
	name string
	data []byte
}

// NewBuilder creates a builder using the given file naming pattern.
func NewBuilder(naming api.NamingPattern) *Builder {
	if naming == "" {
		naming = api.NamingByGuest
	}
	return &Builder{naming: naming, used: map[string]int{}}
}

// Add appends one document under its resolved file name.
func (b *Builder) Add(doc *document.Document) {
	b.entries = append(b.entries, entry{name: b.fileName(doc), data: doc.Bytes})
}

// Len returns the number of archive entries so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// fileName resolves a document to its archive entry name. The guest name is
// used verbatim; guests sharing a literal name are disambiguated with a
// numeric suffix rather than silently overwritten.
func (b *Builder) fileName(doc *document.Document) string {
	// Page <= 1 starts a new group: a merged document (Page 0) or the
	// first page of a guest's separate-page run.
	if doc.Page <= 1 {
		b.groups++
	}
	var base string
	switch b.naming {
	case api.NamingByNumber:
		base = fmt.Sprintf("Card_%03d", b.groups)
	default:
		base = strings.TrimSpace(doc.Guest)
		if base == "" {
			base = fmt.Sprintf("Card_%03d", b.groups)
		}
	}
	if doc.Page > 0 {
		base = fmt.Sprintf("%s_page%d", base, doc.Page)
	}

	b.used[base]++
	if n := b.used[base]; n > 1 {
		base = fmt.Sprintf("%s_%d", base, n)
	}
	return base + ".pdf"
}

// Bytes compresses all entries into a single ZIP blob with maximum
// compression effort.
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo streams the compressed archive to w.
func (b *Builder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, e := range b.entries {
		f, err := zw.Create(e.name)
		if err != nil {
			zw.Close()
			return fmt.Errorf("create archive entry %q: %w", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			zw.Close()
			return fmt.Errorf("write archive entry %q: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
