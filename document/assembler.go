// Package document assembles composited page rasters into per-guest PDF
// documents on a fixed physical page format.
package document

import (
	"context"
	"fmt"
	"image"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	imagecomponent "github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/render"
)

// A4 portrait, the fixed physical output format.
const (
	PageWidthMM  = 210.0
	PageHeightMM = 297.0
	// Design page size in points; the raster target is this times the
	// quality scale factor.
	PageWidthPt  = 595.28
	PageHeightPt = 841.89
)

// RasterTarget returns the pixel dimensions of a page raster at the given
// quality scale.
func RasterTarget(scale float64) (w, h int) {
	return int(PageWidthPt*scale + 0.5), int(PageHeightPt*scale + 0.5)
}

// Compositor abstracts page rasterization so tests can instrument call
// order and inputs. *render.Compositor is the production implementation.
type Compositor interface {
	ComposePage(ctx context.Context, tpl *api.TemplateImage, targetW, targetH int, scale float64, entries []render.TextEntry) (*image.NRGBA, error)
}

// Document is one generated PDF keyed by guest name.
type Document struct {
	Guest string
	// Page is 1-based when the document holds a single page of a
	// multi-page set (separate-pages mode); zero for merged documents.
	Page  int
	Bytes []byte
	Pages int
}

// Assembler builds per-guest documents by invoking the compositor once per
// ordered page and stacking the rasters onto A4 pages.
type Assembler struct {
	comp Compositor
}

// NewAssembler creates an assembler over the given compositor.
func NewAssembler(comp Compositor) *Assembler {
	return &Assembler{comp: comp}
}

// Assemble produces one multi-page document for one guest. Pages follow the
// snapshot's order-sorted config sequence; every config contributes a page,
// text drawing gated per slot. onPage, when non-nil, is invoked after each
// page raster completes. Any page failure aborts the whole document.
func (a *Assembler) Assemble(ctx context.Context, snap *api.Snapshot, guestName string, onPage func()) (*Document, error) {
	pages := snap.OrderedPages()
	m := newPageDocument()

	for _, cfg := range pages {
		encoded, ext, err := a.renderPage(ctx, snap, cfg, guestName)
		if err != nil {
			return nil, err
		}
		addFullPage(m, encoded, ext)
		if onPage != nil {
			onPage()
		}
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate document for %q: %w", guestName, err)
	}
	return &Document{Guest: guestName, Bytes: out.GetBytes(), Pages: len(pages)}, nil
}

// AssembleSeparate produces one single-page document per ordered page, for
// the separate-pages output mode.
func (a *Assembler) AssembleSeparate(ctx context.Context, snap *api.Snapshot, guestName string, onPage func()) ([]*Document, error) {
	pages := snap.OrderedPages()
	docs := make([]*Document, 0, len(pages))

	for i, cfg := range pages {
		encoded, ext, err := a.renderPage(ctx, snap, cfg, guestName)
		if err != nil {
			return nil, err
		}
		m := newPageDocument()
		addFullPage(m, encoded, ext)
		out, err := m.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate page %d for %q: %w", i+1, guestName, err)
		}
		docs = append(docs, &Document{Guest: guestName, Page: i + 1, Bytes: out.GetBytes(), Pages: 1})
		if onPage != nil {
			onPage()
		}
	}
	return docs, nil
}

// renderPage composites and encodes a single page raster. The raster is
// released as soon as it is encoded; only the compressed bytes travel
// further, keeping peak memory bounded by one in-flight raster.
func (a *Assembler) renderPage(ctx context.Context, snap *api.Snapshot, cfg api.PlacementConfig, guestName string) ([]byte, extension.Type, error) {
	tpl := snap.Images[cfg.ImageIndex]
	targetW, targetH := RasterTarget(snap.Options.Scale)

	raster, err := a.comp.ComposePage(ctx, tpl, targetW, targetH, snap.Options.Scale, render.PageEntries(cfg, guestName))
	if err != nil {
		return nil, "", err
	}

	format := snap.PageFormat()
	encoded, err := render.EncodePage(raster, format, snap.Options.JPEGQuality)
	if err != nil {
		return nil, "", err
	}

	ext := extension.Jpg
	if format == api.FormatPNG {
		ext = extension.Png
	}
	return encoded, ext, nil
}

// newPageDocument creates a zero-margin A4 portrait maroto document.
func newPageDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(0).
		WithRightMargin(0).
		WithTopMargin(0).
		WithBottomMargin(0).
		Build()
	return maroto.New(cfg)
}

// addFullPage adds one raster as a full A4 page. The raster already carries
// the page's aspect ratio (letterboxing happened during compositing), and
// the centered percent fit keeps any residual rounding mismatch from
// stretching it.
func addFullPage(m core.Maroto, encoded []byte, ext extension.Type) {
	img := imagecomponent.NewFromBytes(encoded, ext, props.Rect{
		Center:  true,
		Percent: 100,
	})
	m.AddRows(row.New(PageHeightMM).Add(col.New(12).Add(img)))
}
