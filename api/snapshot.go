package api

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Input validation errors, reported before any rendering begins. They are
// distinct from mid-run failures so callers can surface them differently.
var (
	ErrNoGuests     = errors.New("no guest names supplied")
	ErrNoPages      = errors.New("no template pages supplied")
	ErrNoPlacements = errors.New("no placement draws any text")
)

// OutputFormat selects the page raster encoding inside the generated PDFs.
type OutputFormat string

const (
	// FormatAuto uses PNG for small batches and switches to high-quality
	// JPEG once the page volume makes PNG size the bottleneck.
	FormatAuto OutputFormat = "auto"
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
)

// NamingPattern selects how archive entries are named.
type NamingPattern string

const (
	// NamingByGuest names files after the guest ("Amit Patel.pdf").
	NamingByGuest NamingPattern = "name"
	// NamingByNumber names files sequentially ("Card_001.pdf").
	NamingByNumber NamingPattern = "number"
)

// AutoFormatThreshold is the total page count above which FormatAuto
// switches from PNG to JPEG page rasters.
const AutoFormatThreshold = 50

// RunOptions are the tunables of a batch run.
type RunOptions struct {
	// Scale multiplies the physical page dimensions when rasterizing,
	// trading memory and time for sharpness.
	Scale float64 `json:"scale" yaml:"scale"`
	// JPEGQuality in [1,100]; applied when pages encode as JPEG.
	JPEGQuality int          `json:"jpegQuality" yaml:"jpegQuality"`
	Format      OutputFormat `json:"format" yaml:"format"`
	Naming      NamingPattern `json:"naming" yaml:"naming"`
	// SeparatePages emits one single-page document per (guest, page) instead
	// of bundling a guest's pages into one document.
	SeparatePages bool `json:"separatePages" yaml:"separatePages"`
	// YieldEvery overrides the cooperative yield cadence (guests between
	// yields). Zero selects an automatic cadence from the batch size.
	YieldEvery int `json:"yieldEvery" yaml:"yieldEvery"`
}

// DefaultRunOptions mirrors the original generator: 4x supersampling and
// JPEG quality 92.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Scale:       4,
		JPEGQuality: 92,
		Format:      FormatAuto,
		Naming:      NamingByGuest,
	}
}

func (o RunOptions) withDefaults() RunOptions {
	def := DefaultRunOptions()
	if o.Scale < 1 {
		o.Scale = def.Scale
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = def.JPEGQuality
	}
	if o.Format == "" {
		o.Format = def.Format
	}
	if o.Naming == "" {
		o.Naming = def.Naming
	}
	return o
}

// Snapshot is the immutable input of one batch run. The pipeline only ever
// reads a Snapshot, never live editor state, so concurrent edits during a
// run cannot skew the output.
type Snapshot struct {
	Names   []string
	Images  []*TemplateImage
	Configs []PlacementConfig
	Options RunOptions
}

// NewSnapshot validates and deep-copies the run input.
//
// Invariants enforced: at least one non-empty guest name, at least one
// template page, at least one placement that draws text, exactly one config
// per image index, all anchors in range, and Order values (when present)
// forming a permutation of 0..N-1.
func NewSnapshot(names []string, images []*TemplateImage, configs []PlacementConfig, opts RunOptions) (*Snapshot, error) {
	names = lo.Filter(names, func(n string, _ int) bool { return n != "" })
	if len(names) == 0 {
		return nil, ErrNoGuests
	}
	if len(images) == 0 || len(configs) == 0 {
		return nil, ErrNoPages
	}
	if !lo.SomeBy(configs, PlacementConfig.DrawsText) {
		return nil, ErrNoPlacements
	}

	seen := map[int]bool{}
	orders := map[int]bool{}
	withOrder := 0
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if c.ImageIndex < 0 || c.ImageIndex >= len(images) {
			return nil, fmt.Errorf("placement references image %d of %d", c.ImageIndex, len(images))
		}
		if seen[c.ImageIndex] {
			return nil, fmt.Errorf("duplicate placement for image %d", c.ImageIndex)
		}
		seen[c.ImageIndex] = true
		if c.Order != nil {
			withOrder++
			if *c.Order < 0 || *c.Order >= len(configs) || orders[*c.Order] {
				return nil, fmt.Errorf("order values must form a permutation of 0..%d", len(configs)-1)
			}
			orders[*c.Order] = true
		}
	}
	if withOrder != 0 && withOrder != len(configs) {
		return nil, fmt.Errorf("order must be set on all placements or none")
	}

	return &Snapshot{
		Names:   append([]string(nil), names...),
		Images:  images,
		Configs: append([]PlacementConfig(nil), configs...),
		Options: opts.withDefaults(),
	}, nil
}

// OrderedPages returns all placement configs in output page order: Order
// ascending when present, ImageIndex otherwise, stable with ties broken by
// original sequence position.
func (s *Snapshot) OrderedPages() []PlacementConfig {
	pages := append([]PlacementConfig(nil), s.Configs...)
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].SortKey() < pages[j].SortKey()
	})
	return pages
}

// PagesPerGuest is the number of pages each generated document holds.
func (s *Snapshot) PagesPerGuest() int {
	return len(s.Configs)
}

// TotalPages is guests x pages, the progress denominator.
func (s *Snapshot) TotalPages() int {
	return len(s.Names) * s.PagesPerGuest()
}

// PageFormat resolves FormatAuto against the batch volume.
func (s *Snapshot) PageFormat() OutputFormat {
	if s.Options.Format != FormatAuto {
		return s.Options.Format
	}
	if s.TotalPages() > AutoFormatThreshold {
		return FormatJPEG
	}
	return FormatPNG
}

// FontFamilies returns the distinct font families referenced by pages that
// draw text, in first-use order.
func (s *Snapshot) FontFamilies() []string {
	families := lo.FilterMap(s.Configs, func(c PlacementConfig, _ int) (string, bool) {
		return c.FontFamily, c.DrawsText() && c.FontFamily != ""
	})
	return lo.Uniq(families)
}

// MaxFontSize returns the largest font size among text-drawing pages, with
// the same floor the original font loader used.
func (s *Snapshot) MaxFontSize() float64 {
	max := 16.0
	for _, c := range s.Configs {
		if c.DrawsText() && c.FontSize > max {
			max = c.FontSize
		}
	}
	return max
}
