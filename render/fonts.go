package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flanksource/commons/logger"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/weddinglabs/cardpress/api"
)

// Variant identifies a weight/slant combination within a font family.
type Variant uint8

const (
	Regular Variant = iota
	Bold
	Italic
	BoldItalic
)

func variantOf(bold, italic bool) Variant {
	switch {
	case bold && italic:
		return BoldItalic
	case bold:
		return Bold
	case italic:
		return Italic
	default:
		return Regular
	}
}

func (v Variant) String() string {
	switch v {
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	case BoldItalic:
		return "bolditalic"
	default:
		return "regular"
	}
}

type faceKey struct {
	family  string
	variant Variant
	size    float64
}

type fontFamily struct {
	variants map[Variant]*opentype.Font
}

// pick returns the closest registered variant: exact match first, then the
// same weight without the slant, then regular, then anything.
func (f *fontFamily) pick(v Variant) *opentype.Font {
	candidates := []Variant{v}
	if v == BoldItalic {
		candidates = append(candidates, Bold)
	}
	candidates = append(candidates, Regular)
	for _, cand := range candidates {
		if sf, ok := f.variants[cand]; ok {
			return sf
		}
	}
	for _, sf := range f.variants {
		return sf
	}
	return nil
}

// FontRegistry maps font family names to parsed font programs and caches
// faces per (family, variant, size). Families the user never registered
// resolve to the embedded Go fonts so text always renders with real glyphs,
// but the substitution is reported by EnsureLoaded rather than silently
// applied mid-batch.
type FontRegistry struct {
	mu       sync.Mutex
	families map[string]*fontFamily
	fallback *fontFamily
	faces    map[faceKey]font.Face
}

// NewFontRegistry creates a registry with the embedded Go font family as
// fallback.
func NewFontRegistry() *FontRegistry {
	fallback := &fontFamily{variants: map[Variant]*opentype.Font{}}
	for v, ttf := range map[Variant][]byte{
		Regular:    goregular.TTF,
		Bold:       gobold.TTF,
		Italic:     goitalic.TTF,
		BoldItalic: gobolditalic.TTF,
	} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			// The embedded fonts are known-good; a parse failure here is a
			// build problem, not a runtime condition.
			panic(fmt.Sprintf("parse embedded font: %v", err))
		}
		fallback.variants[v] = f
	}
	return &FontRegistry{
		families: map[string]*fontFamily{},
		fallback: fallback,
		faces:    map[faceKey]font.Face{},
	}
}

// Register parses and stores one TTF/OTF program for a family variant.
func (r *FontRegistry) Register(family string, variant Variant, data []byte) error {
	parsed, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s (%s): %w", family, variant, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fam, ok := r.families[family]
	if !ok {
		fam = &fontFamily{variants: map[Variant]*opentype.Font{}}
		r.families[family] = fam
	}
	fam.variants[variant] = parsed
	return nil
}

// RegisterFile loads a font file, deriving family and variant from the
// file name: "Noto Sans Gujarati-Bold.ttf" registers the Bold variant of
// "Noto Sans Gujarati".
func (r *FontRegistry) RegisterFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font file: %w", err)
	}
	family, variant := parseFontFileName(filepath.Base(path))
	return r.Register(family, variant, data)
}

// RegisterDir loads every .ttf/.otf file in a directory.
func (r *FontRegistry) RegisterDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read font dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".ttf", ".otf":
			if err := r.RegisterFile(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseFontFileName(name string) (family string, variant Variant) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	variant = Regular
	if idx := strings.LastIndex(base, "-"); idx > 0 {
		switch strings.ToLower(base[idx+1:]) {
		case "bold":
			variant = Bold
			base = base[:idx]
		case "italic", "oblique":
			variant = Italic
			base = base[:idx]
		case "bolditalic", "boldoblique":
			variant = BoldItalic
			base = base[:idx]
		case "regular":
			base = base[:idx]
		}
	}
	return base, variant
}

// Has reports whether a family was explicitly registered.
func (r *FontRegistry) Has(family string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.families[family]
	return ok
}

// Face returns a cached face for the family/style at the given pixel size.
// Unknown families resolve to the embedded fallback; missing variants
// degrade toward the regular cut of the same family.
func (r *FontRegistry) Face(family string, bold, italic bool, size float64) (font.Face, error) {
	if size <= 0 {
		return nil, fmt.Errorf("font size must be positive, got %v", size)
	}
	variant := variantOf(bold, italic)
	key := faceKey{family: family, variant: variant, size: size}

	r.mu.Lock()
	defer r.mu.Unlock()
	if face, ok := r.faces[key]; ok {
		return face, nil
	}

	fam, ok := r.families[family]
	if !ok {
		fam = r.fallback
	}
	program := fam.pick(variant)
	if program == nil {
		return nil, fmt.Errorf("font family %q has no usable variants", family)
	}

	// 72 DPI makes point size equal pixel size.
	face, err := opentype.NewFace(program, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create face %s (%s) @%v: %w", family, variant, size, err)
	}
	r.faces[key] = face
	return face, nil
}

// WarmReport describes the outcome of a font warm-up pass.
type WarmReport struct {
	Families []string
	// Substituted lists families that were not registered and will render
	// with the embedded fallback.
	Substituted []string
	MaxSize     float64
}

// EnsureLoaded is the font readiness gate. It resolves every family/weight
// combination used by text-drawing pages at the batch's maximum font size,
// before the first page is rasterized, so a late-loading font can never be
// silently substituted partway through a run. It must be called exactly
// once per batch.
func (r *FontRegistry) EnsureLoaded(ctx context.Context, snap *api.Snapshot) (WarmReport, error) {
	report := WarmReport{
		Families: snap.FontFamilies(),
		MaxSize:  snap.MaxFontSize() * snap.Options.Scale,
	}
	for _, family := range report.Families {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !r.Has(family) {
			report.Substituted = append(report.Substituted, family)
			logger.Warnf("font family %q not registered, using embedded fallback", family)
		}
		// Warm normal and bold weights at the maximum size, the two weights
		// any page can request for its primary slot.
		for _, bold := range []bool{false, true} {
			if _, err := r.Face(family, bold, false, report.MaxSize); err != nil {
				return report, fmt.Errorf("warm font %q: %w", family, err)
			}
		}
	}
	return report, nil
}
