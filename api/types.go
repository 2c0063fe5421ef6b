// Package api defines the core value types of the card rendering pipeline:
// template images, text placement configurations and the immutable run
// snapshot that the batch pipeline consumes.
package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"
)

// TemplateImage is one uploaded card background page. The raw encoded bytes
// are kept as-is; the decoded pixels and natural dimensions are resolved
// lazily and cached. Decode, Size and Release are safe for concurrent use:
// a preview request may decode the same image a running batch is about to
// release.
type TemplateImage struct {
	Name string
	Data []byte

	mu      sync.Mutex
	decoded image.Image
	width   int
	height  int
}

// NewTemplateImage wraps encoded image bytes. Data-URL payloads
// ("data:image/png;base64,....") are unwrapped to their raw bytes so that
// uploads coming straight from a browser canvas work unchanged.
func NewTemplateImage(name string, data []byte) (*TemplateImage, error) {
	if s := string(data); strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("template %q: malformed data URL", name)
		}
		raw, err := base64.StdEncoding.DecodeString(s[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("template %q: decode data URL: %w", name, err)
		}
		data = raw
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("template %q: empty image data", name)
	}
	return &TemplateImage{Name: name, Data: data}, nil
}

// Decode returns the decoded pixels, decoding on first use.
func (t *TemplateImage) Decode() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decodeLocked()
}

func (t *TemplateImage) decodeLocked() (image.Image, error) {
	if t.decoded != nil {
		return t.decoded, nil
	}
	img, _, err := image.Decode(bytes.NewReader(t.Data))
	if err != nil {
		return nil, fmt.Errorf("decode template %q: %w", t.Name, err)
	}
	t.decoded = img
	b := img.Bounds()
	t.width, t.height = b.Dx(), b.Dy()
	return img, nil
}

// Size returns the natural pixel dimensions, decoding if necessary.
func (t *TemplateImage) Size() (w, h int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.decodeLocked(); err != nil {
		return 0, 0, err
	}
	return t.width, t.height, nil
}

// Release drops the decoded pixels, keeping only the encoded bytes.
func (t *TemplateImage) Release() {
	t.mu.Lock()
	t.decoded = nil
	t.mu.Unlock()
}

// PlacementConfig holds the text placement settings for one template image.
// Anchor coordinates are percentages ([0,100]) of the contain-fit render
// rectangle, not of the raw image or the viewport, so they are resolution
// independent.
type PlacementConfig struct {
	ImageIndex int  `json:"imageIndex" yaml:"imageIndex"`
	Order      *int `json:"order,omitempty" yaml:"order,omitempty"`

	// Enabled gates the primary (per-guest) text slot only. A config with
	// Enabled=false still contributes its template image as a page.
	Enabled bool    `json:"enabled" yaml:"enabled"`
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`

	// Optional static secondary text block with its own anchor.
	ExtraText string   `json:"extraText,omitempty" yaml:"extraText,omitempty"`
	ExtraX    *float64 `json:"extraX,omitempty" yaml:"extraX,omitempty"`
	ExtraY    *float64 `json:"extraY,omitempty" yaml:"extraY,omitempty"`

	// FontSize is in pixels relative to the design render height; the
	// compositor multiplies it by the raster scale factor.
	FontSize   float64 `json:"fontSize" yaml:"fontSize"`
	FontFamily string  `json:"fontFamily" yaml:"fontFamily"`
	FontColor  string  `json:"fontColor" yaml:"fontColor"`
	Bold       bool    `json:"bold" yaml:"bold"`
	Italic     bool    `json:"italic" yaml:"italic"`
	Underline  bool    `json:"underline" yaml:"underline"`

	// Locked refuses further position mutation in the editor. It has no
	// effect on rendering.
	Locked bool `json:"locked" yaml:"locked"`

	// SampleText overrides the preview text for the primary slot and is the
	// fallback when a guest name is empty.
	SampleText string `json:"sampleText,omitempty" yaml:"sampleText,omitempty"`
}

// Editor defaults, matching the placement editor's initial state.
const (
	DefaultAnchorX    = 50.0
	DefaultAnchorY    = 50.0
	DefaultExtraX     = 50.0
	DefaultExtraY     = 60.0
	DefaultFontSize   = 24.0
	DefaultFontFamily = "Noto Sans Gujarati"
	DefaultFontColor  = "#000000"
)

// DefaultPlacement returns the initial configuration for a freshly uploaded
// template image.
func DefaultPlacement(imageIndex int) PlacementConfig {
	return PlacementConfig{
		ImageIndex: imageIndex,
		X:          DefaultAnchorX,
		Y:          DefaultAnchorY,
		FontSize:   DefaultFontSize,
		FontFamily: DefaultFontFamily,
		FontColor:  DefaultFontColor,
	}
}

// DrawsText reports whether this page renders any text at all, which is the
// canonical page-set predicate used by both preview and final output.
func (c PlacementConfig) DrawsText() bool {
	return c.Enabled || c.ExtraText != ""
}

// SortKey is the output page ordering key: Order when set, ImageIndex
// otherwise.
func (c PlacementConfig) SortKey() int {
	if c.Order != nil {
		return *c.Order
	}
	return c.ImageIndex
}

// ExtraAnchor resolves the secondary text anchor, applying the editor
// defaults when unset.
func (c PlacementConfig) ExtraAnchor() (x, y float64) {
	x, y = DefaultExtraX, DefaultExtraY
	if c.ExtraX != nil {
		x = *c.ExtraX
	}
	if c.ExtraY != nil {
		y = *c.ExtraY
	}
	return x, y
}

// Validate checks the config invariants: anchors in [0,100] and a positive
// font size.
func (c PlacementConfig) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 100 {
			return fmt.Errorf("placement %d: %s=%v out of range [0,100]", c.ImageIndex, name, v)
		}
		return nil
	}
	if err := check("x", c.X); err != nil {
		return err
	}
	if err := check("y", c.Y); err != nil {
		return err
	}
	if c.ExtraX != nil {
		if err := check("extraX", *c.ExtraX); err != nil {
			return err
		}
	}
	if c.ExtraY != nil {
		if err := check("extraY", *c.ExtraY); err != nil {
			return err
		}
	}
	if c.FontSize <= 0 {
		return fmt.Errorf("placement %d: fontSize must be positive, got %v", c.ImageIndex, c.FontSize)
	}
	return nil
}

// ClampPercent clamps a percentage coordinate into [0,100].
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
