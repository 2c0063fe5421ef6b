package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/weddinglabs/cardpress/api"
)

// ErrRasterTarget is returned when the requested raster target is unusable.
var ErrRasterTarget = fmt.Errorf("raster target unavailable")

// TextEntry is one piece of text to burn into a page: its content, its
// normalized anchor within the image fit rectangle, and its style. Size is
// in design pixels; the compositor scales it by the raster scale factor.
type TextEntry struct {
	Text      string
	XPct      float64
	YPct      float64
	Family    string
	Size      float64
	Color     color.Color
	Bold      bool
	Italic    bool
	Underline bool
}

// PageEntries builds the text entries for one page of one guest: the
// primary slot when the page is enabled (guest name, falling back to the
// sample text for a degenerate empty name) and the static extra slot when
// present. A disabled page with no extra text yields no entries; the page
// still renders its template image.
func PageEntries(cfg api.PlacementConfig, guestName string) []TextEntry {
	var entries []TextEntry
	if cfg.Enabled {
		text := guestName
		if text == "" {
			text = cfg.SampleText
		}
		entries = append(entries, TextEntry{
			Text:      text,
			XPct:      cfg.X,
			YPct:      cfg.Y,
			Family:    cfg.FontFamily,
			Size:      cfg.FontSize,
			Color:     api.ParseHexColor(cfg.FontColor),
			Bold:      cfg.Bold,
			Italic:    cfg.Italic,
			Underline: cfg.Underline,
		})
	}
	if cfg.ExtraText != "" {
		ex, ey := cfg.ExtraAnchor()
		entries = append(entries, TextEntry{
			Text:      cfg.ExtraText,
			XPct:      ex,
			YPct:      ey,
			Family:    cfg.FontFamily,
			Size:      cfg.FontSize,
			Color:     api.ParseHexColor(cfg.FontColor),
			Bold:      cfg.Bold,
			Italic:    cfg.Italic,
			Underline: cfg.Underline,
		})
	}
	return entries
}

// Compositor flattens a template image and text entries into a single
// raster at a requested target size.
type Compositor struct {
	Fonts *FontRegistry
}

// NewCompositor creates a compositor drawing from the given font registry.
func NewCompositor(fonts *FontRegistry) *Compositor {
	return &Compositor{Fonts: fonts}
}

// ComposePage renders one page: the template contain-fit into the target
// raster, then each text entry drawn center-anchored at its resolved pixel
// position. Output dimensions always equal the requested target; aspect
// mismatches letterbox, never stretch. The letterbox margins are white.
func (c *Compositor) ComposePage(ctx context.Context, tpl *api.TemplateImage, targetW, targetH int, scale float64, entries []TextEntry) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if targetW <= 0 || targetH <= 0 || scale < 1 {
		return nil, fmt.Errorf("%w: %dx%d @%vx", ErrRasterTarget, targetW, targetH, scale)
	}

	src, err := tpl.Decode()
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	fit, ok := FitRect(float64(b.Dx()), float64(b.Dy()), float64(targetW), float64(targetH))
	if !ok {
		return nil, fmt.Errorf("%w: degenerate image %dx%d", ErrRasterTarget, b.Dx(), b.Dy())
	}

	canvas := imaging.New(targetW, targetH, color.White)
	scaled := imaging.Resize(src, int(fit.W+0.5), int(fit.H+0.5), imaging.Lanczos)
	canvas = imaging.Paste(canvas, scaled, image.Pt(int(fit.OffsetX+0.5), int(fit.OffsetY+0.5)))

	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y := fit.AnchorPx(e.XPct, e.YPct)
		if err := c.drawText(canvas, e, x, y, scale); err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

// drawText draws one entry center-anchored both horizontally and
// vertically at (x, y) container pixels.
func (c *Compositor) drawText(dst *image.NRGBA, e TextEntry, x, y, scale float64) error {
	size := e.Size * scale
	face, err := c.Fonts.Face(e.Family, e.Bold, e.Italic, size)
	if err != nil {
		return err
	}

	adv := font.MeasureString(face, e.Text)
	metrics := face.Metrics()
	dot := fixed.Point26_6{
		X: floatToFixed(x) - adv/2,
		Y: floatToFixed(y) + (metrics.Ascent-metrics.Descent)/2,
	}

	col := e.Color
	if col == nil {
		col = color.Black
	}
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  dot,
	}
	drawer.DrawString(e.Text)

	if e.Underline {
		drawUnderline(dst, col, dot.X, dot.X+adv, dot.Y, size)
	}
	return nil
}

// drawUnderline rules a line just below the baseline, spanning the advance
// of the drawn string.
func drawUnderline(dst *image.NRGBA, col color.Color, x0, x1 fixed.Int26_6, baseline fixed.Int26_6, size float64) {
	thickness := int(size/14 + 0.5)
	if thickness < 1 {
		thickness = 1
	}
	gap := int(size/10 + 0.5)
	if gap < 2 {
		gap = 2
	}
	top := baseline.Ceil() + gap
	rect := image.Rect(x0.Floor(), top, x1.Ceil(), top+thickness)
	draw.Draw(dst, rect.Intersect(dst.Bounds()), image.NewUniform(col), image.Point{}, draw.Over)
}

func floatToFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(v*64 + 0.5)
}

// EncodePage serializes a composited raster for embedding into a document.
// JPEG at high quality keeps large batches small; PNG stays lossless for
// small ones.
func EncodePage(img image.Image, format api.OutputFormat, jpegQuality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case api.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case api.FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	default:
		return nil, fmt.Errorf("unsupported page format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode page as %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
