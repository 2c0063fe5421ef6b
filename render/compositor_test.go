package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weddinglabs/cardpress/api"
)

// testTemplate builds an in-memory PNG template of the given size filled
// with a solid color.
func testTemplate(t *testing.T, w, h int) *api.TemplateImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	tpl, err := api.NewTemplateImage("template.png", buf.Bytes())
	require.NoError(t, err)
	return tpl
}

func TestPageEntries(t *testing.T) {
	cfg := api.DefaultPlacement(0)

	t.Run("disabled page with no extra text yields nothing", func(t *testing.T) {
		assert.Empty(t, PageEntries(cfg, "Amit Patel"))
	})

	t.Run("enabled page carries the guest name", func(t *testing.T) {
		c := cfg
		c.Enabled = true
		entries := PageEntries(c, "Amit Patel")
		require.Len(t, entries, 1)
		assert.Equal(t, "Amit Patel", entries[0].Text)
		assert.Equal(t, 50.0, entries[0].XPct)
		assert.Equal(t, 24.0, entries[0].Size)
	})

	t.Run("empty guest name falls back to sample text", func(t *testing.T) {
		c := cfg
		c.Enabled = true
		c.SampleText = "Sample Name"
		entries := PageEntries(c, "")
		require.Len(t, entries, 1)
		assert.Equal(t, "Sample Name", entries[0].Text)
	})

	t.Run("extra text renders even on a disabled page", func(t *testing.T) {
		c := cfg
		c.ExtraText = "You are invited"
		entries := PageEntries(c, "Amit Patel")
		require.Len(t, entries, 1)
		assert.Equal(t, "You are invited", entries[0].Text)
		assert.Equal(t, 50.0, entries[0].XPct)
		assert.Equal(t, 60.0, entries[0].YPct, "default extra anchor sits below center")
	})

	t.Run("both slots on an enabled page", func(t *testing.T) {
		c := cfg
		c.Enabled = true
		c.ExtraText = "You are invited"
		entries := PageEntries(c, "Amit Patel")
		require.Len(t, entries, 2)
		assert.Equal(t, "Amit Patel", entries[0].Text)
		assert.Equal(t, "You are invited", entries[1].Text)
	})
}

func TestComposePageDimensionsAndLetterbox(t *testing.T) {
	comp := NewCompositor(NewFontRegistry())
	// Wide template into a portrait target: letterbox above and below.
	tpl := testTemplate(t, 400, 200)

	out, err := comp.ComposePage(context.Background(), tpl, 300, 300, 1, nil)
	require.NoError(t, err)
	b := out.Bounds()
	assert.Equal(t, 300, b.Dx())
	assert.Equal(t, 300, b.Dy())

	isWhite := func(x, y int) bool {
		r, g, bl, _ := out.At(x, y).RGBA()
		return r == 0xffff && g == 0xffff && bl == 0xffff
	}
	assert.True(t, isWhite(150, 10), "top letterbox must be white")
	assert.True(t, isWhite(150, 290), "bottom letterbox must be white")

	r, _, _, _ := out.At(150, 150).RGBA()
	assert.Greater(t, r, uint32(0x9000), "center must carry the template pixels")
}

func TestComposePageDrawsText(t *testing.T) {
	comp := NewCompositor(NewFontRegistry())
	tpl := testTemplate(t, 300, 300)

	blank, err := comp.ComposePage(context.Background(), tpl, 300, 300, 1, nil)
	require.NoError(t, err)

	entries := []TextEntry{{
		Text:  "Amit",
		XPct:  50,
		YPct:  50,
		Size:  48,
		Color: color.Black,
	}}
	withText, err := comp.ComposePage(context.Background(), tpl, 300, 300, 1, entries)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(blank.Pix, withText.Pix), "text must change pixels")
}

func TestComposePageErrors(t *testing.T) {
	comp := NewCompositor(NewFontRegistry())
	tpl := testTemplate(t, 10, 10)

	_, err := comp.ComposePage(context.Background(), tpl, 0, 100, 1, nil)
	assert.ErrorIs(t, err, ErrRasterTarget)

	_, err = comp.ComposePage(context.Background(), tpl, 100, 100, 0.5, nil)
	assert.ErrorIs(t, err, ErrRasterTarget)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = comp.ComposePage(ctx, tpl, 100, 100, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodePage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	pngData, err := EncodePage(img, api.FormatPNG, 0)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(pngData))
	assert.NoError(t, err)

	jpegData, err := EncodePage(img, api.FormatJPEG, 92)
	require.NoError(t, err)
	cfgImg, _, err := image.Decode(bytes.NewReader(jpegData))
	require.NoError(t, err)
	assert.Equal(t, 20, cfgImg.Bounds().Dx())

	_, err = EncodePage(img, api.FormatAuto, 92)
	assert.ErrorContains(t, err, "unsupported page format",
		"auto must be resolved before encoding")
}

func TestPreviewPNGMatchesNaturalSize(t *testing.T) {
	comp := NewCompositor(NewFontRegistry())
	tpl := testTemplate(t, 120, 80)

	cfg := api.DefaultPlacement(0)
	cfg.Enabled = true
	data, err := comp.PreviewPNG(context.Background(), tpl, cfg, "Amit")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestPreviewSVG(t *testing.T) {
	tpl := testTemplate(t, 100, 50)
	cfg := api.DefaultPlacement(0)
	cfg.Enabled = true
	cfg.Bold = true
	cfg.Underline = true

	svg, err := PreviewSVG(tpl, cfg, "Amit Patel")
	require.NoError(t, err)

	s := string(svg)
	assert.Contains(t, s, `width="100"`)
	assert.Contains(t, s, `height="50"`)
	assert.Contains(t, s, "data:image/png;base64,")
	assert.Contains(t, s, "Amit Patel")
	assert.Contains(t, s, "text-anchor:middle")
	assert.Contains(t, s, "font-weight:bold")
	assert.Contains(t, s, "text-decoration:underline")
}

func TestIsSVG(t *testing.T) {
	assert.True(t, IsSVG([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)))
	assert.False(t, IsSVG([]byte{0x89, 'P', 'N', 'G'}))
}

func TestRasterizeSVG(t *testing.T) {
	src := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100"><rect width="200" height="100" fill="#ff0000"/></svg>`)

	data, err := RasterizeSVG(src, 400)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy(), "aspect ratio follows the viewBox")

	// Zero width falls back to the viewBox width.
	data, err = RasterizeSVG(src, 0)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}
