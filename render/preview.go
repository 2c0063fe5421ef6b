package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	svg "github.com/ajstarks/svgo"

	"github.com/weddinglabs/cardpress/api"
)

// PreviewSVG builds a vector preview of one page: the template image with
// the text entries overlaid as SVG <text> elements, exactly the overlay the
// placement editor shows. The document is sized to the template's natural
// dimensions so anchors map 1:1 onto the image.
func PreviewSVG(tpl *api.TemplateImage, cfg api.PlacementConfig, guestName string) ([]byte, error) {
	w, h, err := tpl.Size()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(w, h)

	mime := http.DetectContentType(tpl.Data)
	href := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(tpl.Data)
	canvas.Image(0, 0, w, h, href)

	// Natural size means the fit rectangle is the whole image.
	fit := Metrics{W: float64(w), H: float64(h)}
	for _, e := range PageEntries(cfg, guestName) {
		if e.Text == "" {
			continue
		}
		x, y := fit.AnchorPx(e.XPct, e.YPct)
		canvas.Text(int(x+0.5), int(y+0.5), e.Text, textStyle(e))
	}

	canvas.End()
	return buf.Bytes(), nil
}

func textStyle(e TextEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "font-size:%.0fpx;font-family:%s;fill:%s", e.Size, e.Family, cssColor(e))
	sb.WriteString(";text-anchor:middle;dominant-baseline:middle")
	if e.Bold {
		sb.WriteString(";font-weight:bold")
	}
	if e.Italic {
		sb.WriteString(";font-style:italic")
	}
	if e.Underline {
		sb.WriteString(";text-decoration:underline")
	}
	return sb.String()
}

func cssColor(e TextEntry) string {
	r, g, b, _ := e.Color.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// PreviewPNG renders a raster preview of one page at the template's natural
// size using the same compositor as the final output, so the preview and
// the printed page can never disagree on placement.
func (c *Compositor) PreviewPNG(ctx context.Context, tpl *api.TemplateImage, cfg api.PlacementConfig, guestName string) ([]byte, error) {
	w, h, err := tpl.Size()
	if err != nil {
		return nil, err
	}
	img, err := c.ComposePage(ctx, tpl, w, h, 1, PageEntries(cfg, guestName))
	if err != nil {
		return nil, err
	}
	return EncodePage(img, api.FormatPNG, 0)
}
