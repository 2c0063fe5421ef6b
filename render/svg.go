package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// IsSVG sniffs whether uploaded template bytes are an SVG document rather
// than an encoded raster.
func IsSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<svg"))
}

// RasterizeSVG renders an SVG template to PNG at its natural aspect ratio.
// targetW selects the output pixel width; zero uses the SVG's own viewBox
// width. Template ingestion normalizes SVG uploads through this so the
// rest of the pipeline only ever sees raster images.
func RasterizeSVG(svgData []byte, targetW int) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse SVG: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		vw, vh = 100, 100
	}
	w := targetW
	if w <= 0 {
		w = int(vw + 0.5)
	}
	h := int(float64(w)*vh/vw + 0.5)
	if h <= 0 {
		h = 1
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("encode rasterized SVG: %w", err)
	}
	return buf.Bytes(), nil
}
