// Package render implements the rasterization half of the card pipeline:
// contain-fit layout metrics, font loading, and the text compositor that
// burns guest names into template images.
package render

// Metrics is the contain-fit rectangle of an image inside a container:
// render width/height plus the centering offsets. It is ephemeral and
// recomputed on every layout change; anchor percentages are defined
// relative to this rectangle.
type Metrics struct {
	W       float64
	H       float64
	OffsetX float64
	OffsetY float64
}

// FitRect computes the standard "contain" fit of an iw x ih image inside a
// cw x ch container: scaled to fit fully inside while preserving aspect
// ratio, centered, letterboxed on one axis.
//
// The same computation is used by the editor, the preview and the batch
// renderer; any divergence would misalign printed text against what the
// user placed. It returns ok=false when any dimension is not positive yet
// (layout has not settled); callers retry rather than treat this as an
// error.
func FitRect(iw, ih, cw, ch float64) (Metrics, bool) {
	if iw <= 0 || ih <= 0 || cw <= 0 || ch <= 0 {
		return Metrics{}, false
	}
	var m Metrics
	if iw/ih > cw/ch {
		m.W = cw
		m.H = cw * ih / iw
	} else {
		m.H = ch
		m.W = ch * iw / ih
	}
	m.OffsetX = (cw - m.W) / 2
	m.OffsetY = (ch - m.H) / 2
	return m, true
}

// AnchorPx converts a normalized (percent) anchor within the fit rectangle
// to absolute pixel coordinates in the container. The letterbox margins are
// excluded from the percentage space.
func (m Metrics) AnchorPx(xPct, yPct float64) (x, y float64) {
	return m.OffsetX + xPct/100*m.W, m.OffsetY + yPct/100*m.H
}
