package api

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ParseHexColor converts "#rrggbb", "#rgb" or "#rrggbbaa" to a color.RGBA.
// Invalid input falls back to opaque black, the editor's default text color.
func ParseHexColor(hex string) color.RGBA {
	c, err := parseHexColor(hex)
	if err != nil {
		return color.RGBA{A: 255}
	}
	return c
}

func parseHexColor(hex string) (color.RGBA, error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6, 8:
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", hex)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	c := color.RGBA{A: 255}
	if len(s) == 8 {
		c.A = uint8(v)
		v >>= 8
	}
	c.B = uint8(v)
	c.G = uint8(v >> 8)
	c.R = uint8(v >> 16)
	return c, nil
}
