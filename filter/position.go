// Package filter compiles validated operation configurations into the
// ordered, engine-addressable filter stages that implement them: resolved
// positions, escaped text, encoded colors and time-parameterized animation
// expressions. Compilation is a pure function of its inputs; executing the
// stages belongs to the engine driver.
package filter

import (
	"fmt"

	"mediaforge/operation"
)

// Placement carries the geometry position resolution works against: the
// frame, the rendered overlay box, and the requested margins.
type Placement struct {
	FrameW   int
	FrameH   int
	OverlayW int
	OverlayH int
	MarginX  int
	MarginY  int
}

// ResolveAnchor returns the top-left coordinates pinning an overlay of the
// given size to one of the nine named anchors. The formulas are fixed; tests
// assert each one.
func ResolveAnchor(a operation.Anchor, p Placement) (x, y int, err error) {
	w, h := p.FrameW, p.FrameH
	tw, th := p.OverlayW, p.OverlayH
	mx, my := p.MarginX, p.MarginY

	switch a {
	case operation.AnchorTopLeft:
		return mx, my, nil
	case operation.AnchorTopCenter:
		return (w - tw) / 2, my, nil
	case operation.AnchorTopRight:
		return w - tw - mx, my, nil
	case operation.AnchorCenterLeft:
		return mx, (h - th) / 2, nil
	case operation.AnchorCenter:
		return (w - tw) / 2, (h - th) / 2, nil
	case operation.AnchorCenterRight:
		return w - tw - mx, (h - th) / 2, nil
	case operation.AnchorBottomLeft:
		return mx, h - th - my, nil
	case operation.AnchorBottomCenter:
		return (w - tw) / 2, h - th - my, nil
	case operation.AnchorBottomRight:
		return w - tw - mx, h - th - my, nil
	default:
		return 0, 0, fmt.Errorf("unknown anchor %q", a)
	}
}

// ResolvePosition resolves an operation position to concrete coordinates:
// absolute positions pass through unchanged, relative ones go through the
// anchor table.
func ResolvePosition(pos operation.Position, p Placement) (x, y int, err error) {
	if !pos.Relative() {
		return pos.X, pos.Y, nil
	}
	p.MarginX, p.MarginY = pos.MarginX, pos.MarginY
	return ResolveAnchor(pos.Anchor, p)
}

// EstimateTextSize approximates the rendered box of text at a font size,
// used to resolve anchored text positions before the engine has drawn
// anything. Width assumes an average glyph advance of 0.6 em; height one
// line at 1.2 em. Multi-line text widens to its longest line.
func EstimateTextSize(text string, fontSize int) (w, h int) {
	longest, lines, current := 0, 1, 0
	for _, r := range text {
		if r == '\n' {
			lines++
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current++
	}
	if current > longest {
		longest = current
	}
	w = longest * fontSize * 6 / 10
	h = lines * fontSize * 12 / 10
	return w, h
}
