package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/operation"
)

func TestResolveAnchor(t *testing.T) {
	// 1920x1080 frame, 100x30 overlay, 10px horizontal / 20px vertical margin.
	p := Placement{FrameW: 1920, FrameH: 1080, OverlayW: 100, OverlayH: 30, MarginX: 10, MarginY: 20}

	cases := []struct {
		anchor operation.Anchor
		x, y   int
	}{
		{operation.AnchorTopLeft, 10, 20},
		{operation.AnchorTopCenter, 910, 20},
		{operation.AnchorTopRight, 1810, 20},
		{operation.AnchorCenterLeft, 10, 525},
		{operation.AnchorCenter, 910, 525},
		{operation.AnchorCenterRight, 1810, 525},
		{operation.AnchorBottomLeft, 10, 1030},
		{operation.AnchorBottomCenter, 910, 1030},
		{operation.AnchorBottomRight, 1810, 1030},
	}
	for _, tc := range cases {
		t.Run(string(tc.anchor), func(t *testing.T) {
			x, y, err := ResolveAnchor(tc.anchor, p)
			require.NoError(t, err)
			assert.Equal(t, tc.x, x)
			assert.Equal(t, tc.y, y)
		})
	}

	t.Run("Unknown anchor", func(t *testing.T) {
		_, _, err := ResolveAnchor("middle", p)
		assert.Error(t, err)
	})
}

func TestResolvePosition(t *testing.T) {
	p := Placement{FrameW: 1280, FrameH: 720, OverlayW: 200, OverlayH: 50}

	t.Run("Absolute passes through", func(t *testing.T) {
		x, y, err := ResolvePosition(operation.Position{X: 42, Y: 87}, p)
		require.NoError(t, err)
		assert.Equal(t, 42, x)
		assert.Equal(t, 87, y)
	})

	t.Run("Relative uses its own margins", func(t *testing.T) {
		pos := operation.Position{Anchor: operation.AnchorBottomRight, MarginX: 16, MarginY: 8}
		x, y, err := ResolvePosition(pos, p)
		require.NoError(t, err)
		assert.Equal(t, 1280-200-16, x)
		assert.Equal(t, 720-50-8, y)
	})
}

func TestEstimateTextSize(t *testing.T) {
	t.Run("Single line", func(t *testing.T) {
		w, h := EstimateTextSize("hello", 40)
		assert.Equal(t, 5*40*6/10, w)
		assert.Equal(t, 48, h)
	})

	t.Run("Longest line wins", func(t *testing.T) {
		w, h := EstimateTextSize("hi\nlonger line\nok", 20)
		assert.Equal(t, 11*20*6/10, w)
		assert.Equal(t, 3*24, h)
	})
}
