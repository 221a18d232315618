package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/operation"
)

func TestRenderSubtitleScript(t *testing.T) {
	cfg := &operation.Subtitles{
		Cues: []operation.SubtitleCue{
			{Start: 1.5, End: 3, Text: "First line"},
			{Start: 3661.25, End: 3662, Text: "An {override} attempt"},
		},
		Style: operation.SubtitleStyle{
			FontFamily: "Helvetica",
			FontSize:   28,
			Color:      "FFFFFF",
			Alpha:      1,
		},
	}

	script, err := RenderSubtitleScript(cfg, Frame{Width: 1280, Height: 720, Duration: 4000})
	require.NoError(t, err)

	t.Run("Script header matches the frame", func(t *testing.T) {
		assert.Contains(t, script, "[Script Info]")
		assert.Contains(t, script, "ScriptType: v4.00+")
		assert.Contains(t, script, "PlayResX: 1280")
		assert.Contains(t, script, "PlayResY: 720")
	})

	t.Run("Style line carries encoded colors", func(t *testing.T) {
		assert.Contains(t, script, "Style: Default,Helvetica,28,&H00FFFFFF,")
	})

	t.Run("Default alignment is bottom-center", func(t *testing.T) {
		styleLine := ""
		for _, line := range strings.Split(script, "\n") {
			if strings.HasPrefix(line, "Style: ") {
				styleLine = line
			}
		}
		require.NotEmpty(t, styleLine)
		fields := strings.Split(styleLine, ",")
		// Alignment sits between Shadow and MarginL in the V4+ format.
		assert.Equal(t, "2", fields[18])
	})

	t.Run("Dialogue timestamps use h:mm:ss.cs", func(t *testing.T) {
		assert.Contains(t, script, "Dialogue: 0,0:00:01.50,0:00:03.00,Default,,0,0,0,,First line")
		assert.Contains(t, script, "Dialogue: 0,1:01:01.25,1:01:02.00,Default,,0,0,0,,")
	})

	t.Run("Cue text cannot open an override block", func(t *testing.T) {
		assert.NotContains(t, script, "{override}")
		assert.Contains(t, script, "An (override) attempt")
	})
}

func TestRenderSubtitleScriptStyleVariants(t *testing.T) {
	base := operation.Subtitles{
		Cues:  []operation.SubtitleCue{{Start: 0, End: 1, Text: "Hi\nthere"}},
		Style: operation.SubtitleStyle{FontSize: 20, Color: "00FF00", Alpha: 0.5},
	}

	t.Run("Newlines become soft breaks", func(t *testing.T) {
		script, err := RenderSubtitleScript(&base, Frame{Width: 640, Height: 360})
		require.NoError(t, err)
		assert.Contains(t, script, `Hi\Nthere`)
	})

	t.Run("Missing font falls back", func(t *testing.T) {
		script, err := RenderSubtitleScript(&base, Frame{Width: 640, Height: 360})
		require.NoError(t, err)
		assert.Contains(t, script, "Style: Default,Arial,20,&H8000FF00,")
	})

	t.Run("Outline and back colors enable their renders", func(t *testing.T) {
		cfg := base
		cfg.Style.OutlineColor = "000000"
		cfg.Style.BackColor = "101010"
		cfg.Style.Anchor = operation.AnchorTopLeft
		script, err := RenderSubtitleScript(&cfg, Frame{Width: 640, Height: 360})
		require.NoError(t, err)

		assert.Contains(t, script, "&H80000000") // outline inherits style alpha
		assert.Contains(t, script, "&H80101010")
		assert.Contains(t, script, ",1,2,1,7,") // border style, outline, shadow, top-left alignment
	})

	t.Run("No cues", func(t *testing.T) {
		cfg := base
		cfg.Cues = nil
		_, err := RenderSubtitleScript(&cfg, Frame{Width: 640, Height: 360})
		assert.Error(t, err)
	})
}
