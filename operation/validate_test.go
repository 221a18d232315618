package operation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTextOverlay() Config {
	return Config{
		Type: TypeTextOverlay,
		TextOverlay: &TextOverlay{
			Text:     "Hello",
			Position: Position{Anchor: AnchorCenter},
			Style:    Style{FontSize: 42, Color: "FFFFFF", Alpha: 1},
		},
	}
}

func TestValidate_TextOverlay(t *testing.T) {
	t.Run("valid config passes and is normalized", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Text = "  Hello  "

		out, err := Validate(cfg)
		require.NoError(t, err)
		assert.Equal(t, "Hello", out.TextOverlay.Text)
		// the input config must not be mutated
		assert.Equal(t, "  Hello  ", cfg.TextOverlay.Text)
	})

	t.Run("font size out of bounds", func(t *testing.T) {
		for _, size := range []int{7, 201} {
			cfg := validTextOverlay()
			cfg.TextOverlay.Style.FontSize = size
			_, err := Validate(cfg)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Field, "fontSize")
		}
	})

	t.Run("alpha out of bounds", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Style.Alpha = 1.2
		_, err := Validate(cfg)
		assert.Error(t, err)
	})

	t.Run("rotation out of bounds", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Style.Rotation = 361
		_, err := Validate(cfg)
		assert.Error(t, err)
	})

	t.Run("malformed color", func(t *testing.T) {
		for _, color := range []string{"FFF", "GGHHII", "#FFFFFF", "FFFFFF00"} {
			cfg := validTextOverlay()
			cfg.TextOverlay.Style.Color = color
			_, err := Validate(cfg)
			require.Error(t, err, "color %q must be rejected", color)
		}
	})

	t.Run("unknown anchor", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Position.Anchor = "middle"
		_, err := Validate(cfg)
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Field, "anchor")
	})

	t.Run("text only whitespace", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Text = "   \t "
		_, err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-empty")
	})

	t.Run("text too long", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Text = strings.Repeat("a", 1001)
		_, err := Validate(cfg)
		assert.Error(t, err)
	})

	t.Run("shadow bounds", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Shadow = &Shadow{Color: "000000", Alpha: 0.5, OffsetX: 51, OffsetY: 0, Blur: 2}
		_, err := Validate(cfg)
		assert.Error(t, err)

		cfg = validTextOverlay()
		cfg.TextOverlay.Shadow = &Shadow{Color: "000000", Alpha: 0.5, OffsetX: 4, OffsetY: 4, Blur: 21}
		_, err = Validate(cfg)
		assert.Error(t, err)

		cfg = validTextOverlay()
		cfg.TextOverlay.Shadow = &Shadow{Color: "000000", Alpha: 0.5, OffsetX: -50, OffsetY: 50, Blur: 20}
		_, err = Validate(cfg)
		assert.NoError(t, err)
	})

	t.Run("animation kind and duration", func(t *testing.T) {
		cfg := validTextOverlay()
		cfg.TextOverlay.Animation = &Animation{Kind: "sparkle", Duration: 1}
		_, err := Validate(cfg)
		assert.Error(t, err)

		cfg = validTextOverlay()
		cfg.TextOverlay.Animation = &Animation{Kind: AnimationFadeIn, Duration: 0}
		_, err = Validate(cfg)
		assert.Error(t, err)

		cfg = validTextOverlay()
		cfg.TextOverlay.Animation = &Animation{Kind: AnimationSlideLeft, Duration: 1.5, Delay: 0.5}
		_, err = Validate(cfg)
		assert.NoError(t, err)
	})
}

func TestValidate_Variants(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		_, err := Validate(Config{Type: "transmogrify"})
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "type", verr.Field)
	})

	t.Run("missing variant block", func(t *testing.T) {
		_, err := Validate(Config{Type: TypeTextOverlay})
		assert.Error(t, err)
	})

	t.Run("audio overlay mode", func(t *testing.T) {
		cfg := Config{Type: TypeAudioOverlay, AudioOverlay: &AudioOverlay{
			Mode: "duck", OverlayVolume: 1, OriginalVolume: 1,
		}}
		_, err := Validate(cfg)
		assert.Error(t, err)

		cfg.AudioOverlay.Mode = AudioModeMix
		_, err = Validate(cfg)
		assert.NoError(t, err)
	})

	t.Run("video overlay geometry", func(t *testing.T) {
		cfg := Config{Type: TypeVideoOverlay, VideoOverlay: &VideoOverlay{
			X: 10, Y: 10, Width: 8, Height: 240,
		}}
		_, err := Validate(cfg)
		assert.Error(t, err)

		cfg.VideoOverlay.Width = 320
		_, err = Validate(cfg)
		assert.NoError(t, err)
	})

	t.Run("subtitle cues ordered and well formed", func(t *testing.T) {
		style := SubtitleStyle{FontSize: 24, Color: "FFFFFF", Alpha: 1}

		cfg := Config{Type: TypeSubtitles, Subtitles: &Subtitles{
			Cues:  []SubtitleCue{{Start: 1, End: 0.5, Text: "hi"}},
			Style: style,
		}}
		_, err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "end after start")

		cfg.Subtitles.Cues = []SubtitleCue{
			{Start: 2, End: 3, Text: "second"},
			{Start: 0, End: 1, Text: "first"},
		}
		_, err = Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ordered")

		cfg.Subtitles.Cues = []SubtitleCue{
			{Start: 0, End: 1, Text: "first"},
			{Start: 2, End: 3, Text: "second"},
		}
		_, err = Validate(cfg)
		assert.NoError(t, err)
	})
}

func TestValidate_Combined(t *testing.T) {
	t.Run("requires at least one sub-operation", func(t *testing.T) {
		_, err := Validate(Config{Type: TypeCombined})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one")
	})

	t.Run("single invalid sub-operation rejects the whole request", func(t *testing.T) {
		bad := validTextOverlay()
		bad.TextOverlay.Style.FontSize = 4
		cfg := Config{Type: TypeCombined, Combined: []Config{validTextOverlay(), bad}}

		_, err := Validate(cfg)
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Field, "combined[1]")
	})

	t.Run("combined cannot nest", func(t *testing.T) {
		cfg := Config{Type: TypeCombined, Combined: []Config{
			{Type: TypeCombined, Combined: []Config{validTextOverlay()}},
		}}
		_, err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nest")
	})
}

func TestValidateInputCount(t *testing.T) {
	join := Config{Type: TypeJoin, Join: &Join{}}
	assert.Error(t, join.ValidateInputCount(1))
	assert.NoError(t, join.ValidateInputCount(2))
	assert.NoError(t, join.ValidateInputCount(5))

	text := validTextOverlay()
	assert.NoError(t, text.ValidateInputCount(1))
	assert.Error(t, text.ValidateInputCount(2))

	audio := Config{Type: TypeAudioOverlay, AudioOverlay: &AudioOverlay{Mode: AudioModeMix, OverlayVolume: 1, OriginalVolume: 1}}
	assert.NoError(t, audio.ValidateInputCount(2))
	assert.Error(t, audio.ValidateInputCount(1))

	combined := Config{Type: TypeCombined, Combined: []Config{
		validTextOverlay(),
		audio,
	}}
	assert.NoError(t, combined.ValidateInputCount(2))
	assert.Error(t, combined.ValidateInputCount(3))
}
