package filter

import (
	"fmt"
	"math"
	"strings"

	"mediaforge/operation"
)

// assAlignment maps the nine anchors onto the ASS numpad alignment scheme:
// 1-3 along the bottom, 4-6 across the middle, 7-9 along the top.
var assAlignment = map[operation.Anchor]int{
	operation.AnchorBottomLeft:   1,
	operation.AnchorBottomCenter: 2,
	operation.AnchorBottomRight:  3,
	operation.AnchorCenterLeft:   4,
	operation.AnchorCenter:       5,
	operation.AnchorCenterRight:  6,
	operation.AnchorTopLeft:      7,
	operation.AnchorTopCenter:    8,
	operation.AnchorTopRight:     9,
}

// cueSanitizer neutralizes the characters that carry meaning inside a
// dialogue line: a brace opens an override block, and newlines terminate the
// event, so they become the soft line break the renderer understands.
var cueSanitizer = strings.NewReplacer(
	"\r\n", `\N`,
	"\n", `\N`,
	"\r", `\N`,
	"{", "(",
	"}", ")",
)

// RenderSubtitleScript renders the cue list and style into a complete ASS
// subtitle script sized to the target frame. The stage carries the script
// body; the execution driver materializes it as a file inside the task
// workspace and points the engine's subtitle filter at it.
func RenderSubtitleScript(cfg *operation.Subtitles, frame Frame) (string, error) {
	if len(cfg.Cues) == 0 {
		return "", fmt.Errorf("subtitle script needs at least one cue")
	}
	st := cfg.Style

	font := st.FontFamily
	if font == "" {
		font = "Arial"
	}

	primary := mustEncodeColor(st.Color, st.Alpha)
	outline := mustEncodeColor("000000", st.Alpha)
	outlineW := 0
	if st.OutlineColor != "" {
		outline = mustEncodeColor(st.OutlineColor, st.Alpha)
		outlineW = 2
	}
	back := mustEncodeColor("000000", st.Alpha)
	shadowDepth := 0
	if st.BackColor != "" {
		back = mustEncodeColor(st.BackColor, st.Alpha)
		shadowDepth = 1
	}

	align := assAlignment[operation.AnchorBottomCenter]
	if st.Anchor != "" {
		a, ok := assAlignment[st.Anchor]
		if !ok {
			return "", fmt.Errorf("subtitle anchor %q has no alignment", st.Anchor)
		}
		align = a
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Script Info]\n")
	fmt.Fprintf(&b, "ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", frame.Width)
	fmt.Fprintf(&b, "PlayResY: %d\n", frame.Height)
	fmt.Fprintf(&b, "WrapStyle: 0\n")
	fmt.Fprintf(&b, "ScaledBorderAndShadow: yes\n\n")

	fmt.Fprintf(&b, "[V4+ Styles]\n")
	fmt.Fprintf(&b, "Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, "+
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, "+
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,%s,%s,%s,%s,0,0,0,0,100,100,0,0,1,%d,%d,%d,10,10,20,1\n\n",
		font, st.FontSize, primary, primary, outline, back, outlineW, shadowDepth, align)

	fmt.Fprintf(&b, "[Events]\n")
	fmt.Fprintf(&b, "Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, cue := range cfg.Cues {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTime(cue.Start), assTime(cue.End), cueSanitizer.Replace(cue.Text))
	}
	return b.String(), nil
}

// assTime formats seconds as the h:mm:ss.cs timestamp dialogue lines use.
func assTime(seconds float64) string {
	cs := int(math.Round(seconds * 100))
	if cs < 0 {
		cs = 0
	}
	h := cs / 360000
	cs -= h * 360000
	m := cs / 6000
	cs -= m * 6000
	s := cs / 100
	cs -= s * 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}
