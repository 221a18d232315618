package filter

import (
	"fmt"
	"math"
	"strings"

	"mediaforge/operation"
)

// Frame is the probed geometry of the base video that compilation resolves
// positions and animation endpoints against.
type Frame struct {
	Width    int
	Height   int
	Duration float64
}

// Compile turns a validated configuration into the ordered filter stages
// that implement it. inputs is the task's input-reference count; input 0 is
// the base video, overlay media follow in submission order. For a combined
// configuration, sub-operation stages are concatenated in request order,
// each implicitly consuming the visual output of the previous stage.
func Compile(cfg operation.Config, frame Frame, inputs int) ([]Stage, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("frame %dx%d: probe geometry required", frame.Width, frame.Height)
	}

	if cfg.Type == operation.TypeCombined {
		stages := make([]Stage, 0, len(cfg.Combined))
		next := 1
		for i, sub := range cfg.Combined {
			st, used, err := compileOne(sub, frame, inputs, next)
			if err != nil {
				return nil, fmt.Errorf("sub-operation %d (%s): %w", i, sub.Type, err)
			}
			next += used
			stages = append(stages, st)
		}
		return stages, nil
	}

	st, _, err := compileOne(cfg, frame, inputs, 1)
	if err != nil {
		return nil, err
	}
	return []Stage{st}, nil
}

// compileOne compiles a single (non-combined) operation. nextInput is the
// index of the first unconsumed task input; the second return value is how
// many extra inputs the stage claimed.
func compileOne(cfg operation.Config, frame Frame, inputs, nextInput int) (Stage, int, error) {
	switch cfg.Type {
	case operation.TypeJoin:
		st, err := compileJoin(cfg.Join, frame, inputs)
		return st, inputs - 1, err
	case operation.TypeTextOverlay:
		st, err := compileTextOverlay(cfg.TextOverlay, frame)
		return st, 0, err
	case operation.TypeSubtitles:
		st, err := compileSubtitles(cfg.Subtitles, frame)
		return st, 0, err
	case operation.TypeAudioOverlay:
		return compileAudioOverlay(cfg.AudioOverlay, nextInput), 1, nil
	case operation.TypeVideoOverlay:
		return compileVideoOverlay(cfg.VideoOverlay, frame, nextInput), 1, nil
	default:
		return Stage{}, 0, fmt.Errorf("cannot compile operation type %q", cfg.Type)
	}
}

// compileJoin normalizes every clip to the base geometry before
// concatenating; concatenation requires uniform dimensions.
func compileJoin(cfg *operation.Join, frame Frame, inputs int) (Stage, error) {
	if inputs < operation.MinJoinInputs {
		return Stage{}, fmt.Errorf("join with %d input(s)", inputs)
	}
	w, h := frame.Width, frame.Height

	var b strings.Builder
	for i := 0; i < inputs; i++ {
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[v%d];",
			i, w, h, w, h, i)
	}
	for i := 0; i < inputs; i++ {
		fmt.Fprintf(&b, "[v%d][%d:a]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[vout][aout]", inputs)

	extra := make([]int, 0, inputs-1)
	for i := 1; i < inputs; i++ {
		extra = append(extra, i)
	}
	return Stage{Kind: StageConcat, Graph: b.String(), Complex: true, ExtraInputs: extra}, nil
}

func compileTextOverlay(cfg *operation.TextOverlay, frame Frame) (Stage, error) {
	tw, th := EstimateTextSize(cfg.Text, cfg.Style.FontSize)
	x, y, err := ResolvePosition(cfg.Position, Placement{
		FrameW: frame.Width, FrameH: frame.Height,
		OverlayW: tw, OverlayH: th,
	})
	if err != nil {
		return Stage{}, err
	}

	var anim *Expr
	if cfg.Animation != nil {
		e, err := CompileAnimation(*cfg.Animation, Point{x, y}, Size{tw, th}, Size{frame.Width, frame.Height})
		if err != nil {
			return Stage{}, err
		}
		anim = &e
	}

	blurredShadow := cfg.Shadow != nil && cfg.Shadow.Blur > 0
	if cfg.Style.Rotation != 0 || blurredShadow {
		return complexTextStage(cfg, frame, Point{x, y}, Size{tw, th}, anim)
	}

	d := drawtextParams(cfg, param(x, anim, ParamX), param(y, anim, ParamY), anim)
	st := Stage{Kind: StageDrawText, Graph: "drawtext=" + d}
	if anim != nil {
		st.TimeExpr = anim.Formula
	}
	return st, nil
}

// param renders a static coordinate, or the animation formula when the
// animation drives that parameter.
func param(static int, anim *Expr, p Param) string {
	if anim != nil && anim.Param == p {
		return "'" + anim.Formula + "'"
	}
	return fmt.Sprintf("%d", static)
}

// drawtextParams renders the core drawtext parameter list with text escaped
// and every color in the engine encoding.
func drawtextParams(cfg *operation.TextOverlay, x, y string, anim *Expr) string {
	st := cfg.Style
	parts := []string{fmt.Sprintf("text='%s'", EscapeText(cfg.Text))}
	if st.FontFamily != "" {
		// Escape the components, not the fontconfig pattern's own colon.
		font := EscapeText(st.FontFamily)
		if st.FontWeight != "" {
			font += ":style=" + EscapeText(st.FontWeight)
		}
		parts = append(parts, fmt.Sprintf("font='%s'", font))
	}

	size := fmt.Sprintf("%d", st.FontSize)
	if anim != nil && anim.Param == ParamScale {
		size = fmt.Sprintf("'%d*(%s)'", st.FontSize, anim.Formula)
	}
	parts = append(parts,
		"fontsize="+size,
		"fontcolor="+mustEncodeColor(st.Color, st.Alpha),
		"x="+x,
		"y="+y,
	)

	if anim != nil && anim.Param == ParamAlpha {
		parts = append(parts, fmt.Sprintf("alpha='%s'", anim.Formula))
	}
	if bg := cfg.Background; bg != nil {
		parts = append(parts,
			"box=1",
			"boxcolor="+mustEncodeColor(bg.Color, bg.Alpha),
			fmt.Sprintf("boxborderw=%d", bg.Padding),
		)
	}
	if bd := cfg.Border; bd != nil {
		parts = append(parts,
			fmt.Sprintf("borderw=%d", bd.Width),
			"bordercolor="+mustEncodeColor(bd.Color, bd.Alpha),
		)
	}
	if sh := cfg.Shadow; sh != nil && sh.Blur == 0 {
		parts = append(parts,
			fmt.Sprintf("shadowx=%d", sh.OffsetX),
			fmt.Sprintf("shadowy=%d", sh.OffsetY),
			"shadowcolor="+mustEncodeColor(sh.Color, sh.Alpha),
		)
	}
	return strings.Join(parts, ":")
}

// complexTextStage renders rotated text and blurred shadows, which the plain
// drawtext filter cannot express. The text is drawn on a transparent canvas
// sized to its box, transformed, and composited back at an offset keeping
// the text centered on its resolved position.
func complexTextStage(cfg *operation.TextOverlay, frame Frame, at Point, box Size, anim *Expr) (Stage, error) {
	var b strings.Builder
	chain := "0:v"

	if sh := cfg.Shadow; sh != nil && sh.Blur > 0 {
		// Shadow pass: same text in the shadow color, blurred, under the text.
		shadowCfg := *cfg
		shadowCfg.Style.Color = sh.Color
		shadowCfg.Style.Alpha = sh.Alpha
		shadowCfg.Background = nil
		shadowCfg.Border = nil
		shadowCfg.Shadow = nil
		d := drawtextParams(&shadowCfg, fmt.Sprintf("%d", at.X+sh.OffsetX), fmt.Sprintf("%d", at.Y+sh.OffsetY), anim)
		fmt.Fprintf(&b, "color=c=black@0:s=%dx%d:d=%s,drawtext=%s,gblur=sigma=%d[sh];",
			frame.Width, frame.Height, num(canvasDuration(frame)), d, sh.Blur)
		fmt.Fprintf(&b, "[%s][sh]overlay=0:0[b1];", chain)
		chain = "b1"
	}

	if cfg.Style.Rotation != 0 {
		theta := cfg.Style.Rotation * math.Pi / 180
		rotW := int(math.Ceil(math.Abs(float64(box.W)*math.Cos(theta)) + math.Abs(float64(box.H)*math.Sin(theta))))
		rotH := int(math.Ceil(math.Abs(float64(box.W)*math.Sin(theta)) + math.Abs(float64(box.H)*math.Cos(theta))))

		noShadow := *cfg
		noShadow.Shadow = nil
		d := drawtextParams(&noShadow, "0", "0", anim)
		fmt.Fprintf(&b, "color=c=black@0:s=%dx%d:d=%s,drawtext=%s,rotate=%s*PI/180:ow=%d:oh=%d:c=none[txt];",
			box.W, box.H, num(canvasDuration(frame)), d, num(cfg.Style.Rotation), rotW, rotH)
		// Composite so the rotated box stays centered on the resolved position.
		ox := overlayCoord(at.X, (rotW-box.W)/2, anim, ParamX)
		oy := overlayCoord(at.Y, (rotH-box.H)/2, anim, ParamY)
		fmt.Fprintf(&b, "[%s][txt]overlay=%s:%s[vout]", chain, ox, oy)
	} else {
		noShadow := *cfg
		noShadow.Shadow = nil
		d := drawtextParams(&noShadow, param(at.X, anim, ParamX), param(at.Y, anim, ParamY), anim)
		fmt.Fprintf(&b, "[%s]drawtext=%s[vout]", chain, d)
	}

	st := Stage{Kind: StageDrawText, Graph: b.String(), Complex: true}
	if anim != nil {
		st.TimeExpr = anim.Formula
	}
	return st, nil
}

// overlayCoord shifts a static or animated coordinate by the rotation
// padding so the transformed box lands where the untransformed one would.
func overlayCoord(static, shift int, anim *Expr, p Param) string {
	if anim != nil && anim.Param == p {
		return fmt.Sprintf("'(%s)-%d'", anim.Formula, shift)
	}
	return fmt.Sprintf("%d", static-shift)
}

// canvasDuration keeps generated sources alive for the whole output; a zero
// probe duration falls back to a repeating last frame.
func canvasDuration(frame Frame) float64 {
	if frame.Duration > 0 {
		return frame.Duration
	}
	return 1
}

func compileAudioOverlay(cfg *operation.AudioOverlay, inputIdx int) Stage {
	var b strings.Builder
	fmt.Fprintf(&b, "[1:a]")
	if cfg.Offset > 0 {
		fmt.Fprintf(&b, "adelay=%d:all=1,", int(math.Round(cfg.Offset*1000)))
	}
	fmt.Fprintf(&b, "volume=%s", num(cfg.OverlayVolume))

	if cfg.Mode == operation.AudioModeMix {
		fmt.Fprintf(&b, "[ov];[0:a]volume=%s[orig];[orig][ov]amix=inputs=2:duration=first:normalize=0[aout]",
			num(cfg.OriginalVolume))
	} else {
		fmt.Fprintf(&b, "[aout]")
	}

	return Stage{
		Kind:        StageAudioOverlay,
		Graph:       b.String(),
		Complex:     true,
		ExtraInputs: []int{inputIdx},
	}
}

func compileVideoOverlay(cfg *operation.VideoOverlay, frame Frame, inputIdx int) Stage {
	var b strings.Builder

	fmt.Fprintf(&b, "[1:v]scale=%d:%d", cfg.Width, cfg.Height)
	if cfg.Shape == operation.ShapeCircle {
		// Alpha-mask everything outside the inscribed circle.
		r := min(cfg.Width, cfg.Height) / 2
		fmt.Fprintf(&b, ",format=rgba,geq=r='r(X,Y)':g='g(X,Y)':b='b(X,Y)':a='if(lte(hypot(X-%d,Y-%d),%d),alpha(X,Y),0)'",
			cfg.Width/2, cfg.Height/2, r)
	}
	x, y := cfg.X, cfg.Y
	if bd := cfg.Border; bd != nil {
		fmt.Fprintf(&b, ",pad=%d:%d:%d:%d:color=%s",
			cfg.Width+2*bd.Width, cfg.Height+2*bd.Width, bd.Width, bd.Width, mustEncodeColor(bd.Color, bd.Alpha))
		x -= bd.Width
		y -= bd.Width
	}
	fmt.Fprintf(&b, "[ov];")

	chain := "0:v"
	if sh := cfg.Shadow; sh != nil {
		fmt.Fprintf(&b, "color=c=%s:s=%dx%d:d=%s", mustEncodeColor(sh.Color, sh.Alpha), cfg.Width, cfg.Height, num(canvasDuration(frame)))
		if sh.Blur > 0 {
			fmt.Fprintf(&b, ",gblur=sigma=%d", sh.Blur)
		}
		fmt.Fprintf(&b, "[shd];[%s][shd]overlay=%d:%d[b1];", chain, cfg.X+sh.OffsetX, cfg.Y+sh.OffsetY)
		chain = "b1"
	}
	fmt.Fprintf(&b, "[%s][ov]overlay=%d:%d[vout]", chain, x, y)

	return Stage{
		Kind:        StageVideoOverlay,
		Graph:       b.String(),
		Complex:     true,
		ExtraInputs: []int{inputIdx},
	}
}

func compileSubtitles(cfg *operation.Subtitles, frame Frame) (Stage, error) {
	script, err := RenderSubtitleScript(cfg, frame)
	if err != nil {
		return Stage{}, err
	}
	return Stage{Kind: StageSubtitles, Script: script}, nil
}
