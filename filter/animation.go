package filter

import (
	"fmt"
	"strconv"

	"mediaforge/operation"
)

// Param identifies which stage parameter a compiled animation drives.
type Param string

const (
	ParamAlpha Param = "alpha"
	ParamX     Param = "x"
	ParamY     Param = "y"
	ParamScale Param = "scale"
)

// Expr is a compiled animation: a formula over the frame timestamp t,
// evaluated by the engine once per output frame, bound to the parameter it
// replaces. The core never evaluates it.
type Expr struct {
	Param   Param
	Formula string
}

// CompileAnimation turns an animation request into its time expression.
// target is the resolved static position of the overlay; box its rendered
// size. Fades drive the opacity parameter, slides the position, zooms the
// scale.
func CompileAnimation(a operation.Animation, target Point, box Size, frame Size) (Expr, error) {
	d, delay := a.Duration, a.Delay
	switch a.Kind {
	case operation.AnimationFadeIn:
		return Expr{ParamAlpha, ramp(delay, d)}, nil
	case operation.AnimationFadeOut:
		return Expr{ParamAlpha, fmt.Sprintf("1-%s", ramp(delay, d))}, nil
	case operation.AnimationFade:
		// In over the first half, out over the second.
		half := d / 2
		return Expr{ParamAlpha, fmt.Sprintf("%s-%s", ramp(delay, half), ramp(delay+half, half))}, nil
	case operation.AnimationSlideLeft:
		return Expr{ParamX, lerp(float64(-box.W), float64(target.X), delay, d)}, nil
	case operation.AnimationSlideRight:
		return Expr{ParamX, lerp(float64(frame.W), float64(target.X), delay, d)}, nil
	case operation.AnimationSlideTop:
		return Expr{ParamY, lerp(float64(-box.H), float64(target.Y), delay, d)}, nil
	case operation.AnimationSlideBottom:
		return Expr{ParamY, lerp(float64(frame.H), float64(target.Y), delay, d)}, nil
	case operation.AnimationZoomIn:
		return Expr{ParamScale, ramp(delay, d)}, nil
	case operation.AnimationZoomOut:
		return Expr{ParamScale, fmt.Sprintf("1-%s", ramp(delay, d))}, nil
	default:
		return Expr{}, fmt.Errorf("unknown animation kind %q", a.Kind)
	}
}

// ramp is a clamped linear 0..1 over [delay, delay+duration].
func ramp(delay, duration float64) string {
	return fmt.Sprintf("clip((t-%s)/%s,0,1)", num(delay), num(duration))
}

// lerp linearly interpolates from..to over [delay, delay+duration], holding
// the endpoints outside the window.
func lerp(from, to, delay, duration float64) string {
	return fmt.Sprintf("%s+(%s)*%s", num(from), num(to-from), ramp(delay, duration))
}

// num renders a float without a trailing ".0" so expressions stay compact.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Point is a resolved top-left coordinate.
type Point struct{ X, Y int }

// Size is a width/height pair.
type Size struct{ W, H int }
