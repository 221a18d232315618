// Package operation defines the declarative configuration accepted for each
// media-transformation type and the validation rules that bound it. Configs
// are pure data; compiling them into engine filter stages lives in the filter
// package.
package operation

import (
	"encoding/json"
	"fmt"
)

// Type names one supported transformation.
type Type string

const (
	TypeJoin         Type = "join"
	TypeAudioOverlay Type = "audio-overlay"
	TypeTextOverlay  Type = "text-overlay"
	TypeSubtitles    Type = "subtitles"
	TypeVideoOverlay Type = "video-overlay"
	TypeCombined     Type = "combined"
)

// Types lists every supported operation type.
func Types() []Type {
	return []Type{TypeJoin, TypeAudioOverlay, TypeTextOverlay, TypeSubtitles, TypeVideoOverlay, TypeCombined}
}

// Valid reports whether t is a known operation type.
func (t Type) Valid() bool {
	switch t {
	case TypeJoin, TypeAudioOverlay, TypeTextOverlay, TypeSubtitles, TypeVideoOverlay, TypeCombined:
		return true
	}
	return false
}

// Anchor names one of the nine relative screen positions an overlay can be
// pinned to.
type Anchor string

const (
	AnchorTopLeft      Anchor = "top-left"
	AnchorTopCenter    Anchor = "top-center"
	AnchorTopRight     Anchor = "top-right"
	AnchorCenterLeft   Anchor = "center-left"
	AnchorCenter       Anchor = "center"
	AnchorCenterRight  Anchor = "center-right"
	AnchorBottomLeft   Anchor = "bottom-left"
	AnchorBottomCenter Anchor = "bottom-center"
	AnchorBottomRight  Anchor = "bottom-right"
)

// Anchors lists the nine valid anchors.
func Anchors() []Anchor {
	return []Anchor{
		AnchorTopLeft, AnchorTopCenter, AnchorTopRight,
		AnchorCenterLeft, AnchorCenter, AnchorCenterRight,
		AnchorBottomLeft, AnchorBottomCenter, AnchorBottomRight,
	}
}

// Valid reports whether a is one of the nine named anchors.
func (a Anchor) Valid() bool {
	for _, known := range Anchors() {
		if a == known {
			return true
		}
	}
	return false
}

// AnimationKind names a supported overlay animation.
type AnimationKind string

const (
	AnimationFadeIn      AnimationKind = "fade-in"
	AnimationFadeOut     AnimationKind = "fade-out"
	AnimationFade        AnimationKind = "fade"
	AnimationSlideLeft   AnimationKind = "slide-left"
	AnimationSlideRight  AnimationKind = "slide-right"
	AnimationSlideTop    AnimationKind = "slide-top"
	AnimationSlideBottom AnimationKind = "slide-bottom"
	AnimationZoomIn      AnimationKind = "zoom-in"
	AnimationZoomOut     AnimationKind = "zoom-out"
)

// Valid reports whether k is a known animation kind.
func (k AnimationKind) Valid() bool {
	switch k {
	case AnimationFadeIn, AnimationFadeOut, AnimationFade,
		AnimationSlideLeft, AnimationSlideRight, AnimationSlideTop, AnimationSlideBottom,
		AnimationZoomIn, AnimationZoomOut:
		return true
	}
	return false
}

// AudioMode selects how an audio overlay combines with the original track.
type AudioMode string

const (
	AudioModeReplace AudioMode = "replace"
	AudioModeMix     AudioMode = "mix"
)

// OverlayShape selects the visible outline of a video overlay.
type OverlayShape string

const (
	ShapeRectangle OverlayShape = "rectangle"
	ShapeCircle    OverlayShape = "circle"
)

// Position places an overlay either absolutely or relative to one of the
// nine anchors with optional margins. Absolute mode is selected by leaving
// Anchor empty.
type Position struct {
	X       int    `json:"x" mapstructure:"x"`
	Y       int    `json:"y" mapstructure:"y"`
	Anchor  Anchor `json:"anchor,omitempty" mapstructure:"anchor" validate:"omitempty,anchor"`
	MarginX int    `json:"marginX,omitempty" mapstructure:"marginX" validate:"min=0"`
	MarginY int    `json:"marginY,omitempty" mapstructure:"marginY" validate:"min=0"`
}

// Relative reports whether the position resolves against an anchor.
func (p Position) Relative() bool { return p.Anchor != "" }

// Style carries the text rendering attributes of a text overlay.
type Style struct {
	FontFamily string  `json:"fontFamily,omitempty" mapstructure:"fontFamily"`
	FontSize   int     `json:"fontSize" mapstructure:"fontSize" validate:"min=8,max=200"`
	FontWeight string  `json:"fontWeight,omitempty" mapstructure:"fontWeight"`
	Color      string  `json:"color" mapstructure:"color" validate:"hexcolor6"`
	Alpha      float64 `json:"alpha" mapstructure:"alpha" validate:"min=0,max=1"`
	Rotation   float64 `json:"rotation,omitempty" mapstructure:"rotation" validate:"min=-360,max=360"`
}

// Background draws a filled box behind overlay text.
type Background struct {
	Color   string  `json:"color" mapstructure:"color" validate:"hexcolor6"`
	Alpha   float64 `json:"alpha" mapstructure:"alpha" validate:"min=0,max=1"`
	Padding int     `json:"padding,omitempty" mapstructure:"padding" validate:"min=0"`
}

// Border outlines overlay text or a video overlay.
type Border struct {
	Color string  `json:"color" mapstructure:"color" validate:"hexcolor6"`
	Alpha float64 `json:"alpha" mapstructure:"alpha" validate:"min=0,max=1"`
	Width int     `json:"width" mapstructure:"width" validate:"min=1,max=20"`
}

// Shadow casts a blurred offset copy behind overlay text or a video overlay.
type Shadow struct {
	Color   string  `json:"color" mapstructure:"color" validate:"hexcolor6"`
	Alpha   float64 `json:"alpha" mapstructure:"alpha" validate:"min=0,max=1"`
	OffsetX int     `json:"offsetX" mapstructure:"offsetX" validate:"min=-50,max=50"`
	OffsetY int     `json:"offsetY" mapstructure:"offsetY" validate:"min=-50,max=50"`
	Blur    int     `json:"blur" mapstructure:"blur" validate:"min=0,max=20"`
}

// Animation describes a time-parameterized entrance or exit effect.
// Duration and Delay are in seconds.
type Animation struct {
	Kind     AnimationKind `json:"kind" mapstructure:"kind" validate:"animationkind"`
	Duration float64       `json:"duration" mapstructure:"duration" validate:"gt=0,max=300"`
	Delay    float64       `json:"delay,omitempty" mapstructure:"delay" validate:"min=0,max=3600"`
}

// TextOverlay renders styled text onto the base video.
type TextOverlay struct {
	Text       string      `json:"text" mapstructure:"text" validate:"required,max=1000"`
	Position   Position    `json:"position" mapstructure:"position"`
	Style      Style       `json:"style" mapstructure:"style"`
	Background *Background `json:"background,omitempty" mapstructure:"background"`
	Border     *Border     `json:"border,omitempty" mapstructure:"border"`
	Shadow     *Shadow     `json:"shadow,omitempty" mapstructure:"shadow"`
	Animation  *Animation  `json:"animation,omitempty" mapstructure:"animation"`
}

// AudioOverlay lays a second audio track over (or in place of) the original.
// Offset is in seconds from the start of the base video.
type AudioOverlay struct {
	Mode           AudioMode `json:"mode" mapstructure:"mode" validate:"oneof=replace mix"`
	OverlayVolume  float64   `json:"overlayVolume" mapstructure:"overlayVolume" validate:"min=0,max=10"`
	OriginalVolume float64   `json:"originalVolume" mapstructure:"originalVolume" validate:"min=0,max=10"`
	Offset         float64   `json:"offset,omitempty" mapstructure:"offset" validate:"min=0"`
}

// VideoOverlay composites a second video (picture-in-picture) onto the base.
type VideoOverlay struct {
	X      int          `json:"x" mapstructure:"x" validate:"min=0"`
	Y      int          `json:"y" mapstructure:"y" validate:"min=0"`
	Width  int          `json:"width" mapstructure:"width" validate:"min=16,max=7680"`
	Height int          `json:"height" mapstructure:"height" validate:"min=16,max=4320"`
	Shape  OverlayShape `json:"shape,omitempty" mapstructure:"shape" validate:"omitempty,oneof=rectangle circle"`
	Border *Border      `json:"border,omitempty" mapstructure:"border"`
	Shadow *Shadow      `json:"shadow,omitempty" mapstructure:"shadow"`
}

// SubtitleCue is one timed caption. Start and End are in seconds.
type SubtitleCue struct {
	Start float64 `json:"start" mapstructure:"start" validate:"min=0"`
	End   float64 `json:"end" mapstructure:"end" validate:"gt=0"`
	Text  string  `json:"text" mapstructure:"text" validate:"required,max=1000"`
}

// SubtitleStyle carries the caption rendering attributes.
type SubtitleStyle struct {
	FontFamily   string  `json:"fontFamily,omitempty" mapstructure:"fontFamily"`
	FontSize     int     `json:"fontSize" mapstructure:"fontSize" validate:"min=8,max=200"`
	Color        string  `json:"color" mapstructure:"color" validate:"hexcolor6"`
	OutlineColor string  `json:"outlineColor,omitempty" mapstructure:"outlineColor" validate:"omitempty,hexcolor6"`
	BackColor    string  `json:"backColor,omitempty" mapstructure:"backColor" validate:"omitempty,hexcolor6"`
	Alpha        float64 `json:"alpha" mapstructure:"alpha" validate:"min=0,max=1"`
	Anchor       Anchor  `json:"anchor,omitempty" mapstructure:"anchor" validate:"omitempty,anchor"`
}

// Subtitles burns a list of timed cues into the base video.
type Subtitles struct {
	Cues  []SubtitleCue `json:"cues" mapstructure:"cues" validate:"required,min=1,dive"`
	Style SubtitleStyle `json:"style" mapstructure:"style"`
}

// Join concatenates the task's input clips in order. Container settings are
// optional re-encode hints for the final output.
type Join struct {
	Container string `json:"container,omitempty" mapstructure:"container" validate:"omitempty,oneof=mp4 mov mkv webm"`
}

// Config is the tagged union over operation types: exactly the variant
// matching Type is non-nil. Combined holds an ordered list of sub-operation
// configs applied to a shared base input, each consuming the prior stage's
// output.
type Config struct {
	Type         Type          `json:"type"`
	Join         *Join         `json:"join,omitempty"`
	AudioOverlay *AudioOverlay `json:"audioOverlay,omitempty"`
	TextOverlay  *TextOverlay  `json:"textOverlay,omitempty"`
	Subtitles    *Subtitles    `json:"subtitles,omitempty"`
	VideoOverlay *VideoOverlay `json:"videoOverlay,omitempty"`
	Combined     []Config      `json:"combined,omitempty"`
}

// variant returns the populated variant pointer, or nil when the config does
// not carry the one its Type requires.
func (c Config) variant() any {
	switch c.Type {
	case TypeJoin:
		if c.Join != nil {
			return c.Join
		}
	case TypeAudioOverlay:
		if c.AudioOverlay != nil {
			return c.AudioOverlay
		}
	case TypeTextOverlay:
		if c.TextOverlay != nil {
			return c.TextOverlay
		}
	case TypeSubtitles:
		if c.Subtitles != nil {
			return c.Subtitles
		}
	case TypeVideoOverlay:
		if c.VideoOverlay != nil {
			return c.VideoOverlay
		}
	}
	return nil
}

// InputsRequired returns how many input references the configuration
// consumes: the base video plus one extra per overlayed media file, or the
// clip count for a join.
func (c Config) InputsRequired() int {
	switch c.Type {
	case TypeJoin:
		// At least two clips; the actual count is however many the caller
		// submits, validated against MinJoinInputs.
		return MinJoinInputs
	case TypeAudioOverlay, TypeVideoOverlay:
		return 2
	case TypeCombined:
		n := 1
		for _, sub := range c.Combined {
			switch sub.Type {
			case TypeAudioOverlay, TypeVideoOverlay:
				n++
			}
		}
		return n
	default:
		return 1
	}
}

// MinJoinInputs is the smallest clip count a join accepts.
const MinJoinInputs = 2

// String renders the config compactly for logs.
func (c Config) String() string {
	if c.Type == TypeCombined {
		return fmt.Sprintf("%s(%d ops)", c.Type, len(c.Combined))
	}
	return string(c.Type)
}

// Clone returns a deep copy, so a stored task config cannot alias caller
// memory.
func (c Config) Clone() Config {
	raw, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out Config
	if err := json.Unmarshal(raw, &out); err != nil {
		return c
	}
	return out
}
