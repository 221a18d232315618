package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EncodeColor converts a 6-hex-digit RGB string plus an opacity in [0,1]
// into the engine-native &HAABBGGRR form: byte order swapped to BBGGRR with
// a leading alpha byte. The engine stores transparency, not opacity, so full
// opacity encodes as alpha byte 0x00. That inversion is a compatibility
// requirement of the execution engine and must not be "fixed" here.
func EncodeColor(rgb string, alpha float64) (string, error) {
	if len(rgb) != 6 {
		return "", fmt.Errorf("color %q: want 6 hex digits", rgb)
	}
	v, err := strconv.ParseUint(rgb, 16, 32)
	if err != nil {
		return "", fmt.Errorf("color %q: %w", rgb, err)
	}
	if alpha < 0 || alpha > 1 {
		return "", fmt.Errorf("alpha %v outside [0,1]", alpha)
	}
	r := (v >> 16) & 0xFF
	g := (v >> 8) & 0xFF
	b := v & 0xFF
	a := uint64(math.Round((1 - alpha) * 255))
	return fmt.Sprintf("&H%02X%02X%02X%02X", a, b, g, r), nil
}

// DecodeColor reverses EncodeColor, recovering the upper-case RGB hex string
// and the opacity. Opacity is exact to within 1/255 of the encoded value.
func DecodeColor(encoded string) (rgb string, alpha float64, err error) {
	s := strings.TrimPrefix(encoded, "&H")
	if len(s) != 8 {
		return "", 0, fmt.Errorf("encoded color %q: want &H plus 8 hex digits", encoded)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("encoded color %q: %w", encoded, err)
	}
	a := (v >> 24) & 0xFF
	b := (v >> 16) & 0xFF
	g := (v >> 8) & 0xFF
	r := v & 0xFF
	rgb = fmt.Sprintf("%02X%02X%02X", r, g, b)
	alpha = 1 - float64(a)/255
	return rgb, alpha, nil
}

// mustEncodeColor is the compile-path shortcut for configurations that have
// already passed validation; malformed input indicates a validator bug.
func mustEncodeColor(rgb string, alpha float64) string {
	enc, err := EncodeColor(rgb, alpha)
	if err != nil {
		panic(fmt.Sprintf("filter: encoding validated color: %v", err))
	}
	return enc
}
