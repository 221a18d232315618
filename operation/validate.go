package operation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError names the single violated constraint that caused a request
// to be rejected. Validation fails fast: the first violation wins and the
// whole request is refused.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s violates %s", e.Field, e.Constraint)
}

func newValidationError(field, constraint string) *ValidationError {
	return &ValidationError{Field: field, Constraint: constraint}
}

var hexColorRe = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// RegisterValidation only errors on an empty tag name.
	_ = v.RegisterValidation("hexcolor6", func(fl validator.FieldLevel) bool {
		return hexColorRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("anchor", func(fl validator.FieldLevel) bool {
		return Anchor(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("animationkind", func(fl validator.FieldLevel) bool {
		return AnimationKind(fl.Field().String()).Valid()
	})
	return v
}

// Validate normalizes and bounds-checks a configuration, returning the
// normalized copy or a ValidationError naming the violated constraint. It is
// pure: no I/O, no engine calls.
func Validate(cfg Config) (Config, error) {
	cfg = cfg.Clone()
	if err := validateConfig(&cfg, ""); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config, path string) error {
	if !cfg.Type.Valid() {
		return newValidationError(joinPath(path, "type"), "one of join|audio-overlay|text-overlay|subtitles|video-overlay|combined")
	}

	if cfg.Type == TypeCombined {
		if path != "" {
			return newValidationError(joinPath(path, "type"), "combined operations cannot nest")
		}
		if len(cfg.Combined) == 0 {
			return newValidationError("combined", "at least one sub-operation")
		}
		for i := range cfg.Combined {
			if err := validateConfig(&cfg.Combined[i], fmt.Sprintf("combined[%d]", i)); err != nil {
				return err
			}
		}
		return nil
	}

	v := cfg.variant()
	if v == nil {
		return newValidationError(joinPath(path, string(cfg.Type)), "configuration block present")
	}

	if err := normalize(cfg, path); err != nil {
		return err
	}

	if err := validate.Struct(v); err != nil {
		return asValidationError(err, path)
	}

	return extraChecks(cfg, path)
}

// normalize trims user text in place and rejects text that is empty after
// trimming, before tag-based bounds run.
func normalize(cfg *Config, path string) error {
	switch cfg.Type {
	case TypeTextOverlay:
		cfg.TextOverlay.Text = strings.TrimSpace(cfg.TextOverlay.Text)
		if cfg.TextOverlay.Text == "" {
			return newValidationError(joinPath(path, "text"), "non-empty after trimming")
		}
	case TypeSubtitles:
		for i := range cfg.Subtitles.Cues {
			cue := &cfg.Subtitles.Cues[i]
			cue.Text = strings.TrimSpace(cue.Text)
			if cue.Text == "" {
				return newValidationError(joinPath(path, fmt.Sprintf("cues[%d].text", i)), "non-empty after trimming")
			}
		}
	}
	return nil
}

// extraChecks covers the cross-field rules struct tags cannot express.
func extraChecks(cfg *Config, path string) error {
	switch cfg.Type {
	case TypeSubtitles:
		var prevStart float64 = -1
		for i, cue := range cfg.Subtitles.Cues {
			if cue.End <= cue.Start {
				return newValidationError(joinPath(path, fmt.Sprintf("cues[%d]", i)), "end after start")
			}
			if cue.Start < prevStart {
				return newValidationError(joinPath(path, fmt.Sprintf("cues[%d]", i)), "cues ordered by start time")
			}
			prevStart = cue.Start
		}
	}
	return nil
}

// ValidateInputCount checks the submitted input references against what the
// configuration consumes.
func (c Config) ValidateInputCount(n int) error {
	switch c.Type {
	case TypeJoin:
		if n < MinJoinInputs {
			return newValidationError("inputs", fmt.Sprintf("join requires at least %d clips", MinJoinInputs))
		}
	case TypeCombined:
		if need := c.InputsRequired(); n != need {
			return newValidationError("inputs", fmt.Sprintf("combined requires exactly %d inputs", need))
		}
	default:
		if need := c.InputsRequired(); n != need {
			return newValidationError("inputs", fmt.Sprintf("%s requires exactly %d input(s)", c.Type, need))
		}
	}
	return nil
}

// asValidationError converts the first go-playground violation into the
// package error type, keeping the violated tag visible to the caller.
func asValidationError(err error, path string) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		constraint := fe.Tag()
		if fe.Param() != "" {
			constraint = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return newValidationError(joinPath(path, fieldPath(fe)), constraint)
	}
	return newValidationError(joinPath(path, "config"), err.Error())
}

// fieldPath strips the variant type prefix from a validator namespace, so
// "TextOverlay.Style.FontSize" reads as "style.fontSize".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToLower(p[:1]) + p[1:]
	}
	return strings.Join(parts, ".")
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
