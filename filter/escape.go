package filter

import "strings"

// escaper applies the engine's fixed substitution table in a single pass, so
// a backslash introduced by one substitution is never re-escaped by another.
// The backslash pair is listed first: it must win before any pair that emits
// a backslash.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`:`, `\:`,
	`=`, `\=`,
	`#`, `\#`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
	`%`, `\%`,
)

// EscapeText renders user text safe for verbatim embedding in the engine's
// filter syntax. The substitution is applied exactly once.
func EscapeText(s string) string { return escaper.Replace(s) }
