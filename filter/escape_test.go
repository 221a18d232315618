package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeText(t *testing.T) {
	t.Run("Every table character", func(t *testing.T) {
		assert.Equal(t, `\\ \' \: \= \# \[ \] \{ \} \%`, EscapeText(`\ ' : = # [ ] { } %`))
	})

	t.Run("Representative overlay text", func(t *testing.T) {
		assert.Equal(t, `O\'Brien\: 50\% \[test\]`, EscapeText(`O'Brien: 50% [test]`))
	})

	t.Run("Applied exactly once", func(t *testing.T) {
		// A backslash already adjacent to a table character must not cause
		// the substituted backslash to be escaped again.
		assert.Equal(t, `\\\:`, EscapeText(`\:`))
	})

	t.Run("Untouched characters", func(t *testing.T) {
		assert.Equal(t, "plain text, (parens); $5&", EscapeText("plain text, (parens); $5&"))
	})
}
