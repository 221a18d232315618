package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitArgs splits an operator-supplied argument string into a slice of
// arguments. It prevents shell injection by not using a shell.
func SplitArgs(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// SanitizeArgs checks split arguments for shell-like metacharacters. The
// engine never runs through a shell, so these can only be configuration
// mistakes or an injection attempt riding a config template.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
