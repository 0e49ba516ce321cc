package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateSpec performs minimal validation of an invocation before anything is started.
func ValidateSpec(spec InvocationSpec) error {
	if spec.Kind.Order() == len(Kinds) {
		return fmt.Errorf("unknown tool kind %q", spec.Kind)
	}
	if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
		return errors.New("command is required")
	}
	if spec.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if spec.FileExt != "" && !strings.HasPrefix(spec.FileExt, ".") {
		return fmt.Errorf("file extension %q must start with a dot", spec.FileExt)
	}
	if spec.FileExt != "" && strings.ContainsAny(spec.FileExt, `/\`) {
		return fmt.Errorf("file extension %q must not contain path separators", spec.FileExt)
	}
	return nil
}
