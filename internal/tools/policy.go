package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrExecDisabled is returned when run commands are turned off.
	ErrExecDisabled = errors.New("execution disabled by configuration")
	// ErrCommandDenied is returned when a command fails the allow/deny lists.
	ErrCommandDenied = errors.New("command denied")
)

// CommandPolicy decides whether a run command may be started.
type CommandPolicy struct {
	AllowExecution bool
	Allowed        []string
	Denied         []string
}

// Check validates argv against the policy. Only the program name is inspected.
func (p *CommandPolicy) Check(argv []string) error {
	if !p.AllowExecution {
		return ErrExecDisabled
	}
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return fmt.Errorf("command is required")
	}
	name := strings.ToLower(filepath.Base(argv[0]))
	for _, deny := range p.Denied {
		if name == strings.ToLower(deny) {
			return fmt.Errorf("%w: %q is in denylist", ErrCommandDenied, argv[0])
		}
	}
	if len(p.Allowed) == 0 {
		return nil
	}
	for _, allow := range p.Allowed {
		if name == strings.ToLower(allow) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not in allowlist", ErrCommandDenied, argv[0])
}
