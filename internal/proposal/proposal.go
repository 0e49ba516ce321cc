// Package proposal gates file mutations suggested by the assistant behind explicit user approval.
package proposal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// State is the lifecycle position of a proposal.
type State string

const (
	StateProposed State = "proposed"
	StateApproved State = "approved"
	StateApplied  State = "applied"
	StateRejected State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateRejected
}

// Operation is the kind of write a proposal performs.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpCreate, OpModify:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

var (
	ErrNotFound          = errors.New("proposal not found")
	ErrInvalidTransition = errors.New("invalid proposal transition")
	ErrConflict          = errors.New("proposal superseded")
	ErrWriteFailure      = errors.New("proposal write failed")
)

// ConflictError reports the live proposal a new one replaced. It matches ErrConflict.
type ConflictError struct {
	Superseded Proposal
	By         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s for %s replaced by %s", ErrConflict, e.Superseded.ID, e.Superseded.TargetPath, e.By)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Proposal is a pending create or modify of one file.
type Proposal struct {
	ID           string    `json:"id"`
	TargetPath   string    `json:"target_path"`
	Content      string    `json:"content,omitempty"`
	Operation    Operation `json:"operation"`
	State        State     `json:"state"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// armed is set by Approve and cleared by a failed Apply.
	armed bool
}

// Armed reports whether Apply may proceed.
func (p Proposal) Armed() bool { return p.armed }

// NormalizePath cleans a workspace-relative path into the ledger key form.
func NormalizePath(p string) (string, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return "", errors.New("target path is required")
	}
	clean := filepath.ToSlash(filepath.Clean(trimmed))
	if clean == "." {
		return "", fmt.Errorf("target path %q names no file", p)
	}
	return clean, nil
}
