package statemachine

import (
	"errors"
	"strings"
)

// ErrInvalidTransition is wrapped by every rejected transition
var ErrInvalidTransition = errors.New("invalid state transition")

// CompletionPolicy decides which movement types may complete straight from
// requested, skipping approval.
type CompletionPolicy struct {
	selfComplete map[string]bool
}

// NewCompletionPolicy builds a policy from movement type names
func NewCompletionPolicy(types []string) CompletionPolicy {
	p := CompletionPolicy{selfComplete: make(map[string]bool, len(types))}
	for _, t := range types {
		p.selfComplete[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return p
}

// AllowsSelfComplete reports whether movementType may skip approval
func (p CompletionPolicy) AllowsSelfComplete(movementType string) bool {
	return p.selfComplete[movementType]
}
