package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound         = errors.New("resource not found")
	ErrVertexNotFound   = fmt.Errorf("%w: vertex", ErrNotFound)
	ErrModelNotFound    = fmt.Errorf("%w: learned model", ErrNotFound)
	ErrVariableNotFound = fmt.Errorf("%w: sample variable", ErrNotFound)

	// Graph errors
	ErrCycle       = errors.New("edge would create a cycle")
	ErrDuplicate   = errors.New("duplicate vertex")
	ErrSelfLoop    = errors.New("self loop")
	ErrNotLeaf     = errors.New("target is not a leaf")
	ErrNotAffected = errors.New("target is not a descendant of proxy")

	// Sample and intervention errors
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrUnknownFunction     = errors.New("unknown intervention function")
	ErrArity               = errors.New("wrong number of intervention parameters")
	ErrTooFewInterventions = errors.New("at least two interventions are required")
	ErrNothingToTrain      = errors.New("no trainable parameters")
	ErrInsufficientData    = errors.New("insufficient data")
)

// Error constructors with context
func NewVertexNotFoundError(name string) error {
	return fmt.Errorf("%w: %s", ErrVertexNotFound, name)
}

func NewShapeError(what string, want, got int) error {
	return fmt.Errorf("%w: %s expected %d, got %d", ErrShapeMismatch, what, want, got)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsGraphError(err error) bool {
	return errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrSelfLoop)
}
