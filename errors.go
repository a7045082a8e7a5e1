package flexihash

import "errors"

var (
	// ErrDuplicateTarget is returned when adding a target that is already on the ring.
	ErrDuplicateTarget = errors.New("target already exists")
	// ErrUnknownTarget is returned when removing a target that is not on the ring.
	ErrUnknownTarget = errors.New("target does not exist")
	// ErrEmptyRing is returned by Lookup when no targets exist.
	ErrEmptyRing = errors.New("no targets exist")

	ErrInvalidReplicas = errors.New("replicas must be a positive integer")
	ErrInvalidWeight   = errors.New("weight must be a non-negative number")
)
