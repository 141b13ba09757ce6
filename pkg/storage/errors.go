package storage

import "errors"

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrAlreadyPublished is returned by the conditional publish flip when
	// another request published the submission first.
	ErrAlreadyPublished = errors.New("submission already published")
)
