package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned when no attempt exists for the key.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrUnauthorized is returned when no authenticated principal was supplied.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCorruptState indicates a persisted attempt that cannot be parsed and
	// cannot be recovered from its startedAt timestamp.
	ErrCorruptState = errors.New("corrupt attempt state")
	// ErrAttemptCompleted is returned when loading or mutating an attempt that
	// has already been finalized.
	ErrAttemptCompleted = errors.New("attempt already completed")
	// ErrAlreadyFinalized is returned by the conditional finalize write when
	// another session won the race; the caller should read the winner's result.
	ErrAlreadyFinalized = errors.New("attempt already finalized")
	// ErrResultNotFound is returned when no result record exists yet.
	ErrResultNotFound = errors.New("result not found")
)
