package repo

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when a sweep visit could not take the row lock
	// this tick (another request or sweep holds it).
	ErrLocked = errors.New("row locked")

	// ErrInsufficientCredits is returned by conditional wallet decrements
	// when the balance cannot cover the charge.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
