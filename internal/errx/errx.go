// Package errx provides small helpers for annotating sentinel errors
// while keeping them matchable with errors.Is.
package errx

import "fmt"

// With appends formatted detail to a sentinel error.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}

// Wrap chains a cause onto a sentinel error. Both remain matchable.
func Wrap(sentinel error, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
