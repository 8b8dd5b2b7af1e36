package app

import (
	"errors"
	"fmt"

	"audimeta/pkg/domain"
)

// ErrRunInProgress is returned when a scheduler run is requested while one is active.
var ErrRunInProgress = errors.New("scheduler run already in progress")

// wrapf adds context to infrastructure errors. Domain errors pass through
// untouched so the boundary can map them to a status.
func wrapf(err error, format string, args ...any) error {
	if err == nil || domain.IsDomainError(err) {
		return err
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
