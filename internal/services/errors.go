package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned for unknown alerts, policies, schedules and groups
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when the state machine rejects a transition
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidConfiguration is returned for malformed policies and schedules
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrConcurrentModification is returned when another writer won a race.
	// Callers should skip rather than retry within the same cycle.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// notFound wraps gorm.ErrRecordNotFound into ErrNotFound, leaving other errors untouched
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

// conflict maps a duplicate key error into ErrConcurrentModification
func conflict(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConcurrentModification)
	}
	return err
}

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
