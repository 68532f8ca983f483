package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a referenced clip, project, job or asset that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation reports input that was rejected before any state changed.
	ErrValidation = errors.New("validation failed")
	// ErrExternal reports a transient storage or job-source failure.
	ErrExternal = errors.New("external failure")
	// ErrProvider reports a generation job that the provider terminally failed.
	ErrProvider = errors.New("provider failure")
)

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// External wraps err as an ExternalFailure unless it already carries a taxonomy error.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrExternal) || errors.Is(err, ErrProvider) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExternal, err)
}

func ProviderFailure(jobID, message string) error {
	if message == "" {
		message = "generation failed"
	}
	return fmt.Errorf("job %s: %s: %w", jobID, message, ErrProvider)
}
