package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced matter, invoice or client does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input; nothing was changed.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientBalance indicates a payment larger than the remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrIllegalTransition indicates a status change not permitted from the current state.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrConcurrencyConflict indicates a concurrent writer won; the caller should retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrConfirmationRequired indicates the action needs an explicit confirm flag.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrForbidden indicates the actor lacks the permission.
	ErrForbidden = errors.New("forbidden")
)

// Wrap annotates a sentinel with a human readable detail while keeping errors.Is working.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// ConfirmationError asks the caller to repeat the request with an explicit
// confirmation. It matches ErrConfirmationRequired.
type ConfirmationError struct {
	Prompt string
}

func (e *ConfirmationError) Error() string {
	return ErrConfirmationRequired.Error() + ": " + e.Prompt
}

// Is reports whether target is ErrConfirmationRequired.
func (e *ConfirmationError) Is(target error) bool {
	return target == ErrConfirmationRequired
}

// NeedsConfirmation returns a ConfirmationError carrying prompt.
func NeedsConfirmation(prompt string) error {
	return &ConfirmationError{Prompt: prompt}
}

// UserSafeMessage returns the message that may be shown to an end user.
// A confirmation request yields its bare prompt.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var confirm *ConfirmationError
	if errors.As(err, &confirm) {
		return confirm.Prompt
	}
	for _, known := range []error{ErrNotFound, ErrValidation, ErrInsufficientBalance, ErrIllegalTransition, ErrConcurrencyConflict, ErrConfirmationRequired, ErrForbidden} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}
