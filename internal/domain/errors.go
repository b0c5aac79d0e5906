package domain

import "errors"

// Domain errors
var (
	ErrEmptyName      = errors.New("player name must not be empty")
	ErrNameTooLong    = errors.New("player name exceeds 20 characters")
	ErrInvalidTeam    = errors.New("team must be blue or red")
	ErrInvalidFormat  = errors.New("payload is not a valid game QR code")
	ErrDuplicateScan  = errors.New("QR code already scanned by this team")
	ErrNotRegistered  = errors.New("no player registered for this session")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsValidationError checks if an error is a locally recoverable input error
// that blocks the action without touching any state.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrInvalidTeam) ||
		errors.Is(err, ErrInvalidFormat)
}
