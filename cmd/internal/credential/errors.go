package credential

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("credential not found")
	ErrAlreadyIssued = errors.New("credential already issued for user")
)
