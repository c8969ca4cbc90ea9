package wallet

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRegistrationMissing = errors.New("registration not found")
	ErrInvalidPushToken    = errors.New("push token permanently invalid")
)
