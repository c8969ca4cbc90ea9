package redemption

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrWindowNotFound    = errors.New("window not found")
	ErrEventNotFound     = errors.New("redemption event not found")
	ErrUnknownCredential = errors.New("unknown credential")
)
