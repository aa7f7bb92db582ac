// Package proctor implements the proctored test session: the countdown clock,
// violation tracking, the answer store and the controller that ties them together.
package proctor

import "errors"

var (
	ErrTypeKindMismatch = errors.New("answer kind does not match question kind")
	ErrUnknownQuestion  = errors.New("question does not belong to this test")
	ErrNilAnswer        = errors.New("answer is nil")
	ErrNotActive        = errors.New("session is not active")
	ErrNotLastQuestion  = errors.New("current question is not the last one")
	ErrAlreadyLoaded    = errors.New("session already loaded")
	ErrInvalidOption    = errors.New("selected option is out of range")
	ErrNotCoding        = errors.New("question is not a coding question")
	ErrNoRunner         = errors.New("code execution is not configured")
	ErrNotSubmitted     = errors.New("session has not been submitted")
	ErrCodeNeedsSubmit  = errors.New("coding answers are stored by submitting code")
)
