package models

import "errors"

var (
	ErrInvalidShape     = errors.New("invalid matrix shape")
	ErrNotEnoughData    = errors.New("not enough data")
	ErrStudyNotFound    = errors.New("study not found")
	ErrNoCompletedTrial = errors.New("no trial completed")
	ErrPathOutsideRoot  = errors.New("path escapes write root")
)

// ErrInvalidTarget reports a target vector with missing or non-finite values.
var ErrInvalidTarget = errors.New("invalid target vector")

// ErrCodeTooLarge is returned when a write_code payload exceeds the configured cap.
var ErrCodeTooLarge = errors.New("code payload too large")
