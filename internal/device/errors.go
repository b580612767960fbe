package device

import "errors"

// Sentinel errors for the fan registry. Check with errors.Is.
var (
	ErrFanNotFound = errors.New("device: fan not found")
	ErrFanExists   = errors.New("device: fan already exists")

	// ErrInvalidFan wraps every validation failure.
	ErrInvalidFan = errors.New("device: invalid fan")

	ErrInvalidName    = errors.New("device: invalid name")
	ErrInvalidAddress = errors.New("device: invalid address")
)
