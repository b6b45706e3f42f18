package service

import "errors"

// Service errors mapped to HTTP answers by the handlers
var (
	// ErrUserExists is returned on signup with a taken email
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned on a failed login
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidInput wraps validation failures of user input
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState is returned when an OAuth state is unknown, expired or already used
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrConnectionInactive is returned when syncing a disconnected provider
	ErrConnectionInactive = errors.New("connection is not active")

	// ErrRateLimited is returned when a caller exceeded its request budget
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNothingToExport is returned when the user holds no records
	ErrNothingToExport = errors.New("no records to export")
)
