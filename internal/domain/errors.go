package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrUnknownTool     = errors.New("domain: unknown tool")
	ErrSessionNotFound = errors.New("domain: session not found")
	ErrSessionActive   = errors.New("domain: session already active")
)
