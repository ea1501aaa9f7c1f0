package domain

import "errors"

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrIdentityExists        = errors.New("identity already has a session")
	ErrIDGenerationExhausted = errors.New("id generation attempts exhausted")
)
