package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrConversationNotFound is returned when a conversation is not found
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrResponseNotFound is returned when a response is not found
	ErrResponseNotFound = errors.New("response not found")

	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")

	// ErrOrganizationNotFound is returned when an organization is not found
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrSignatureNotFound is returned when no signature is stored for a chat id
	ErrSignatureNotFound = errors.New("signature not found")

	// ErrDuplicateRootResponse is returned when a second root response is
	// inserted into a conversation; callers retry as non-root.
	ErrDuplicateRootResponse = errors.New("conversation already has a root response")

	// ErrTerminalState is returned when updating a response that already
	// reached a terminal state.
	ErrTerminalState = errors.New("response is in a terminal state")
)
