package store

import "errors"

// ErrChatNotFound is returned when a chat id has no persisted aggregate.
var ErrChatNotFound = errors.New("chat not found")
