package store

import (
	"fmt"
	"sync"
	"time"

	"chatstore/pkg/chat"
	"chatstore/pkg/models"
)

// The registry caches loaded chat aggregates and serializes access per
// chat. Mutations run under the chat's lock and persist their delta
// before the lock is released, so readers never observe unpersisted
// state from another request.

type chatEntry struct {
	mu sync.Mutex
	ce *chat.ChatEvents
}

var (
	regMu    sync.Mutex
	registry = map[string]*chatEntry{}
)

func entryFor(chatID string) *chatEntry {
	regMu.Lock()
	defer regMu.Unlock()
	e, ok := registry[chatID]
	if !ok {
		e = &chatEntry{}
		registry[chatID] = e
	}
	return e
}

// resetRegistry drops all cached aggregates. Called on Close.
func resetRegistry() {
	regMu.Lock()
	defer regMu.Unlock()
	registry = map[string]*chatEntry{}
}

// CreateChat creates and persists a new chat aggregate. It fails if the
// chat already exists.
func CreateChat(chatID string, createdBy models.UserID, historyVisible bool, ttl time.Duration, seed int64) error {
	e := entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ce != nil {
		return fmt.Errorf("chat %s already exists", chatID)
	}
	if _, err := LoadChat(chatID); err == nil {
		return fmt.Errorf("chat %s already exists", chatID)
	}
	ce := chat.New(chatID, createdBy, historyVisible, ttl, seed, time.Now().UTC().UnixNano())
	if err := Persist(ce); err != nil {
		return err
	}
	e.ce = ce
	return nil
}

// WithChat runs fn on the chat aggregate under its lock and persists the
// resulting delta. When fn returns an error the cached aggregate is
// dropped so the next access reloads clean state from disk.
func WithChat(chatID string, fn func(*chat.ChatEvents) error) error {
	e := entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ce == nil {
		ce, err := LoadChat(chatID)
		if err != nil {
			return err
		}
		e.ce = ce
	}
	if err := fn(e.ce); err != nil {
		e.ce = nil
		return err
	}
	if err := Persist(e.ce); err != nil {
		e.ce = nil
		return err
	}
	return nil
}

// ViewChat runs fn on the chat aggregate under its lock without
// persisting. fn must not mutate the aggregate.
func ViewChat(chatID string, fn func(*chat.ChatEvents) error) error {
	e := entryFor(chatID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ce == nil {
		ce, err := LoadChat(chatID)
		if err != nil {
			return err
		}
		e.ce = ce
	}
	return fn(e.ce)
}

// EvictChat drops the cached aggregate for chatID, if any.
func EvictChat(chatID string) {
	regMu.Lock()
	defer regMu.Unlock()
	delete(registry, chatID)
}
