package store

import (
	"fmt"
	"strconv"
	"strings"

	"chatstore/pkg/models"
)

// Key layout. Pebble orders keys lexicographically, so event indices are
// zero-padded to 20 digits and every record of one chat shares the
// "chat:<id>:" prefix:
//
//	chat:<id>:event:<%020d>                     event record
//	chat:<id>:expired                           expired-range list
//	chat:<id>:meta                              aggregate header
//	chat:<id>:msgid:<message id>                message-id -> event index
//	chat:<id>:thread:<%020d root>:event:<%020d> thread event record
//	chat:<id>:thread:<%020d root>:expired       thread expired ranges
//
// Chat ids must not contain ':'; callers validate at the boundary.

func chatPrefix(chatID string) string {
	return "chat:" + chatID + ":"
}

func padIndex(idx models.EventIndex) string {
	return fmt.Sprintf("%020d", uint64(idx))
}

func metaKey(chatID string) string {
	return chatPrefix(chatID) + "meta"
}

func expiredKey(chatID string, threadRoot *models.EventIndex) string {
	if threadRoot != nil {
		return chatPrefix(chatID) + "thread:" + padIndex(*threadRoot) + ":expired"
	}
	return chatPrefix(chatID) + "expired"
}

func eventKey(chatID string, threadRoot *models.EventIndex, idx models.EventIndex) string {
	if threadRoot != nil {
		return chatPrefix(chatID) + "thread:" + padIndex(*threadRoot) + ":event:" + padIndex(idx)
	}
	return chatPrefix(chatID) + "event:" + padIndex(idx)
}

func msgIDKey(chatID string, threadRoot *models.EventIndex, id models.MessageID) string {
	if threadRoot != nil {
		return chatPrefix(chatID) + "thread:" + padIndex(*threadRoot) + ":msgid:" + string(id)
	}
	return chatPrefix(chatID) + "msgid:" + string(id)
}

func threadPrefix(chatID string, root models.EventIndex) string {
	return chatPrefix(chatID) + "thread:" + padIndex(root) + ":"
}

// parsedKey classifies one stored key within a chat's prefix.
type parsedKey struct {
	kind       string // "event", "expired", "meta", "msgid"
	threadRoot *models.EventIndex
	index      models.EventIndex
}

func parseChatKey(chatID, key string) (parsedKey, error) {
	rest, ok := strings.CutPrefix(key, chatPrefix(chatID))
	if !ok {
		return parsedKey{}, fmt.Errorf("key %q outside chat %s", key, chatID)
	}
	var pk parsedKey
	if sub, ok := strings.CutPrefix(rest, "thread:"); ok {
		rootStr, tail, found := strings.Cut(sub, ":")
		if !found {
			return parsedKey{}, fmt.Errorf("malformed thread key %q", key)
		}
		root, err := strconv.ParseUint(rootStr, 10, 64)
		if err != nil {
			return parsedKey{}, fmt.Errorf("thread root in %q: %w", key, err)
		}
		r := models.EventIndex(root)
		pk.threadRoot = &r
		rest = tail
	}
	switch {
	case rest == "meta":
		pk.kind = "meta"
	case rest == "expired":
		pk.kind = "expired"
	case strings.HasPrefix(rest, "msgid:"):
		pk.kind = "msgid"
	case strings.HasPrefix(rest, "event:"):
		idx, err := strconv.ParseUint(strings.TrimPrefix(rest, "event:"), 10, 64)
		if err != nil {
			return parsedKey{}, fmt.Errorf("event index in %q: %w", key, err)
		}
		pk.kind = "event"
		pk.index = models.EventIndex(idx)
	default:
		pk.kind = "unknown"
	}
	return pk, nil
}
