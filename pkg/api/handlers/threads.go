package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatstore/pkg/auth"
	"chatstore/pkg/chat"
	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
	"chatstore/pkg/models"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterThreadRoutes registers the per-message thread endpoints. A
// thread is addressed by the event index of its root message.
func RegisterThreadRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats/{chat}/threads/{root}/messages", pushThreadMessageHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/threads/{root}/events", threadEventsHandler).Methods(http.MethodGet)
}

func pushThreadMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	root, ok := eventIndexVar(r, "root")
	if !ok {
		utils.JSONError(w, http.StatusBadRequest, "invalid thread root")
		return
	}
	var body pushMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if len(body.Content) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "content required")
		return
	}
	if contentTooLarge(body.Content) {
		utils.JSONError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}
	content, err := models.DecodeContent(body.Content)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgID := body.MessageID
	if msgID == "" {
		msgID = utils.GenID()
	}

	var res chat.PushMessageResult
	rootOK := false
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			return errForbidden
		}
		res, rootOK = ce.PushThreadMessage(root, chat.PushMessageArgs{
			MessageID:   models.MessageID(msgID),
			Sender:      models.UserID(user),
			Content:     content,
			Forwarded:   body.Forwarded,
			BlobRefs:    body.BlobRefs,
			Correlation: correlationFrom(r, body.Correlation),
			Now:         nowNanos(),
		})
		return nil
	})
	switch err {
	case nil:
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
		return
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	if !rootOK {
		utils.JSONError(w, http.StatusNotFound, "thread root not found")
		return
	}
	if !res.Duplicate {
		metrics.MessagesPushed.Inc()
		metrics.EventsAppended.Inc()
	}
	logger.Info("thread_message_pushed", "chat", chatID, "root", root,
		"message_id", msgID, "event_index", res.EventIndex, "duplicate", res.Duplicate)
	code := http.StatusCreated
	if res.Duplicate {
		code = http.StatusOK
	}
	_ = utils.JSONWrite(w, code, map[string]any{
		"message_id":    msgID,
		"event_index":   res.EventIndex,
		"message_index": res.MessageIndex,
		"ts":            res.TS,
		"expires_at":    res.ExpiresAt,
		"duplicate":     res.Duplicate,
	})
}

func threadEventsHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	root, ok := eventIndexVar(r, "root")
	if !ok {
		utils.JSONError(w, http.StatusBadRequest, "invalid thread root")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var since models.EventIndex
	if s := r.URL.Query().Get("since"); s != "" {
		v, perr := strconv.ParseUint(s, 10, 64)
		if perr != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = models.EventIndex(v)
	}
	limit := pageSize(r)

	var events []*models.Event
	var ranges []models.ExpiredRange
	found := false
	err := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok {
			return errForbidden
		}
		t, ok := ce.Thread(root, false)
		if !ok {
			return nil
		}
		found = true
		// thread logs replay in full for members; the parent floor is an
		// index into the parent log and does not apply here
		tv := chat.Viewer{User: v.User, MinVisible: 0, Privileged: v.Privileged}
		events = t.EventsSince(tv, since, limit)
		ranges = t.ExpiredRanges()
		return nil
	})
	switch err {
	case nil:
		if !found {
			utils.JSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"events":         events,
			"expired_ranges": ranges,
		})
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}
