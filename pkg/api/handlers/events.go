package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatstore/pkg/auth"
	"chatstore/pkg/chat"
	"chatstore/pkg/models"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterEventRoutes registers the visibility-filtered read endpoints.
func RegisterEventRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats/{chat}/events", eventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}/events/{index}", eventByIndexHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}", messageByIDHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}/message-index/{midx}", eventIndexOfMessageHandler).Methods(http.MethodGet)
}

const defaultEventPageSize = 100

func pageSize(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultEventPageSize
}

// eventsHandler serves GET /v1/chats/{chat}/events?since=N[&to=M][&limit=K].
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var since models.EventIndex
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = models.EventIndex(v)
	}
	var to models.EventIndex
	hasTo := false
	if s := r.URL.Query().Get("to"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid to")
			return
		}
		to, hasTo = models.EventIndex(v), true
	}
	limit := pageSize(r)

	var events []*models.Event
	var ranges []models.ExpiredRange
	var latest models.EventIndex
	err := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok {
			return errForbidden
		}
		if hasTo {
			events = ce.EventsRange(v, since, to, limit)
		} else {
			events = ce.EventsSince(v, since, limit)
		}
		ranges = ce.ExpiredRanges()
		latest = ce.LatestEventIndex()
		return nil
	})
	switch err {
	case nil:
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"events":             events,
			"expired_ranges":     ranges,
			"latest_event_index": latest,
		})
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}

func eventByIndexHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	idx, ok := eventIndexVar(r, "index")
	if !ok {
		utils.JSONError(w, http.StatusBadRequest, "invalid event index")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var e *models.Event
	var st chat.Lookup
	err := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok {
			return errForbidden
		}
		e, st = ce.GetEvent(v, idx)
		return nil
	})
	switch err {
	case nil:
		if st != chat.LookupFound {
			writeLookup(w, st)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, e)
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}

func messageByIDHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var e *models.Event
	var st chat.Lookup
	err := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok {
			return errForbidden
		}
		e, st = ce.GetMessageByID(v, msgID)
		return nil
	})
	switch err {
	case nil:
		if st != chat.LookupFound {
			writeLookup(w, st)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, e)
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}

// eventIndexOfMessageHandler maps a dense message index to its event
// index (and back via the response body).
func eventIndexOfMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	mv, err := strconv.ParseUint(mux.Vars(r)["midx"], 10, 64)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid message index")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var idx models.EventIndex
	found := false
	verr := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			return errForbidden
		}
		idx, found = ce.EventIndexOfMessage(models.MessageIndex(mv))
		return nil
	})
	switch verr {
	case nil:
		if !found {
			utils.JSONError(w, http.StatusNotFound, "message index not found")
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
			"message_index": mv,
			"event_index":   idx,
		})
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}
