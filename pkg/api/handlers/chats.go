package handlers

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chatstore/pkg/auth"
	"chatstore/pkg/chat"
	"chatstore/pkg/logger"
	"chatstore/pkg/models"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterChatRoutes registers chat lifecycle and membership endpoints.
func RegisterChatRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats", createChatHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats", listChatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}", getChatHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}/members", joinMemberHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/members/{user}", leaveMemberHandler).Methods(http.MethodDelete)
	r.HandleFunc("/v1/chats/{chat}/ttl", setTTLHandler).Methods(http.MethodPut)
	r.HandleFunc("/v1/chats/{chat}/gate", setGateHandler).Methods(http.MethodPut)
}

// validChatID rejects ids that would collide with the store's colon
// delimited key syntax or produce unroutable URLs. Generated ids
// (UUIDs) always pass.
func validChatID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func createChatHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID         string `json:"chat_id"`
		User           string `json:"user"`
		HistoryVisible *bool  `json:"history_visible"`
		TTL            string `json:"ttl"`
		Seed           int64  `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	chatID := body.ChatID
	if chatID == "" {
		chatID = utils.GenID()
	} else if !validChatID(chatID) {
		utils.JSONError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	// omitted fields fall back to the configured chat defaults
	ttl := chatDefaults.TTL
	if body.TTL != "" {
		d, err := time.ParseDuration(body.TTL)
		if err != nil || d < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}
	historyVisible := chatDefaults.HistoryVisible
	if body.HistoryVisible != nil {
		historyVisible = *body.HistoryVisible
	}
	seed := body.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	if err := store.CreateChat(chatID, models.UserID(user), historyVisible, ttl, seed); err != nil {
		utils.JSONError(w, http.StatusConflict, err.Error())
		return
	}
	logger.Info("chat_created", "chat", chatID, "user", user, "history_visible", historyVisible)
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]any{
		"chat_id":         chatID,
		"history_visible": historyVisible,
		"ttl":             ttl.String(),
	})
}

func listChatsHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := store.ListChatIDs()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"chats": ids})
}

func getChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var out map[string]any
	err := store.ViewChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			out = nil
			return nil
		}
		meta := ce.Meta()
		out = map[string]any{
			"chat_id":            meta.ChatID,
			"history_visible":    meta.HistoryVisible,
			"ttl":                time.Duration(meta.TTLNanos).String(),
			"created_at":         meta.CreatedAt,
			"latest_event_index": ce.LatestEventIndex(),
			"members":            len(meta.Members),
		}
		return nil
	})
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	if out == nil {
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

func joinMemberHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	var body struct {
		User       string `json:"user"`
		Privileged bool   `json:"privileged"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	// only backend/admin callers may grant privileged membership
	role := r.Header.Get("X-Role-Name")
	if body.Privileged && role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "privileged join requires backend role")
		return
	}
	var floor models.EventIndex
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		now := nowNanos()
		floor = ce.JoinMember(models.UserID(user), body.Privileged, now)
		ce.PushEvent(&models.MemberJoined{User: models.UserID(user)}, correlationFrom(r, 0), now)
		return nil
	})
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	logger.Info("member_joined", "chat", chatID, "user", user, "floor", floor)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"min_visible_event_index": floor})
}

func leaveMemberHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	target := mux.Vars(r)["user"]
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if target != user {
			// removing someone else needs a privileged member
			v, ok := ce.ViewerFor(models.UserID(user))
			if !ok || !v.Privileged {
				return errForbidden
			}
		}
		now := nowNanos()
		ce.RemoveMember(models.UserID(target))
		ce.PushEvent(&models.MemberLeft{User: models.UserID(target)}, correlationFrom(r, 0), now)
		return nil
	})
	switch err {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}

func setTTLHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	var body struct {
		User string `json:"user"`
		TTL  string `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var ttl time.Duration
	if body.TTL != "" {
		d, err := time.ParseDuration(body.TTL)
		if err != nil || d < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok || !v.Privileged {
			return errForbidden
		}
		ce.SetTTL(ttl, models.UserID(user), correlationFrom(r, 0), nowNanos())
		return nil
	})
	switch err {
	case nil:
		logger.Info("ttl_updated", "chat", chatID, "ttl", ttl.String(), "user", user)
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"ttl": ttl.String()})
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}

func setGateHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	var body struct {
		User string `json:"user"`
		Gate string `json:"gate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		v, ok := ce.ViewerFor(models.UserID(user))
		if !ok || !v.Privileged {
			return errForbidden
		}
		ce.PushEvent(&models.GateUpdated{UpdatedBy: models.UserID(user), Gate: body.Gate}, correlationFrom(r, 0), nowNanos())
		return nil
	})
	switch err {
	case nil:
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"gate": body.Gate})
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}
