package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatstore/pkg/auth"
	"chatstore/pkg/chat"
	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
	"chatstore/pkg/models"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterMessageRoutes registers message push and mutation endpoints.
func RegisterMessageRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats/{chat}/messages", pushMessageHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}", editMessageHandler).Methods(http.MethodPut)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}", deleteMessageHandler).Methods(http.MethodDelete)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/undelete", undeleteMessageHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/reactions", addReactionHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/reactions/{reaction}", removeReactionHandler).Methods(http.MethodDelete)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/votes", pollVoteHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/end-poll", endPollHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/proposal-votes", proposalVoteHandler).Methods(http.MethodPost)
}

// pushMessageBody is the wire form of a message push. Content arrives as
// a {"kind","data"} envelope to match the stored representation.
type pushMessageBody struct {
	MessageID    string               `json:"message_id"`
	User         string               `json:"user"`
	Content      json.RawMessage      `json:"content"`
	ReplyContext *models.ReplyContext `json:"reply_context,omitempty"`
	Forwarded    bool                 `json:"forwarded,omitempty"`
	BlobRefs     []string             `json:"blob_refs,omitempty"`
	Correlation  uint64               `json:"correlation,omitempty"`
}

func pushMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
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
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			return errForbidden
		}
		res = ce.PushMessage(chat.PushMessageArgs{
			MessageID:    models.MessageID(msgID),
			Sender:       models.UserID(user),
			Content:      content,
			ReplyContext: body.ReplyContext,
			Forwarded:    body.Forwarded,
			BlobRefs:     body.BlobRefs,
			Correlation:  correlationFrom(r, body.Correlation),
			Now:          nowNanos(),
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
	if !res.Duplicate {
		metrics.MessagesPushed.Inc()
		metrics.EventsAppended.Inc()
	}
	logger.Info("message_pushed", "chat", chatID, "message_id", msgID,
		"event_index", res.EventIndex, "duplicate", res.Duplicate)
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

func editMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	var body struct {
		User        string          `json:"user"`
		Content     json.RawMessage `json:"content"`
		Correlation uint64          `json:"correlation,omitempty"`
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
	content, err := models.DecodeContent(body.Content)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.EditMessage(msgID, models.UserID(user), content, corr, now)
	}, body.Correlation)
}

func deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		v, _ := ce.ViewerFor(models.UserID(user))
		return ce.DeleteMessage(msgID, models.UserID(user), v.Privileged, corr, now)
	}, 0)
}

func undeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		v, _ := ce.ViewerFor(models.UserID(user))
		return ce.UndeleteMessage(msgID, models.UserID(user), v.Privileged, corr, now)
	}, 0)
}

func addReactionHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	var body struct {
		User     string `json:"user"`
		Reaction string `json:"reaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reaction == "" {
		utils.JSONError(w, http.StatusBadRequest, "reaction required")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, body.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.AddReaction(msgID, body.Reaction, models.UserID(user), corr, now)
	}, 0)
}

func removeReactionHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	reaction := mux.Vars(r)["reaction"]
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.RemoveReaction(msgID, reaction, models.UserID(user), corr, now)
	}, 0)
}

func pollVoteHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	var body struct {
		User   string `json:"user"`
		Option int    `json:"option"`
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
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.RegisterPollVote(msgID, models.UserID(user), body.Option, corr, now)
	}, 0)
}

func endPollHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.EndPoll(msgID, corr, now)
	}, 0)
}

func proposalVoteHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	var body struct {
		User  string `json:"user"`
		Adopt bool   `json:"adopt"`
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
	runMutation(w, r, chatID, user, func(ce *chat.ChatEvents, corr uint64, now int64) chat.MutateOutcome {
		return ce.RecordProposalVote(msgID, models.UserID(user), body.Adopt, corr, now)
	}, 0)
}

// runMutation applies an in-place message mutation under the chat lock
// and writes the outcome. Membership is checked before the mutation.
func runMutation(w http.ResponseWriter, r *http.Request, chatID, user string, fn func(*chat.ChatEvents, uint64, int64) chat.MutateOutcome, corr uint64) {
	var out chat.MutateOutcome
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			return errForbidden
		}
		out = fn(ce, correlationFrom(r, corr), nowNanos())
		return nil
	})
	switch err {
	case nil:
		if out == chat.MutateSuccess {
			metrics.EventsAppended.Inc()
		}
		writeMutateOutcome(w, out)
	case errForbidden:
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
	default:
		utils.JSONError(w, http.StatusNotFound, "chat not found")
	}
}
