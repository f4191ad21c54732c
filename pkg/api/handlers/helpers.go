package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"chatstore/pkg/chat"
	"chatstore/pkg/models"
	"chatstore/pkg/outbound/blobs"
	"chatstore/pkg/outbound/ledger"
	"chatstore/pkg/outbound/notify"
	"chatstore/pkg/utils"
)

// Outbound services used by handlers. main replaces these during
// startup; the defaults keep tests self-contained.
var (
	Ledger ledger.TransferClient = ledger.NewFakeClient()
	Blobs  blobs.Deleter         = blobs.NopDeleter{}
	Notify notify.Dispatcher     = notify.NopDispatcher{}
)

// errForbidden aborts a store.WithChat closure when the caller lacks
// the required membership or privilege.
var errForbidden = errors.New("forbidden")

// ChatDefaults carries the configured defaults applied to new chats and
// the per-message size limit. main installs them from the chat config
// section during startup.
type ChatDefaults struct {
	TTL             time.Duration
	HistoryVisible  bool
	MaxMessageBytes int64
}

var chatDefaults ChatDefaults

// SetChatDefaults installs the configured chat defaults.
func SetChatDefaults(d ChatDefaults) { chatDefaults = d }

// contentTooLarge reports whether a content payload exceeds the
// configured message size limit. A zero limit disables the check.
func contentTooLarge(content []byte) bool {
	return chatDefaults.MaxMessageBytes > 0 && int64(len(content)) > chatDefaults.MaxMessageBytes
}

// SetOutbound installs the outbound service clients.
func SetOutbound(l ledger.TransferClient, b blobs.Deleter, n notify.Dispatcher) {
	if l != nil {
		Ledger = l
	}
	if b != nil {
		Blobs = b
	}
	if n != nil {
		Notify = n
	}
}

func chatIDVar(r *http.Request) string {
	return mux.Vars(r)["chat"]
}

func messageIDVar(r *http.Request) models.MessageID {
	return models.MessageID(mux.Vars(r)["msgid"])
}

func eventIndexVar(r *http.Request, name string) (models.EventIndex, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, false
	}
	return models.EventIndex(v), true
}

func nowNanos() int64 { return time.Now().UTC().UnixNano() }

// correlationFrom reads the optional client correlation id and falls
// back to a random one so every appended event carries one.
func correlationFrom(r *http.Request, body uint64) uint64 {
	if body != 0 {
		return body
	}
	if q := strings.TrimSpace(r.URL.Query().Get("correlation")); q != "" {
		if v, err := strconv.ParseUint(q, 10, 64); err == nil && v != 0 {
			return v
		}
	}
	return utils.GenCorrelation()
}

// viewerFor resolves the calling member's visibility identity, writing
// the error response itself when the caller is not a member.
func viewerFor(w http.ResponseWriter, ce *chat.ChatEvents, user models.UserID) (chat.Viewer, bool) {
	v, ok := ce.ViewerFor(user)
	if !ok {
		utils.JSONError(w, http.StatusForbidden, "not a chat member")
		return chat.Viewer{}, false
	}
	return v, true
}

// writeMutateOutcome maps an aggregate mutation outcome onto a status.
func writeMutateOutcome(w http.ResponseWriter, o chat.MutateOutcome) {
	switch o {
	case chat.MutateSuccess:
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"outcome": o.String()})
	case chat.MutateMessageNotFound:
		utils.JSONError(w, http.StatusNotFound, o.String())
	case chat.MutateNotAuthorized:
		utils.JSONError(w, http.StatusForbidden, o.String())
	default: // no change
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"outcome": o.String()})
	}
}

// writeLookup maps a failed point read onto a status. Expired indices
// are distinguished from never-existed ones.
func writeLookup(w http.ResponseWriter, st chat.Lookup) {
	switch st {
	case chat.LookupExpired:
		utils.JSONError(w, http.StatusGone, st.String())
	default:
		utils.JSONError(w, http.StatusNotFound, st.String())
	}
}
