package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatstore/pkg/auth"
	"chatstore/pkg/chat"
	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
	"chatstore/pkg/models"
	"chatstore/pkg/outbound/ledger"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterSwapRoutes registers the p2p swap endpoints.
func RegisterSwapRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/swap/accept", acceptSwapHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/swap/cancel", cancelSwapHandler).Methods(http.MethodPost)
}

func swapStatusName(s models.SwapStatus) string {
	if s == nil {
		return ""
	}
	return s.SwapStatusKind()
}

// acceptSwapHandler drives the swap through its forward transitions:
// reserve the open swap, transfer the acceptor's leg, mark accepted,
// transfer the creator's leg, complete. Each transition is a synchronous
// aggregate mutation; the ledger calls happen between them.
func acceptSwapHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	uid := models.UserID(user)

	// reserve
	var rres chat.SwapReserveResult
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(uid); !ok {
			return errForbidden
		}
		rres = ce.ReserveSwap(msgID, uid, nowNanos())
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
	metrics.SwapOutcomes.WithLabelValues("reserve", rres.Outcome.String()).Inc()
	switch rres.Outcome {
	case chat.SwapSuccess:
	case chat.SwapNotFound:
		utils.JSONError(w, http.StatusNotFound, rres.Outcome.String())
		return
	default:
		_ = utils.JSONWrite(w, http.StatusConflict, map[string]any{
			"outcome": rres.Outcome.String(),
			"status":  swapStatusName(rres.CurrentStatus),
		})
		return
	}
	swap := rres.Content

	// acceptor's leg: token1 moves to the creator
	t1, terr := Ledger.Transfer(r.Context(), ledger.TransferRequest{
		Ledger: swap.Ledger1,
		Token:  swap.Token1,
		Amount: swap.Amount1,
		From:   uid,
		To:     swap.CreatedBy,
		Memo:   "swap:leg1:" + string(msgID),
	})
	if terr != nil {
		logger.Warn("swap_leg1_transfer_failed", "chat", chatID, "message_id", msgID, "error", terr)
		metrics.SwapOutcomes.WithLabelValues("transfer_leg1", "failure").Inc()
		_ = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
			sr := ce.UnreserveSwap(msgID, uid, nowNanos())
			metrics.SwapOutcomes.WithLabelValues("unreserve", sr.Outcome.String()).Inc()
			return nil
		})
		if ledger.IsRetryable(terr) {
			utils.JSONError(w, http.StatusServiceUnavailable, "transfer failed, retry accept")
			return
		}
		utils.JSONError(w, http.StatusBadGateway, "transfer rejected")
		return
	}

	// mark accepted with the incoming transfer's block index
	var ar chat.SwapResult
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		ar = ce.AcceptSwap(msgID, uid, t1.BlockIndex, nowNanos())
		return nil
	})
	metrics.SwapOutcomes.WithLabelValues("accept", ar.Outcome.String()).Inc()
	if err != nil || ar.Outcome != chat.SwapSuccess {
		logger.Error("swap_accept_commit_failed", "chat", chatID, "message_id", msgID,
			"outcome", ar.Outcome.String(), "error", err, "block_index", t1.BlockIndex)
		utils.JSONError(w, http.StatusInternalServerError, "accept commit failed")
		return
	}

	// creator's leg: token0 moves to the acceptor
	t0, terr := Ledger.Transfer(r.Context(), ledger.TransferRequest{
		Ledger: swap.Ledger0,
		Token:  swap.Token0,
		Amount: swap.Amount0,
		From:   swap.CreatedBy,
		To:     uid,
		Memo:   "swap:leg0:" + string(msgID),
	})
	if terr != nil {
		// the swap stays accepted: the acceptor's tokens are in, the
		// creator's leg must be retried or refunded out of band
		logger.Error("swap_leg0_transfer_failed", "chat", chatID, "message_id", msgID, "error", terr)
		metrics.SwapOutcomes.WithLabelValues("transfer_leg0", "failure").Inc()
		utils.JSONError(w, http.StatusBadGateway, "second transfer leg failed; swap accepted, completion pending")
		return
	}

	var cr chat.SwapResult
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		cr = ce.CompleteSwap(msgID, uid, t0, t1, correlationFrom(r, 0), nowNanos())
		return nil
	})
	metrics.SwapOutcomes.WithLabelValues("complete", cr.Outcome.String()).Inc()
	if err != nil || cr.Outcome != chat.SwapSuccess {
		logger.Error("swap_complete_commit_failed", "chat", chatID, "message_id", msgID,
			"outcome", cr.Outcome.String(), "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "complete commit failed")
		return
	}
	metrics.EventsAppended.Inc()
	logger.Info("swap_completed", "chat", chatID, "message_id", msgID, "accepted_by", user,
		"leg0_block", t0.BlockIndex, "leg1_block", t1.BlockIndex)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"outcome":       "completed",
		"leg0_transfer": t0,
		"leg1_transfer": t1,
	})
}

func cancelSwapHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var sr chat.SwapResult
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(models.UserID(user)); !ok {
			return errForbidden
		}
		sr = ce.CancelSwap(msgID, models.UserID(user), correlationFrom(r, 0), nowNanos())
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
	metrics.SwapOutcomes.WithLabelValues("cancel", sr.Outcome.String()).Inc()
	switch sr.Outcome {
	case chat.SwapSuccess:
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"outcome": "cancelled"})
	case chat.SwapNotFound:
		utils.JSONError(w, http.StatusNotFound, sr.Outcome.String())
	default:
		_ = utils.JSONWrite(w, http.StatusConflict, map[string]any{
			"outcome": sr.Outcome.String(),
			"status":  swapStatusName(sr.CurrentStatus),
		})
	}
}
