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

// RegisterPrizeRoutes registers the prize claim endpoint.
func RegisterPrizeRoutes(r *mux.Router) {
	r.HandleFunc("/v1/chats/{chat}/messages/{msgid}/prize/claim", claimPrizeHandler).Methods(http.MethodPost)
}

// claimPrizeHandler runs the full two-phase claim: reserve the slot
// synchronously, execute the token transfer against the ledger, then
// commit the win or roll the reservation back. A retryable transfer
// failure keeps the reservation so the client can call again.
func claimPrizeHandler(w http.ResponseWriter, r *http.Request) {
	chatID, msgID := chatIDVar(r), messageIDVar(r)
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	uid := models.UserID(user)

	// phase 1: reserve
	var (
		res     chat.PrizeReservation
		outcome chat.PrizeReserveOutcome
		funder  models.UserID
	)
	err := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		if _, ok := ce.ViewerFor(uid); !ok {
			return errForbidden
		}
		res, outcome = ce.ReservePrize(msgID, uid, nowNanos())
		if outcome == chat.PrizeReserveAlreadyClaimed {
			// a reservation left behind by an interrupted claim resumes
			// here; a recorded win stays a conflict
			if held, ok := ce.HeldReservation(msgID, uid); ok {
				res, outcome = held, chat.PrizeReserveSuccess
			}
		}
		if outcome == chat.PrizeReserveSuccess {
			if e, st := ce.MessageEventByID(msgID); st == chat.LookupFound {
				funder = e.Payload.(*models.MessagePushed).Message.Sender
			}
		}
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
	metrics.PrizeOutcomes.WithLabelValues("reserve", outcome.String()).Inc()
	switch outcome {
	case chat.PrizeReserveSuccess:
	case chat.PrizeReserveMessageNotFound:
		utils.JSONError(w, http.StatusNotFound, outcome.String())
		return
	default: // already claimed, fully claimed, ended
		utils.JSONError(w, http.StatusConflict, outcome.String())
		return
	}

	// phase 2: external transfer. A failed reserve rollback below still
	// reports the transfer error; the sweep cannot free reservations, so
	// rollback must happen here.
	transfer, terr := Ledger.Transfer(r.Context(), ledger.TransferRequest{
		Ledger: res.Ledger,
		Token:  res.Token,
		Amount: res.Amount,
		From:   funder,
		To:     uid,
		Memo:   "prize:" + string(msgID),
	})
	if terr != nil {
		if ledger.IsRetryable(terr) {
			// keep the reservation; the client retries the claim
			logger.Warn("prize_transfer_retryable", "chat", chatID, "message_id", msgID, "error", terr)
			metrics.PrizeOutcomes.WithLabelValues("transfer", "retryable_failure").Inc()
			utils.JSONError(w, http.StatusServiceUnavailable, "transfer failed, retry claim")
			return
		}
		logger.Error("prize_transfer_failed", "chat", chatID, "message_id", msgID, "error", terr)
		metrics.PrizeOutcomes.WithLabelValues("transfer", "failure").Inc()
		rerr := store.WithChat(chatID, func(ce *chat.ChatEvents) error {
			_, fo := ce.UnreservePrize(msgID, uid, nowNanos())
			metrics.PrizeOutcomes.WithLabelValues("unreserve", fo.String()).Inc()
			return nil
		})
		if rerr != nil {
			logger.Error("prize_unreserve_failed", "chat", chatID, "message_id", msgID, "error", rerr)
		}
		utils.JSONError(w, http.StatusBadGateway, "transfer rejected")
		return
	}

	// phase 3: commit
	var (
		event *models.Event
		fo    chat.PrizeFinalizeOutcome
	)
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		event, fo = ce.ClaimPrize(msgID, uid, transfer, correlationFrom(r, 0), nowNanos())
		return nil
	})
	metrics.PrizeOutcomes.WithLabelValues("claim", fo.String()).Inc()
	if err != nil || fo != chat.PrizeFinalizeSuccess {
		// tokens moved but the win could not be recorded; surface loudly
		logger.Error("prize_claim_commit_failed", "chat", chatID, "message_id", msgID,
			"outcome", fo.String(), "error", err, "block_index", transfer.BlockIndex)
		utils.JSONError(w, http.StatusInternalServerError, "claim commit failed")
		return
	}
	metrics.EventsAppended.Inc()
	logger.Info("prize_claimed", "chat", chatID, "message_id", msgID,
		"winner", user, "amount", res.Amount, "block_index", transfer.BlockIndex)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"event":    event,
		"amount":   res.Amount,
		"token":    res.Token,
		"transfer": transfer,
	})
}
