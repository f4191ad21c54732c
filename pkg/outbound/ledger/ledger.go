// Package ledger talks to the external token ledger gateway. Prize
// claims and swap completions move real tokens, so every transfer goes
// through a TransferClient; callers reserve state locally first and
// only commit after the transfer succeeds.
package ledger

import (
	"context"
	"errors"

	"chatstore/pkg/models"
)

// TransferRequest describes a single token movement.
type TransferRequest struct {
	Ledger string        `json:"ledger"`
	Token  string        `json:"token"`
	Amount uint64        `json:"amount"`
	From   models.UserID `json:"from"`
	To     models.UserID `json:"to"`
	Memo   string        `json:"memo,omitempty"`
}

// TransferClient executes transfers against a ledger.
type TransferClient interface {
	Transfer(ctx context.Context, req TransferRequest) (models.CompletedTransfer, error)
}

// TransferError wraps a failed transfer. Retryable signals that the
// caller should keep the local reservation and try again later instead
// of rolling it back.
type TransferError struct {
	Msg       string
	Retryable bool
}

func (e *TransferError) Error() string { return e.Msg }

// IsRetryable reports whether err is a transfer failure that may
// succeed on retry (timeouts, 5xx). Definite rejections return false.
func IsRetryable(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
