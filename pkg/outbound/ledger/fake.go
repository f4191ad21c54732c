package ledger

import (
	"context"
	"sync"
	"time"

	"chatstore/pkg/models"
)

// FakeClient is an in-memory TransferClient used in tests and in
// deployments without a ledger gateway configured. It assigns
// monotonically increasing block indices.
type FakeClient struct {
	mu    sync.Mutex
	next  uint64
	Fail  error // when set, every Transfer returns this error
	Calls []TransferRequest
}

func NewFakeClient() *FakeClient { return &FakeClient{next: 1} }

func (f *FakeClient) Transfer(ctx context.Context, req TransferRequest) (models.CompletedTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if f.Fail != nil {
		return models.CompletedTransfer{}, f.Fail
	}
	idx := f.next
	f.next++
	return models.CompletedTransfer{
		Ledger:     req.Ledger,
		Token:      req.Token,
		Amount:     req.Amount,
		From:       req.From,
		To:         req.To,
		BlockIndex: idx,
		TS:         time.Now().UTC().UnixNano(),
	}, nil
}
