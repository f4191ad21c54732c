package retention

import (
	"context"
	"time"

	"chatstore/pkg/chat"
	"chatstore/pkg/config"
	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
	"chatstore/pkg/models"
	"chatstore/pkg/outbound/notify"
	"chatstore/pkg/store"
)

// runOnce sweeps every chat: drops events past their TTL, expires open
// swaps whose deadline passed, and purges deleted message bodies older
// than the configured cutoff. Changes persist per chat so a crash mid
// sweep loses at most the chats not yet written.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult, retentionPath string) error {
	unlock, err := acquireLock(retentionPath)
	if err != nil {
		logger.Warn("retention_lock_busy", "error", err)
		return nil
	}
	defer unlock()

	ret := eff.Config.Retention
	if ret.Paused {
		logger.Info("retention_paused")
		return nil
	}

	d := deps()
	started := time.Now()
	ids, err := store.ListChatIDs()
	if err != nil {
		return err
	}

	batchSize := ret.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	sleep := time.Duration(ret.BatchSleepMs) * time.Millisecond

	var totalRemoved, totalChats, totalSwaps int
	var totalBlobs int
	for i, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		removed, swaps, blobRefs, err := sweepChat(ctx, eff, d, id)
		if err != nil {
			logger.Error("retention_chat_sweep_failed", "chat", id, "error", err)
			continue
		}
		if removed > 0 || swaps > 0 {
			totalChats++
		}
		totalRemoved += removed
		totalSwaps += swaps
		totalBlobs += len(blobRefs)
		if sleep > 0 && (i+1)%batchSize == 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	logger.AuditEvent("retention_run_complete",
		"chats_scanned", len(ids),
		"chats_changed", totalChats,
		"events_removed", totalRemoved,
		"swaps_expired", totalSwaps,
		"blobs_released", totalBlobs,
		"dry_run", ret.DryRun,
		"elapsed", time.Since(started).String(),
	)
	metrics.RetentionRuns.Inc()
	metrics.EventsPruned.Add(float64(totalRemoved))
	return nil
}

// sweepChat applies expiry to one chat under its registry lock. In dry
// run mode a throwaway copy is loaded instead so cached state stays
// untouched.
func sweepChat(ctx context.Context, eff config.EffectiveConfigResult, d Deps, chatID string) (removed, swaps int, blobRefs []string, err error) {
	now := time.Now().UTC().UnixNano()
	ret := eff.Config.Retention
	cutoff := eff.Config.Chat.PurgeDeletedAfter.Duration()

	if ret.DryRun {
		ce, err := store.LoadChat(chatID)
		if err != nil {
			return 0, 0, nil, err
		}
		expiredSwaps := ce.MarkExpiredSwaps(0, now)
		pr := ce.RemoveExpired(now)
		logger.AuditEvent("retention_dry_run_chat",
			"chat", chatID, "events_removed", pr.Removed,
			"swaps_expired", len(expiredSwaps), "blobs", len(pr.BlobRefs))
		return pr.Removed, len(expiredSwaps), nil, nil
	}

	var expiredSwaps []models.MessageID
	err = store.WithChat(chatID, func(ce *chat.ChatEvents) error {
		expiredSwaps = ce.MarkExpiredSwaps(0, now)
		pr := ce.RemoveExpired(now)
		removed = pr.Removed
		blobRefs = pr.BlobRefs
		if cutoff > 0 {
			blobRefs = append(blobRefs, ce.PurgeDeleted(now-cutoff.Nanoseconds())...)
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}

	if removed > 0 || len(expiredSwaps) > 0 || len(blobRefs) > 0 {
		logger.AuditEvent("retention_chat_pruned",
			"chat", chatID, "events_removed", removed,
			"swaps_expired", len(expiredSwaps), "blobs", len(blobRefs))
	}

	if len(blobRefs) > 0 {
		if err := d.Blobs.Delete(ctx, blobRefs); err != nil {
			logger.Error("retention_blob_delete_failed", "chat", chatID, "error", err)
		}
	}
	for _, mid := range expiredSwaps {
		ev := notify.Event{Type: notify.SwapExpired, ChatID: chatID, MessageID: mid, TS: time.Now().UTC()}
		if err := d.Notify.Dispatch(ctx, ev); err != nil {
			logger.Warn("retention_notify_failed", "chat", chatID, "error", err)
		}
	}
	return removed, len(expiredSwaps), blobRefs, nil
}
