package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatstore/internal/retention"
	"chatstore/pkg/auth"
	"chatstore/pkg/logger"
	"chatstore/pkg/metrics"
	"chatstore/pkg/store"
	"chatstore/pkg/utils"
)

// RegisterAdminRoutes registers the admin-only operational endpoints.
// Every handler here is wrapped by auth.RequireAdmin.
func RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/v1/admin/retention/run", auth.RequireAdmin(adminRetentionRunHandler)).Methods(http.MethodPost)
	r.HandleFunc("/v1/admin/stats", auth.RequireAdmin(adminStatsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chat}", auth.RequireAdmin(adminDeleteChatHandler)).Methods(http.MethodDelete)
}

func adminRetentionRunHandler(w http.ResponseWriter, r *http.Request) {
	logger.Info("admin_retention_run_requested", "remote", r.RemoteAddr)
	if err := retention.RunImmediate(); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func adminStatsHandler(w http.ResponseWriter, r *http.Request) {
	pm := store.GetPebbleMetrics()
	metrics.StoreDiskBytes.Set(float64(pm.DiskBytes))
	ids, err := store.ListChatIDs()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"chats":          len(ids),
		"disk_bytes":     pm.DiskBytes,
		"wal_bytes":      pm.WALBytes,
		"l0_files":       pm.L0Files,
		"memtable_bytes": pm.MemtableBytes,
	})
}

func adminDeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chatIDVar(r)
	if err := store.DeleteChat(chatID); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	store.EvictChat(chatID)
	logger.AuditEvent("chat_deleted", "chat", chatID, "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}
