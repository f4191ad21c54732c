// Package api wires the HTTP surface: route registration, middleware
// order, and the translation from aggregate outcomes to status codes
// lives under handlers.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatstore/pkg/api/handlers"
	"chatstore/pkg/auth"
	"chatstore/pkg/store"
	"chatstore/pkg/telemetry"
	"chatstore/pkg/utils"
)

// Router assembles the full HTTP handler with auth, telemetry and all
// route groups registered.
func Router(sec auth.SecConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(auth.AuthenticateRequestMiddleware(sec))
	r.Use(auth.RequireSignedUser)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !store.Ready() {
			utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handlers.RegisterChatRoutes(r)
	handlers.RegisterMessageRoutes(r)
	handlers.RegisterEventRoutes(r)
	handlers.RegisterPrizeRoutes(r)
	handlers.RegisterSwapRoutes(r)
	handlers.RegisterThreadRoutes(r)
	handlers.RegisterSigning(r)
	handlers.RegisterAdminRoutes(r)

	return r
}
