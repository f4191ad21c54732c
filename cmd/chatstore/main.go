package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatstore/internal/retention"
	"chatstore/pkg/api"
	"chatstore/pkg/api/handlers"
	"chatstore/pkg/auth"
	"chatstore/pkg/banner"
	"chatstore/pkg/config"
	"chatstore/pkg/logger"
	"chatstore/pkg/outbound/blobs"
	"chatstore/pkg/outbound/ledger"
	"chatstore/pkg/outbound/notify"
	"chatstore/pkg/shutdown"
	"chatstore/pkg/state"
	"chatstore/pkg/store"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	flags := config.ParseConfigFlags()

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		log.Fatalf("failed to resolve config: %v", err)
	}
	cfg := eff.Config

	logger.Init(cfg.Logging.Level)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		shutdown.Abort("state dirs unusable", err, eff.DBPath)
	}
	auditDir := cfg.Logging.AuditDir
	if auditDir == "" {
		auditDir = state.PathsVar.Audit
	}
	if err := logger.AttachAuditFileSink(auditDir); err != nil {
		shutdown.Abort("audit sink unusable", err, eff.DBPath)
	}

	if err := store.Open(state.PathsVar.Store); err != nil {
		shutdown.Abort("failed to open pebble", err, eff.DBPath)
	}

	// Populate the global runtime config with merged API keys so signature
	// verification can reach them.
	rc := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, AdminKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		rc.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		rc.AdminKeys[k] = struct{}{}
	}
	for k := range envRes.BackendKeys {
		rc.BackendKeys[k] = struct{}{}
	}
	for k := range envRes.AdminKeys {
		rc.AdminKeys[k] = struct{}{}
	}
	config.SetRuntime(rc)

	// Outbound gateways: real HTTP clients when configured, no-ops otherwise.
	var ledgerClient ledger.TransferClient = ledger.NewFakeClient()
	if cfg.Outbound.Ledger.BaseURL != "" {
		ledgerClient = ledger.NewHTTPClient(cfg.Outbound.Ledger.BaseURL,
			cfg.Outbound.Ledger.APIKey, time.Duration(cfg.Outbound.Ledger.Timeout))
	}
	var blobDeleter blobs.Deleter = blobs.NopDeleter{}
	if cfg.Outbound.Blobs.BaseURL != "" {
		blobDeleter = blobs.NewHTTPDeleter(cfg.Outbound.Blobs.BaseURL,
			cfg.Outbound.Blobs.APIKey, time.Duration(cfg.Outbound.Blobs.Timeout))
	}
	var dispatcher notify.Dispatcher = notify.NopDispatcher{}
	if cfg.Outbound.Notify.Enabled && cfg.Outbound.Notify.BaseURL != "" {
		dispatcher = notify.NewHTTPDispatcher(cfg.Outbound.Notify.BaseURL,
			time.Duration(cfg.Outbound.Notify.Timeout))
	}
	handlers.SetOutbound(ledgerClient, blobDeleter, dispatcher)
	handlers.SetChatDefaults(handlers.ChatDefaults{
		TTL:             cfg.Chat.DefaultTTL.Duration(),
		HistoryVisible:  cfg.Chat.HistoryVisible,
		MaxMessageBytes: cfg.Chat.MaxMessageBytes.Int64(),
	})

	retention.SetEffectiveConfig(eff)
	retention.SetDeps(retention.Deps{Blobs: blobDeleter, Notify: dispatcher})

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	retCancel, err := retention.Start(ctx, eff)
	if err != nil {
		shutdown.Abort("retention scheduler failed to start", err, eff.DBPath)
	}
	defer retCancel()

	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.PrintWithEff(eff, verStr)

	sec := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		BackendKeys:    config.GetBackendKeys(),
		AdminKeys:      config.GetAdminKeys(),
	}
	srv := &http.Server{
		Addr:              eff.Addr,
		Handler:           api.Router(sec),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Error("server_shutdown_error", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("store_close_error", "error", err)
		}
	}()

	logger.Info("server_starting", "addr", eff.Addr, "db", state.PathsVar.Store, "source", eff.Source)
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if cert != "" && key != "" {
		err = srv.ListenAndServeTLS(cert, key)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		shutdown.Abort("server exited", err, eff.DBPath)
	}
	logger.Info("server_stopped")
}
