package banner

import (
	"fmt"

	"chatstore/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗████████╗ ██████╗ ██████╗ ███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗██╔════╝
██║     ███████║███████║   ██║   ███████╗   ██║   ██║   ██║██████╔╝█████╗
██║     ██╔══██║██╔══██║   ██║   ╚════██║   ██║   ██║   ██║██╔══██╗██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ╚██████╔╝██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// PrintWithEff prints the startup banner using the effective config so the
// operator can see at a glance what the process resolved at boot.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/chats                          - Create a chat")
	fmt.Println("POST /v1/chats/{chat}/messages          - Push a message (idempotent by message id)")
	fmt.Println("GET  /v1/chats/{chat}/events?since=<n>  - Read the visible event log")
	fmt.Println("POST /v1/chats/{chat}/messages/{id}/prize/claim - Claim a prize message")
	fmt.Println("POST /v1/chats/{chat}/messages/{id}/swap/accept - Accept a token swap")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/chats' -H 'Authorization: Bearer <backend-key>' -d '{\"created_by\":\"alice\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/chats/c1/events?since=0' -H 'X-API-Key: <backend-key>' -H 'X-User-ID: alice'\n", addr)

	fmt.Println("\n== Production? =================================================")
	be, ak := 0, 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		ak = len(eff.Config.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if eff.DBPath != "" {
		fmt.Printf("- DB Path: %s\n", eff.DBPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CHATSTORE_DB_PATH)")
	}

	if eff.Config != nil && eff.Config.Retention.Enabled {
		fmt.Println("- Retention: enabled")
	} else {
		fmt.Println("- Retention: disabled (expired events stay on disk)")
	}
	fmt.Println()
}
