package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// Sidecar probe for orchestrators: serves a very cheap /healthz on its own
// port and reports the upstream chatstore /readyz state, polled in the
// background so probe traffic never hits the main server.
func main() {
	addr := flag.String("addr", ":8081", "listen address for the probe")
	upstream := flag.String("upstream", "http://127.0.0.1:8080/readyz", "chatstore readiness URL to poll")
	interval := flag.Duration("interval", 2*time.Second, "upstream poll interval")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	var ready atomic.Bool
	go func() {
		client := &http.Client{Timeout: 2 * time.Second}
		for {
			resp, err := client.Get(*upstream)
			if err == nil {
				ready.Store(resp.StatusCode == http.StatusOK)
				resp.Body.Close()
			} else {
				ready.Store(false)
			}
			time.Sleep(*interval)
		}
	}()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver))
		case "/readyz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			if ready.Load() {
				ctx.SetStatusCode(fasthttp.StatusOK)
				_, _ = ctx.WriteString("{\"status\":\"ready\"}")
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString("{\"status\":\"not_ready\"}")
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("chatstore probe listening on %s (upstream %s)\n", *addr, *upstream)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "chatstore-probe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("probe server exit: %v\n", err)
	}
}
