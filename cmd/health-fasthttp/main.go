// Command health-fasthttp is a liveness sidecar for deployments that probe
// the broker out-of-band. It answers on its own listener and periodically
// probes the broker's /healthz, so orchestrators can distinguish "sidecar
// alive, broker down" from a dead pod.
package main

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

const probeTimeout = 2 * time.Second

func main() {
	addr := flag.String("addr", ":8766", "listen address for the health sidecar")
	broker := flag.String("broker", "http://127.0.0.1:8765/healthz", "broker health URL to probe")
	interval := flag.Duration("interval", 5*time.Second, "broker probe interval")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  probeTimeout,
		WriteTimeout: probeTimeout,
	}
	var brokerUp atomic.Bool
	probe := func() {
		code, _, err := client.GetTimeout(nil, *broker, probeTimeout)
		brokerUp.Store(err == nil && code == fasthttp.StatusOK)
	}
	probe()
	go func() {
		t := time.NewTicker(*interval)
		defer t.Stop()
		for range t.C {
			probe()
		}
	}()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			// the sidecar itself is alive; report what it knows about the broker
			broker := "down"
			if brokerUp.Load() {
				broker = "up"
			}
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"broker\":\"%s\",\"version\":\"%s\"}", broker, *ver))
		case "/readyz":
			// readiness follows the broker: not ready until it answers
			ctx.Response.Header.Set("Content-Type", "application/json")
			if brokerUp.Load() {
				ctx.SetStatusCode(fasthttp.StatusOK)
				_, _ = ctx.WriteString("{\"ready\":true}")
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString("{\"ready\":false}")
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health sidecar listening on %s, probing %s\n", *addr, *broker)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "driftchat-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("health sidecar exit: %v\n", err)
	}
}
