package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-h/templ"

	"hadydotai/beacon/admission"
	"hadydotai/beacon/config"
	"hadydotai/beacon/escalation"
	"hadydotai/beacon/ingest"
	"hadydotai/beacon/relay"
	"hadydotai/beacon/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml, toml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger(cfg.Log)

	deps, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("collaborators init failed: %v", err)
	}
	defer deps.Close()

	registry := relay.NewRegistry()
	hub, err := relay.NewHub(registry,
		relay.HubSendBuffer(cfg.Relay.SendBuffer),
		relay.HubTimeouts(cfg.Relay.ReadTimeout, cfg.Relay.WriteTimeout),
		relay.HubPingInterval(cfg.Relay.PingInterval),
		relay.HubAllowedOrigins(cfg.Relay.AllowedOrigins...),
		relay.HubLogger(logger),
	)
	if err != nil {
		log.Fatalf("hub init failed: %v", err)
	}
	distributor := relay.NewDistributor(registry, logger)

	fanout, err := escalation.NewFanout(deps.directory, deps.notifier, escalation.Config{
		MaxParallel: cfg.Escalation.MaxParallel,
		SendTimeout: cfg.Escalation.SendTimeout,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("fanout init failed: %v", err)
	}

	service, err := ingest.NewService(deps.store, distributor, fanout, logger)
	if err != nil {
		log.Fatalf("ingest init failed: %v", err)
	}

	limiter := admission.NewLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	go limiter.Run(ctx)
	pipeline := admission.NewPipeline(admission.PipelineConfig{
		Verifier:   deps.verifier,
		Limiter:    limiter,
		TrustProxy: cfg.RateLimit.TrustProxy,
		Logger:     logger,
	})

	// Validate has already checked both presets.
	ingestGates, _ := admission.ParseGates(cfg.Ingest.Guard)
	escalateGates, _ := admission.ParseGates(cfg.Ingest.EscalateGuard)
	routes := ingest.Routes{Ingest: ingestGates, Escalate: escalateGates, Events: admission.GatesNone}
	if ingestGates.Authenticate {
		routes.Events = admission.GatesAuth
	}

	mux := http.NewServeMux()

	mux.Handle("GET /{$}", templ.Handler(web.Liveness(), templ.WithContentType("text/plain; charset=utf-8")))
	mux.Handle("GET /docs", templ.Handler(web.Docs(routeDocs(routes))))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "subscribers": hub.Len()})
	})
	mux.Handle("GET /ws", hub)

	ingest.NewHandler(service, pipeline, routes, logger).Register(mux)

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     requestMiddleware(logger, securityMiddleware(mux)),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr, "ingest_guard", routes.Ingest.String(), "escalate_guard", routes.Escalate.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	// Subscriber sockets are hijacked and end with BaseContext; Shutdown only
	// has to drain in-flight ingest requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func routeDocs(routes ingest.Routes) []web.Route {
	return []web.Route{
		{Method: "GET", Path: "/", Gates: "none", Summary: "liveness marker"},
		{Method: "GET", Path: "/healthz", Gates: "none", Summary: "status and connected subscriber count"},
		{Method: "GET", Path: "/ws", Gates: "none", Summary: "realtime subscriber connection, one event per turn"},
		{Method: "POST", Path: "/ingest", Gates: routes.Ingest.String(), Summary: "store an event and hand it to the next subscriber"},
		{Method: "POST", Path: "/ingest/unguarded", Gates: "none", Summary: "same as /ingest without auth or rate limit"},
		{Method: "POST", Path: "/ingest/escalate", Gates: routes.Escalate.String(), Summary: "ingest plus push notifications to the uid's contacts"},
		{Method: "GET", Path: "/events", Gates: routes.Events.String(), Summary: "all stored events"},
		{Method: "POST", Path: "/api/data", Gates: routes.Ingest.String(), Summary: "alias of POST /ingest"},
		{Method: "GET", Path: "/api/data", Gates: routes.Events.String(), Summary: "alias of GET /events"},
	}
}
