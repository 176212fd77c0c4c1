package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const WelcomeMessage = "Welcome to the real-time data server!"

// HubConfig tunes the subscriber transport.
type HubConfig struct {
	SendBuffer     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

func hubDefaultConfig() HubConfig {
	return HubConfig{
		SendBuffer:   64,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		Logger:       slog.Default(),
	}
}

func HubSendBuffer(size int) ConfigFunc[HubConfig] {
	return func(hc *HubConfig) *HubConfig {
		hc.SendBuffer = size
		return hc
	}
}

func HubTimeouts(read, write time.Duration) ConfigFunc[HubConfig] {
	return func(hc *HubConfig) *HubConfig {
		hc.ReadTimeout = read
		hc.WriteTimeout = write
		return hc
	}
}

func HubPingInterval(interval time.Duration) ConfigFunc[HubConfig] {
	return func(hc *HubConfig) *HubConfig {
		hc.PingInterval = interval
		return hc
	}
}

func HubAllowedOrigins(origins ...string) ConfigFunc[HubConfig] {
	return func(hc *HubConfig) *HubConfig {
		hc.AllowedOrigins = append(hc.AllowedOrigins, origins...)
		return hc
	}
}

func HubLogger(logger *slog.Logger) ConfigFunc[HubConfig] {
	return func(hc *HubConfig) *HubConfig {
		hc.Logger = logger
		return hc
	}
}

// Hub upgrades HTTP requests into subscriber connections and keeps the
// registry in step with their lifetime.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	registry *Registry
	upgrader websocket.Upgrader
}

func NewHub(registry *Registry, cfgFns ...ConfigFunc[HubConfig]) (*Hub, error) {
	if registry == nil {
		return nil, errors.New("relay: registry is required")
	}
	cfg := hubDefaultConfig()
	for _, fn := range cfgFns {
		fn(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defaults := hubDefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		// Pings must land well inside the read deadline or healthy peers time out.
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}

	h := &Hub{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "hub"),
		registry: registry,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h, nil
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP owns the connection for its whole life: it returns only after the
// subscriber has been deregistered.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	if err := h.serve(r.Context(), ws); err != nil {
		h.logger.Warn("subscriber session failed", "err", err, "remote", r.RemoteAddr)
	}
}

func (h *Hub) serve(ctx context.Context, ws *websocket.Conn) error {
	id, err := gonanoid.New(12)
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("relay: create subscriber id: %w", err)
	}

	logger := h.logger.With("subscriber_id", id)
	conn := newConn(id, ws, connConfig{
		sendBuffer:   h.cfg.SendBuffer,
		readTimeout:  h.cfg.ReadTimeout,
		writeTimeout: h.cfg.WriteTimeout,
		pingInterval: h.cfg.PingInterval,
		logger:       logger,
	})

	welcome, err := json.Marshal(map[string]string{"message": WelcomeMessage})
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.write(websocket.TextMessage, welcome); err != nil {
		_ = conn.Close()
		return fmt.Errorf("relay: send welcome: %w", err)
	}

	if err := h.registry.Register(conn); err != nil {
		_ = conn.Close()
		return err
	}
	logger.Info("subscriber connected", "subscribers", h.registry.Len())

	err = conn.run(ctx)
	h.registry.Deregister(id)
	logger.Info("subscriber disconnected", "reason", err, "subscribers", h.registry.Len())
	return nil
}

func (h *Hub) Len() int { return h.registry.Len() }
