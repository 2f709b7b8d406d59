package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"personabot/internal/metrics"
	"personabot/internal/onebot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundClient is one downstream WebSocket consumer. Writes are serialized
// per client; gorilla connections do not allow concurrent writers.
type inboundClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *inboundClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// serveInbound runs the HTTP/WS listener until ctx is cancelled.
func (b *Bridge) serveInbound(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	mux.HandleFunc("/action", b.handleActionHTTP)
	mux.HandleFunc("/status", b.handleStatus)
	if b.cfg.MetricsEndpoint != "" {
		mux.HandleFunc(b.cfg.MetricsEndpoint, metrics.Collector.Handler())
	}

	addr := fmt.Sprintf("%s:%d", b.cfg.ListenHost, b.cfg.ListenPort)
	b.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("inbound server listening", "addr", addr)
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (b *Bridge) shutdownInbound() {
	b.closeAllClients()
	if b.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("inbound server shutdown", "error", err)
	}
}

// authorize checks the configured access token against the Authorization
// header or the access_token query parameter. An empty token disables auth.
func (b *Bridge) authorize(r *http.Request) bool {
	if b.cfg.AccessToken == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth == "Bearer "+b.cfg.AccessToken {
		return true
	}
	return r.URL.Query().Get("access_token") == b.cfg.AccessToken
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	if !b.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &inboundClient{id: uuid.NewString(), conn: conn}
	b.addClient(client)
	defer b.removeClient(client.id)

	b.logger.Info("inbound client connected", "client", client.id, "remote", r.RemoteAddr)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			b.logger.Debug("inbound client gone", "client", client.id, "error", err)
			return
		}
		var frame onebot.ActionFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			b.sendTo(client, onebot.FailedResponse("", onebot.RetcodeBadRequest, "malformed action frame"))
			continue
		}
		resp := b.handleAction(r.Context(), frame)
		b.sendTo(client, resp)
	}
}

func (b *Bridge) handleActionHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var frame onebot.ActionFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeJSON(w, b.logger, onebot.FailedResponse("", onebot.RetcodeBadRequest, "malformed action frame"))
		return
	}
	writeJSON(w, b.logger, b.handleAction(r.Context(), frame))
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !b.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b.clientsMu.RLock()
	clients := len(b.clients)
	b.clientsMu.RUnlock()
	writeJSON(w, b.logger, map[string]any{
		"outbound_connected": b.state.Load() == StateConnected,
		"clients":            clients,
		"reconnects":         b.reconnects.Load(),
		"uptime_seconds":     int64(time.Since(b.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encode failed", "error", err)
	}
}

// handleAction dispatches one action frame from an inbound consumer.
// get_status and get_version are answered locally; everything else is
// forwarded to the gateway and correlated by echo.
func (b *Bridge) handleAction(ctx context.Context, frame onebot.ActionFrame) onebot.ResponseFrame {
	if frame.Action == "" {
		return onebot.FailedResponse(frame.Echo, onebot.RetcodeBadRequest, "missing action")
	}

	switch frame.Action {
	case "get_status":
		b.clientsMu.RLock()
		clients := len(b.clients)
		b.clientsMu.RUnlock()
		connected := b.state.Load() == StateConnected
		return onebot.OKResponse(frame.Echo, map[string]any{
			"good":       connected,
			"online":     connected,
			"clients":    clients,
			"reconnects": b.reconnects.Load(),
		})
	case "get_version":
		return onebot.OKResponse(frame.Echo, map[string]any{
			"app_name":         "personabot",
			"app_version":      b.cfg.Version,
			"protocol_version": "v11",
		})
	case "send_message":
		// Normalize the message payload before it touches the wire.
		segments, err := onebot.SegmentsFromParam(frame.Params["message"])
		if err != nil {
			return onebot.FailedResponse(frame.Echo, onebot.RetcodeBadRequest, err.Error())
		}
		frame.Params["message"] = segments
	}

	return b.forwardAction(ctx, frame)
}

func (b *Bridge) forwardAction(ctx context.Context, frame onebot.ActionFrame) onebot.ResponseFrame {
	if b.state.Load() != StateConnected {
		return onebot.FailedResponse(frame.Echo, onebot.RetcodeNotConnected, "gateway not connected")
	}
	resp, err := b.CallAction(ctx, frame)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return onebot.FailedResponse(frame.Echo, onebot.RetcodeNotConnected, "gateway not connected")
		}
		return onebot.FailedResponse(frame.Echo, onebot.RetcodeTimeout, err.Error())
	}
	return resp
}

func (b *Bridge) addClient(c *inboundClient) {
	b.clientsMu.Lock()
	b.clients[c.id] = c
	count := len(b.clients)
	b.clientsMu.Unlock()
	metrics.ConnectedClients.Set(int64(count))
}

func (b *Bridge) removeClient(id string) {
	b.clientsMu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.clientsMu.Unlock()
	if ok {
		c.conn.Close()
	}
	metrics.ConnectedClients.Set(int64(count))
}

func (b *Bridge) sendTo(c *inboundClient, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("frame encode failed", "error", err)
		return
	}
	if err := c.send(data); err != nil {
		b.logger.Debug("inbound client write failed", "client", c.id, "error", err)
		b.removeClient(c.id)
	}
}

// broadcast fans raw frame data out to every inbound client, pruning clients
// whose writes fail.
func (b *Bridge) broadcast(data []byte) {
	b.clientsMu.RLock()
	targets := make([]*inboundClient, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.clientsMu.RUnlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			b.logger.Debug("broadcast write failed", "client", c.id, "error", err)
			b.removeClient(c.id)
		}
	}
}

func (b *Bridge) closeAllClients() {
	b.clientsMu.Lock()
	clients := b.clients
	b.clients = make(map[string]*inboundClient)
	b.clientsMu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
	metrics.ConnectedClients.Set(0)
}
