// Package bridge maintains both sides of the protocol boundary: a persistent
// outbound WebSocket connection to the platform gateway and an inbound
// WS/HTTP surface serving downstream consumers. Events flow from the gateway
// onto the event bus and to inbound clients; actions flow the other way.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"personabot/internal/bus"
	"personabot/internal/domain"
	"personabot/internal/metrics"
	"personabot/internal/onebot"
)

// Connection states.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateConnected
)

// ErrNotConnected is returned by sends attempted while the outbound link is
// down. Callers fail fast instead of queueing.
var ErrNotConnected = errors.New("gateway not connected")

// Conn is the subset of a WebSocket connection the bridge drives. Narrowed
// for test doubles.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes one outbound connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// Config carries the bridge's tunables, already converted to native types.
type Config struct {
	GatewayURL           string
	AccessToken          string
	ReconnectMaxAttempts int // 0 = retry forever
	ReconnectInterval    time.Duration
	HeartbeatInterval    time.Duration
	ActionTimeout        time.Duration

	ListenHost      string
	ListenPort      int
	MetricsEndpoint string // empty disables the metrics handler
	Version         string // reported by get_version
}

// Bridge owns the outbound connection lifecycle, action correlation, the
// heartbeat loop, and the inbound server.
type Bridge struct {
	cfg     Config
	adapter *onebot.Adapter
	bus     *bus.EventBus
	logger  *slog.Logger
	dial    Dialer

	state      atomic.Int32
	reconnects atomic.Int64
	started    time.Time

	writeMu sync.Mutex
	conn    Conn

	pendingMu sync.Mutex
	pending   map[string]chan onebot.ResponseFrame

	clientsMu sync.RWMutex
	clients   map[string]*inboundClient

	server *http.Server
}

// New creates a bridge. A nil dialer uses the real WebSocket dialer against
// cfg.GatewayURL.
func New(cfg Config, adapter *onebot.Adapter, b *bus.EventBus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	br := &Bridge{
		cfg:     cfg,
		adapter: adapter,
		bus:     b,
		logger:  logger,
		pending: make(map[string]chan onebot.ResponseFrame),
		clients: make(map[string]*inboundClient),
	}
	br.dial = br.dialGateway
	return br
}

// SetDialer replaces the connector. Must be called before Start.
func (b *Bridge) SetDialer(d Dialer) { b.dial = d }

// State returns the current outbound connection state.
func (b *Bridge) State() int32 { return b.state.Load() }

// Reconnects returns how many dial attempts have failed since startup.
func (b *Bridge) Reconnects() int64 { return b.reconnects.Load() }

func (b *Bridge) dialGateway(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if b.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+b.cfg.AccessToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.GatewayURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Start runs the bridge until ctx is cancelled or the reconnect budget is
// exhausted. It blocks; the inbound server and heartbeat loop run as
// children of the same lifecycle.
func (b *Bridge) Start(ctx context.Context) error {
	b.started = time.Now()

	serverErr := make(chan error, 1)
	go func() {
		if err := b.serveInbound(ctx); err != nil {
			serverErr <- err
		}
	}()
	go b.heartbeatLoop(ctx)

	connErr := make(chan error, 1)
	go func() { connErr <- b.connectLoop(ctx) }()

	defer b.shutdownInbound()

	select {
	case <-ctx.Done():
		b.closeConn() // unblock the read loop
		return nil
	case err := <-serverErr:
		return fmt.Errorf("inbound server: %w", err)
	case err := <-connErr:
		return err
	}
}

// connectLoop dials, reads until the connection drops, and redials. Only
// failed dials consume reconnect attempts; a successful connection resets
// the budget.
func (b *Bridge) connectLoop(ctx context.Context) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		b.state.Store(StateConnecting)

		conn, err := b.dial(ctx)
		if err != nil {
			attempts++
			b.reconnects.Add(1)
			metrics.BridgeReconnects.Inc()
			if budget := b.cfg.ReconnectMaxAttempts; budget > 0 && attempts >= budget {
				b.state.Store(StateDisconnected)
				return fmt.Errorf("gateway unreachable after %d attempts: %w", attempts, err)
			}
			b.logger.Warn("gateway dial failed",
				"attempt", attempts, "max", b.cfg.ReconnectMaxAttempts, "error", err)
			if !sleepCtx(ctx, b.cfg.ReconnectInterval) {
				return nil
			}
			continue
		}

		attempts = 0
		b.setConn(conn)
		b.state.Store(StateConnected)
		metrics.OutboundConnected.Set(1)
		b.logger.Info("gateway connected", "url", b.cfg.GatewayURL)
		b.bus.Publish(bus.TopicBridgeConnected, nil)

		readErr := b.readLoop(ctx, conn)

		b.setConn(nil)
		b.state.Store(StateDisconnected)
		metrics.OutboundConnected.Set(0)
		b.failAllPending("connection lost")
		b.bus.Publish(bus.TopicBridgeLost, nil)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("gateway connection lost", "error", readErr)
		if !sleepCtx(ctx, b.cfg.ReconnectInterval) {
			return nil
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		b.handleGatewayFrame(raw)
	}
}

// gatewayProbe peeks at a frame to tell action responses from events.
type gatewayProbe struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Echo   string `json:"echo"`
}

func (b *Bridge) handleGatewayFrame(raw []byte) {
	var probe gatewayProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		b.logger.Warn("malformed gateway frame", "error", err)
		return
	}

	// Responses to forwarded actions correlate on echo.
	if probe.Type == "" && probe.Echo != "" {
		var resp onebot.ResponseFrame
		if err := json.Unmarshal(raw, &resp); err != nil {
			b.logger.Warn("malformed gateway response", "error", err)
			return
		}
		b.resolvePending(resp)
		return
	}

	ev, err := b.adapter.DecodeEvent(raw)
	if err != nil {
		b.logger.Warn("undecodable gateway event", "error", err)
		return
	}

	switch ev.Type {
	case domain.EventMessage:
		msg, err := b.adapter.ToInternal(ev)
		if err != nil {
			b.logger.Warn("message normalization failed", "error", err)
			return
		}
		b.bus.Publish(bus.TopicMessageReceived, msg)
	case domain.EventNotice:
		b.bus.Publish(bus.TopicNoticeReceived, ev)
	case domain.EventRequest:
		b.bus.Publish(bus.TopicRequestReceived, ev)
	case domain.EventMeta:
		b.logger.Debug("gateway meta event", "detail_type", ev.DetailType)
		return // meta frames are link-level, not forwarded
	}

	// Inbound clients see the raw event stream.
	b.broadcast(raw)
}

func (b *Bridge) setConn(conn Conn) {
	b.writeMu.Lock()
	b.conn = conn
	b.writeMu.Unlock()
}

func (b *Bridge) closeConn() {
	b.writeMu.Lock()
	conn := b.conn
	b.writeMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// writeFrame serializes writes to the gateway connection.
func (b *Bridge) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAction fires an action at the gateway without waiting for the
// response. Fails fast when disconnected.
func (b *Bridge) SendAction(_ context.Context, frame onebot.ActionFrame) error {
	if b.state.Load() != StateConnected {
		return ErrNotConnected
	}
	return b.writeFrame(frame)
}

// CallAction sends an action and waits for the correlated response. The wire
// echo is owned by the bridge; the caller's echo is restored on the way out.
func (b *Bridge) CallAction(ctx context.Context, frame onebot.ActionFrame) (onebot.ResponseFrame, error) {
	if b.state.Load() != StateConnected {
		return onebot.ResponseFrame{}, ErrNotConnected
	}

	callerEcho := frame.Echo
	wireEcho := uuid.NewString()
	frame.Echo = wireEcho

	ch := make(chan onebot.ResponseFrame, 1)
	b.pendingMu.Lock()
	b.pending[wireEcho] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, wireEcho)
		b.pendingMu.Unlock()
	}()

	if err := b.writeFrame(frame); err != nil {
		return onebot.ResponseFrame{}, err
	}

	timer := time.NewTimer(b.cfg.ActionTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		resp.Echo = callerEcho
		return resp, nil
	case <-timer.C:
		return onebot.ResponseFrame{}, fmt.Errorf("action %s timed out after %s", frame.Action, b.cfg.ActionTimeout)
	case <-ctx.Done():
		return onebot.ResponseFrame{}, ctx.Err()
	}
}

func (b *Bridge) resolvePending(resp onebot.ResponseFrame) {
	b.pendingMu.Lock()
	ch, ok := b.pending[resp.Echo]
	if ok {
		delete(b.pending, resp.Echo)
	}
	b.pendingMu.Unlock()
	if !ok {
		b.logger.Debug("response without pending action", "echo", resp.Echo)
		return
	}
	ch <- resp
}

// failAllPending releases every waiter when the connection drops so callers
// see an immediate failure instead of a timeout.
func (b *Bridge) failAllPending(reason string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for echo, ch := range b.pending {
		ch <- onebot.FailedResponse(echo, onebot.RetcodeNotConnected, reason)
		delete(b.pending, echo)
	}
}

// heartbeatLoop emits a heartbeat meta frame on a fixed interval: outbound
// when the gateway link is up, and always to inbound clients so they can
// track bridge health.
func (b *Bridge) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		connected := b.state.Load() == StateConnected
		frame := map[string]any{
			"type":        "meta",
			"detail_type": "heartbeat",
			"time":        time.Now().Unix(),
			"self_id":     b.adapter.SelfID(),
			"interval":    int(b.cfg.HeartbeatInterval / time.Millisecond),
			"status": map[string]any{
				"good":   connected,
				"online": connected,
			},
		}
		if connected {
			if err := b.writeFrame(frame); err != nil && !errors.Is(err, ErrNotConnected) {
				b.logger.Warn("outbound heartbeat failed", "error", err)
			}
		}
		if data, err := json.Marshal(frame); err == nil {
			b.broadcast(data)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
