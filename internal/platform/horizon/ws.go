package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// RecordHandler receives the raw record of one stream message.
type RecordHandler func(record json.RawMessage)

// streamCommand is sent to the stream endpoint.
type streamCommand struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	ID       string `json:"id"`
	Resource string `json:"resource,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
}

// streamMessage is pushed by the stream endpoint.
type streamMessage struct {
	Subscription string          `json:"subscription"`
	Record       json.RawMessage `json:"record"`
}

type subscription struct {
	cmd     streamCommand
	handler RecordHandler
}

// WSClient multiplexes resource subscriptions over one websocket. Messages
// are dispatched from a single read loop, so each handler sees its
// subscription's records serially and in arrival order.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
	nextID int

	subs      map[string]subscription
	handlerMu sync.RWMutex

	done chan struct{}
}

// NewWSClient creates a stream client for wsURL.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "horizon_ws")),
		subs:   make(map[string]subscription),
		done:   make(chan struct{}),
	}
}

// Connect dials the stream endpoint and restores existing subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connectLocked(ctx)
}

// Connected reports whether a connection is currently open.
func (w *WSClient) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

func (w *WSClient) connectLocked(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("horizon/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("horizon/ws: connect: %w: %v", domain.ErrTransport, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	w.conn = conn

	w.handlerMu.RLock()
	pending := make([]streamCommand, 0, len(w.subs))
	for _, s := range w.subs {
		pending = append(pending, s.cmd)
	}
	w.handlerMu.RUnlock()
	for _, cmd := range pending {
		if err := w.sendLocked(cmd); err != nil {
			_ = conn.Close()
			w.conn = nil
			return fmt.Errorf("horizon/ws: restore subscription %s: %w", cmd.Resource, err)
		}
	}

	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

// Subscribe opens a subscription to resource and returns its release
// handle. The handle is safe to call more than once.
func (w *WSClient) Subscribe(ctx context.Context, resource, cursor string, handler RecordHandler) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.connectLocked(ctx); err != nil {
		return nil, err
	}

	w.nextID++
	cmd := streamCommand{Action: "subscribe", ID: strconv.Itoa(w.nextID), Resource: resource, Cursor: cursor}
	// Registered first so records that follow the ack are not dropped.
	w.handlerMu.Lock()
	w.subs[cmd.ID] = subscription{cmd: cmd, handler: handler}
	w.handlerMu.Unlock()

	if err := w.sendLocked(cmd); err != nil {
		w.handlerMu.Lock()
		delete(w.subs, cmd.ID)
		w.handlerMu.Unlock()
		return nil, fmt.Errorf("horizon/ws: subscribe %s: %w", resource, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { w.unsubscribe(cmd.ID) })
	}, nil
}

func (w *WSClient) unsubscribe(id string) {
	w.handlerMu.Lock()
	sub, ok := w.subs[id]
	delete(w.subs, id)
	w.handlerMu.Unlock()
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil || w.closed {
		return
	}
	if err := w.sendLocked(streamCommand{Action: "unsubscribe", ID: id}); err != nil {
		w.logger.Warn("unsubscribe failed",
			slog.String("resource", sub.cmd.Resource),
			slog.String("error", err.Error()),
		)
	}
}

// Close shuts down the connection and stops reconnecting.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// sendLocked writes cmd. Caller must hold w.mu.
func (w *WSClient) sendLocked(cmd streamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("stream disconnected, reconnecting", slog.String("error", err.Error()))
			w.dropConn(conn)
			w.reconnect()
			return
		}
		w.dispatch(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			current := w.conn == conn
			var err error
			if current {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err = conn.WriteMessage(websocket.PingMessage, nil)
			}
			w.mu.Unlock()
			if !current || err != nil {
				return
			}
		}
	}
}

func (w *WSClient) dispatch(raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Subscription == "" {
		return
	}
	w.handlerMu.RLock()
	sub, ok := w.subs[msg.Subscription]
	w.handlerMu.RUnlock()
	if ok && sub.handler != nil {
		sub.handler(msg.Record)
	}
}

func (w *WSClient) dropConn(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		_ = conn.Close()
		w.conn = nil
	}
}

// reconnect retries Connect with exponential backoff until it succeeds or
// the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
