// Package wsconn is a reference gorilla/websocket transport for the
// subscription broadcaster (spec.md §4.11), grounded on the teacher's
// websocket.go WebSocketManager/Connection/read-write-pump shape, with the
// graphql-ws message protocol replaced by spec.md §4.11's
// subscribe/unsubscribe envelope.
package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jsonapi-go/engine"
)

// ClientMessage is one inbound message: subscribe, unsubscribe, or
// restore-subscriptions (reconnect replay of a previously-held subscription
// set), per spec.md §6.3.
type ClientMessage struct {
	Type           string           `json:"type"`
	SubscriptionID string           `json:"subscriptionId,omitempty"`
	Resource       string           `json:"resource,omitempty"`
	Filters        []jsonapi.Filter `json:"filters,omitempty"`
	Subscriptions  []ClientMessage  `json:"subscriptions,omitempty"` // restore-subscriptions payload
}

// ServerMessage mirrors the ack/error envelope the manager sends back,
// independent of the broadcaster's own ChangeEvent payload. raw carries a
// pre-marshaled broadcaster payload straight through writePump instead of
// being re-encoded as a ServerMessage.
type ServerMessage struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Error          string `json:"error,omitempty"`

	raw []byte
}

// Manager upgrades HTTP connections to WebSocket and maintains the
// per-connection subscription lifecycle against a jsonapi.Broadcaster.
type Manager struct {
	upgrader       websocket.Upgrader
	broadcaster    *jsonapi.Broadcaster
	maxSubsPerConn int
	connections    sync.Map // connectionID -> *Connection
	pingInterval   time.Duration
}

// NewManager wires a Manager against a broadcaster. maxSubsPerConn enforces
// spec.md §4.11's "server enforces max subscriptions per connection".
func NewManager(broadcaster *jsonapi.Broadcaster, maxSubsPerConn int, checkOrigin func(r *http.Request) bool) *Manager {
	if maxSubsPerConn <= 0 {
		maxSubsPerConn = 20
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Manager{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		broadcaster:    broadcaster,
		maxSubsPerConn: maxSubsPerConn,
		pingInterval:   30 * time.Second,
	}
}

// WithPingInterval overrides the default 30s keepalive ping cadence, e.g.
// from a deployment's EngineConfig.PingInterval.
func (m *Manager) WithPingInterval(d time.Duration) *Manager {
	if d > 0 {
		m.pingInterval = d
	}
	return m
}

// Connection is one live WebSocket client (spec.md §4.11 "per connection:
// set of Subscription objects").
type Connection struct {
	id          string
	ws          *websocket.Conn
	ctx         context.Context
	cancel      context.CancelFunc
	manager     *Manager
	messageChan chan ServerMessage

	mu        sync.Mutex
	subsCount int
}

// Send implements jsonapi.Transport: the broadcaster calls this with a
// change-event payload destined for this connection id.
func (m *Manager) Send(ctx context.Context, connectionID string, payload map[string]any) error {
	v, ok := m.connections.Load(connectionID)
	if !ok {
		return nil
	}
	conn := v.(*Connection)
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case conn.messageChan <- ServerMessage{raw: b}:
	case <-conn.ctx.Done():
	}
	return nil
}

// HandleWebSocket upgrades the request and runs the connection until close.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := &Connection{
		id:          uuid.New().String(),
		ws:          ws,
		ctx:         ctx,
		cancel:      cancel,
		manager:     m,
		messageChan: make(chan ServerMessage, 64),
	}
	m.connections.Store(conn.id, conn)

	go conn.writePump()
	conn.send(ServerMessage{Type: "connected"})
	conn.readPump()

	m.broadcaster.Subscriptions().RemoveConnection(conn.id)
	m.connections.Delete(conn.id)
	cancel()
	close(conn.messageChan)
	ws.Close()
}

func (c *Connection) readPump() {
	defer c.cancel()
	c.ws.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.messageChan:
			if !ok {
				return
			}
			if msg.raw != nil {
				if err := c.ws.WriteMessage(websocket.TextMessage, msg.raw); err != nil {
					return
				}
				continue
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		c.handleSubscribe(msg)
	case "unsubscribe":
		c.manager.broadcaster.Subscriptions().Unsubscribe(c.id, msg.SubscriptionID)
	case "restore-subscriptions":
		for _, sub := range msg.Subscriptions {
			c.handleSubscribe(sub)
		}
	default:
		c.send(ServerMessage{Type: "subscription.error", Error: "unknown message type: " + msg.Type})
	}
}

func (c *Connection) handleSubscribe(msg ClientMessage) {
	c.mu.Lock()
	if c.subsCount >= c.manager.maxSubsPerConn {
		c.mu.Unlock()
		c.send(ServerMessage{Type: "subscription.error", SubscriptionID: msg.SubscriptionID, Error: "max subscriptions per connection exceeded"})
		return
	}
	c.subsCount++
	c.mu.Unlock()

	subID := msg.SubscriptionID
	if subID == "" {
		subID = uuid.New().String()
	}

	c.manager.broadcaster.Subscriptions().Subscribe(jsonapi.Subscription{
		ID:           subID,
		ConnectionID: c.id,
		Resource:     msg.Resource,
		Filters:      msg.Filters,
	})

	c.send(ServerMessage{Type: "subscription.created", SubscriptionID: subID})
}

func (c *Connection) send(msg ServerMessage) {
	select {
	case c.messageChan <- msg:
	case <-c.ctx.Done():
	}
}
