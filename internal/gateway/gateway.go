// Package gateway bridges WebSocket clients to the lobby and the broadcast
// hub.
package gateway

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pokerhall/internal/auth"
	"pokerhall/internal/broadcast"
	"pokerhall/internal/codec"
	"pokerhall/internal/ledger"
	"pokerhall/internal/lobby"
	"pokerhall/internal/table"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins in production
	},
}

const (
	readLimit    = 65536
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Connection is one authenticated WebSocket client. Outbound traffic funnels
// through Send; a full buffer drops the message rather than blocking the
// writer.
type Connection struct {
	id      string
	account auth.Account
	conn    *websocket.Conn
	send    chan []byte
	gateway *Gateway

	mu   sync.Mutex
	subs map[string]*broadcast.Subscription
}

// Gateway owns the connection registry and the fan-in from hub subscriptions
// to sockets.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	nextConnID  uint64

	lobby *lobby.Lobby
	hub   *broadcast.Hub
	auth  auth.Service
}

func New(l *lobby.Lobby, hub *broadcast.Hub, authService auth.Service) *Gateway {
	return &Gateway{
		connections: make(map[string]*Connection),
		lobby:       l,
		hub:         hub,
		auth:        authService,
	}
}

// HandleWebSocket upgrades the request after resolving the session token
// from the Authorization header or a token query parameter.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	account, ok := g.auth.ResolveSession(token)
	if !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] upgrade error: %v", err)
		return
	}

	g.mu.Lock()
	g.nextConnID++
	c := &Connection{
		id:      fmt.Sprintf("conn_%d", g.nextConnID),
		account: account,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		gateway: g,
		subs:    make(map[string]*broadcast.Subscription),
	}
	g.connections[c.id] = c
	total := len(g.connections)
	g.mu.Unlock()

	log.Printf("[Gateway] client connected: %s (user=%d %s), total: %d", c.id, account.ID, account.Username, total)

	go c.readPump()
	go c.writePump()
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	delete(g.connections, c.id)
	total := len(g.connections)
	g.mu.Unlock()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*broadcast.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		g.hub.Unsubscribe(sub)
	}

	log.Printf("[Gateway] client disconnected: %s, total: %d", c.id, total)
}

// ConnectionCount reports live sockets.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

func (c *Connection) readPump() {
	defer func() {
		c.gateway.removeConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] read error: %v", err)
			}
			break
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	env, err := codec.DecodeClient(data)
	if err != nil {
		c.enqueue(codec.EncodeError("", "bad_envelope", err.Error()))
		return
	}

	switch env.Cmd {
	case codec.CmdSubscribe:
		c.handleSubscribe(env.TableID)
	case codec.CmdUnsubscribe:
		c.handleUnsubscribe(env.TableID)
	case codec.CmdAction:
		c.handleAction(env)
	case codec.CmdChat:
		c.handleChat(env)
	}
}

// handleSubscribe attaches a hub feed and pumps it to the socket. The caller
// gets an immediate table snapshot so events have a base state to apply to.
func (c *Connection) handleSubscribe(tableID string) {
	t, err := c.gateway.lobby.Get(tableID)
	if err != nil {
		c.enqueue(codec.EncodeError(tableID, "not_found", "table not found"))
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[tableID]; exists {
		c.mu.Unlock()
		c.enqueue(codec.EncodeAck(tableID, codec.CmdSubscribe))
		return
	}
	sub := c.gateway.hub.Subscribe(tableID, broadcast.DefaultBuffer)
	c.subs[tableID] = sub
	c.mu.Unlock()

	c.enqueue(codec.EncodeSnapshot(t.Snapshot()))

	go func() {
		for event := range sub.C {
			c.enqueue(codec.EncodeEvent(event))
		}
	}()
}

func (c *Connection) handleUnsubscribe(tableID string) {
	c.mu.Lock()
	sub := c.subs[tableID]
	delete(c.subs, tableID)
	c.mu.Unlock()
	if sub != nil {
		c.gateway.hub.Unsubscribe(sub)
	}
	c.enqueue(codec.EncodeAck(tableID, codec.CmdUnsubscribe))
}

func (c *Connection) handleAction(env codec.ClientEnvelope) {
	who := table.Identity{ID: c.account.ID, Name: c.account.Username, Role: c.account.Role}
	if err := c.gateway.lobby.RecordAction(env.TableID, who, env.Action, env.Amount); err != nil {
		c.enqueue(codec.EncodeError(env.TableID, errorCode(err), err.Error()))
		return
	}
	c.enqueue(codec.EncodeAck(env.TableID, codec.CmdAction))
}

func (c *Connection) handleChat(env codec.ClientEnvelope) {
	who := table.Identity{ID: c.account.ID, Name: c.account.Username, Role: c.account.Role}
	if err := c.gateway.lobby.Chat(env.TableID, who, env.Text); err != nil {
		c.enqueue(codec.EncodeError(env.TableID, errorCode(err), err.Error()))
		return
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		return "not_found"
	case errors.Is(err, table.ErrNotSeated):
		return "not_seated"
	case errors.Is(err, table.ErrTableClosed):
		return "table_closed"
	case errors.Is(err, ledger.ErrUnavailable):
		return "ledger_unavailable"
	default:
		return "internal"
	}
}

func (c *Connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Drop if buffer full
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
