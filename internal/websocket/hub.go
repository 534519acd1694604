// Package feedws serves the document feed: each websocket client sends watch
// and unwatch frames and receives snapshot and error frames for the targets it
// watches.
package feedws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	websocket "github.com/gofiber/contrib/websocket"
)

const (
	ReasonTokenExpired = "unauthenticated: token expired"
	ReasonSignedOut    = "unauthenticated: signed out"

	writeWait = 5 * time.Second
)

type Hub struct {
	store      docstore.Subscriber
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	disconnect chan disconnectRequest
	count      chan countRequest
	// done is closed when Run returns; later calls no longer block on it.
	done chan struct{}
}

type disconnectRequest struct {
	userID string
	reason string
}

type countRequest struct {
	userID string
	reply  chan int
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	userID    string
	expiresAt time.Time
	send      chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	watches map[string]*watch
}

type watch struct {
	stop func()
}

func NewHub(store docstore.Subscriber) *Hub {
	return &Hub{
		store:      store,
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		disconnect: make(chan disconnectRequest),
		count:      make(chan countRequest),
		done:       make(chan struct{}),
	}
}

// NewClient binds conn to userID until expiresAt; a zero expiresAt never
// expires.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, expiresAt time.Time) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:       hub,
		conn:      conn,
		userID:    userID,
		expiresAt: expiresAt,
		send:      make(chan []byte, 32),
		ctx:       ctx,
		cancel:    cancel,
		watches:   make(map[string]*watch),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					go client.closeWith(websocket.CloseGoingAway, "server shutting down")
				}
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			if set, ok := h.clients[client.userID]; ok {
				delete(set, client)
				if len(set) == 0 {
					delete(h.clients, client.userID)
				}
			}
			client.shutdown()
		case request := <-h.disconnect:
			for client := range h.clients[request.userID] {
				go client.closeWith(websocket.ClosePolicyViolation, request.reason)
			}
		case request := <-h.count:
			request.reply <- len(h.clients[request.userID])
		}
	}
}

// Register adds client to the hub. Once the hub has stopped the client is
// shut down instead, which ends its WritePump and closes the connection.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.shutdown()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.shutdown()
	}
}

// Disconnect closes every feed connection of userID with a policy close
// carrying reason.
func (h *Hub) Disconnect(userID, reason string) {
	select {
	case h.disconnect <- disconnectRequest{userID: userID, reason: reason}:
	case <-h.done:
	}
}

// Connections reports userID's open feed connections; 0 once the hub has
// stopped.
func (h *Hub) Connections(userID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{userID: userID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	if !c.expiresAt.IsZero() {
		timer := time.AfterFunc(time.Until(c.expiresAt), func() {
			c.closeWith(websocket.ClosePolicyViolation, ReasonTokenExpired)
		})
		defer timer.Stop()
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("feed read for user %s: %v", c.userID, err)
			}
			return
		}

		var request docstore.FeedRequest
		if err := json.Unmarshal(payload, &request); err != nil {
			c.writeError("", "invalid-argument", "invalid frame payload")
			continue
		}
		request.ID = strings.TrimSpace(request.ID)

		switch request.Type {
		case docstore.FrameWatch:
			c.watch(request)
		case docstore.FrameUnwatch:
			c.unwatch(request.ID)
		default:
			c.writeError(request.ID, "invalid-argument", "unsupported frame type")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) watch(request docstore.FeedRequest) {
	if request.ID == "" {
		c.writeError("", "invalid-argument", "watch id is required")
		return
	}
	target := request.Target()
	if err := target.Validate(); err != nil {
		c.writeError(request.ID, "invalid-argument", err.Error())
		return
	}

	current := &watch{}
	stop, err := c.hub.store.Subscribe(c.ctx, target, func(docs []docstore.Document) {
		c.enqueue(docstore.FeedFrame{Type: docstore.FrameSnapshot, ID: request.ID, Documents: docs})
	}, func(err error) {
		c.dropWatch(request.ID, current)
		c.writeError(request.ID, errorCode(err), err.Error())
	})
	if err != nil {
		c.writeError(request.ID, errorCode(err), err.Error())
		return
	}
	current.stop = stop

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stop()
		return
	}
	previous := c.watches[request.ID]
	c.watches[request.ID] = current
	c.mu.Unlock()

	if previous != nil && previous.stop != nil {
		previous.stop()
	}
}

func (c *Client) unwatch(id string) {
	c.mu.Lock()
	existing := c.watches[id]
	delete(c.watches, id)
	c.mu.Unlock()

	if existing != nil && existing.stop != nil {
		existing.stop()
	}
}

func (c *Client) dropWatch(id string, w *watch) {
	c.mu.Lock()
	if c.watches[id] == w {
		delete(c.watches, id)
	}
	c.mu.Unlock()
}

func (c *Client) writeError(id, code, message string) {
	c.enqueue(docstore.FeedFrame{Type: docstore.FrameError, ID: id, Code: code, Message: message})
}

func (c *Client) enqueue(frame docstore.FeedFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("feed encode frame: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		go c.closeWith(websocket.CloseTryAgainLater, "feed consumer too slow")
	}
}

func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// shutdown releases every watch and ends WritePump; it runs once.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	watches := c.watches
	c.watches = nil
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	for _, w := range watches {
		if w.stop != nil {
			w.stop()
		}
	}
}

func errorCode(err error) string {
	var coded interface{ ErrorCode() string }
	switch {
	case errors.As(err, &coded):
		return coded.ErrorCode()
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, docstore.ErrInvalidQuery):
		return "invalid-argument"
	case errors.Is(err, docstore.ErrNotFound):
		return "not-found"
	default:
		return docstore.CodeInternal
	}
}
