package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/storage/zapadapter"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errClientClosed = errors.New("connection is closed")
	errSlowConsumer = errors.New("send buffer is full")
)

// Registry is the part of the presence registry owning connection lifecycle
type Registry interface {
	Register(connID string, user int64, sink presence.Sink) error
	Deregister(connID string)
	Len() int
}

// liveHandler upgrades authenticated requests to websocket connections and serves them
type liveHandler struct {
	logger   *zap.SugaredLogger
	svc      ChatService
	registry Registry
	tokens   TokenParser
	cfg      liveConfig
	upgrader websocket.Upgrader
	parsers  fastjson.ParserPool

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

func newLiveHandler(logger *zap.SugaredLogger, svc ChatService, registry Registry, tokens TokenParser, cfg liveConfig) *liveHandler {
	return &liveHandler{
		logger:   logger,
		svc:      svc,
		registry: registry,
		tokens:   tokens,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers of the marketplace web client connect from another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// client is one live connection. Only writePump writes to conn.
type client struct {
	id      string
	user    int64
	conn    *websocket.Conn
	send    chan presence.Event
	done    chan struct{}
	limiter *rate.Limiter

	closeOnce sync.Once
	closeCode int
	closeText string
}

// Push queues evt without blocking, a client that can not keep up is disconnected
func (c *client) Push(evt presence.Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- evt:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.close(websocket.CloseTryAgainLater, "slow consumer")
		// unblock a write stuck on a peer that stopped reading
		_ = c.conn.UnderlyingConn().SetWriteDeadline(time.Now())
		return errSlowConsumer
	}
}

func (c *client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (h *liveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := auth.FromRequest(r)
	if err != nil {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}
	user, err := h.tokens.ParseToken(raw)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already replied
		h.logger.Debugw("websocket upgrade", "error", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		user:    user,
		conn:    conn,
		send:    make(chan presence.Event, h.cfg.sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.cfg.eventsPerSec, h.cfg.burst),
	}

	if err := h.registry.Register(c.id, user, c); err != nil {
		h.logger.Errorw("register connection", "connection", c.id, "error", err)
		conn.Close()
		return
	}
	h.track(c)

	// request context is gone once the handler returns, values are kept for logs
	ctx, cancel := context.WithCancel(context.WithoutCancel(zapadapter.NewContextWithUserID(r.Context(), user)))
	defer func() {
		cancel()
		h.registry.Deregister(c.id)
		h.untrack(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	h.logger.Debugw("connection opened", "connection", c.id, "user", user, "live", h.registry.Len())
	_ = c.Push(presence.Event{Kind: presence.EventConnected, Data: connectedData{Connection: c.id, User: user}})

	go h.writePump(c)
	h.readPump(ctx, c)

	h.logger.Debugw("connection closed", "connection", c.id, "user", user)
}

type connectedData struct {
	Connection string `json:"connection"`
	User       int64  `json:"user"`
}

func (h *liveHandler) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(h.cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("read from connection", "connection", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.pongWait))

		select {
		case <-c.done:
			return
		default:
		}

		h.dispatch(ctx, c, data)
	}
}

func (h *liveHandler) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				h.logger.Debugw("write to connection", "connection", c.id, "error", err)
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText),
				time.Now().Add(h.cfg.writeWait))
			return
		}
	}
}

func (h *liveHandler) track(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.wg.Add(1)
}

func (h *liveHandler) untrack(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.wg.Done()
	}
}

// closeAll disconnects every live client and waits until their handlers returned
func (h *liveHandler) closeAll() {
	h.logger.Infof("Closing %d live connections", h.registry.Len())

	h.mu.Lock()
	for _, c := range h.clients {
		c.close(websocket.CloseGoingAway, "server shutdown")
	}
	h.mu.Unlock()

	h.wg.Wait()
}
