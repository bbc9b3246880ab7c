package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"minigames-backend/internal/models"
	"minigames-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	blackjack *services.BlackjackService
	crash     *services.CrashService
	drawn     *services.DrawnService
	settler   *services.Settler
	limiter   services.RateLimiter
	rateLimit int
	hub       *WebSocketHub
	log       *zap.Logger
}

// WebSocketHub tracks every open connection by user so balance changes can
// be pushed to a player's other tabs.
type WebSocketHub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Broadcast
	log        *zap.Logger
}

// Broadcast is a frame for every connection of UserID except Except.
type Broadcast struct {
	UserID  string
	Except  string
	Message models.Message
}

// Client is one authenticated connection. Frames reach the socket only
// through send, which the write pump drains.
type Client struct {
	ID       string
	UserID   string
	Username string
	conn     *websocket.Conn
	send     chan models.Message
	done     chan struct{}
	log      *zap.Logger
}

func NewWebSocketHandler(
	blackjack *services.BlackjackService,
	crash *services.CrashService,
	drawn *services.DrawnService,
	settler *services.Settler,
	limiter services.RateLimiter,
	rateLimit int,
	log *zap.Logger,
) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Broadcast, 100),
		log:        log,
	}

	go hub.run()

	return &WebSocketHandler{
		blackjack: blackjack,
		crash:     crash,
		drawn:     drawn,
		settler:   settler,
		limiter:   limiter,
		rateLimit: rateLimit,
		hub:       hub,
		log:       log,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: c.GetString("username"),
		conn:     conn,
		send:     make(chan models.Message, sendBuffer),
		done:     make(chan struct{}),
	}
	client.log = h.log.With(zap.String("user_id", userID), zap.String("conn_id", client.ID))

	h.hub.register <- client
	go client.writePump()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.hub.unregister <- client
		close(client.done)
		h.blackjack.Leave(userID, client.ID)
		h.crash.Leave(userID, client.ID)
		h.drawn.Leave(userID, client.ID)
		conn.Close()
	}()

	h.sendBalance(ctx, client)
	h.readPump(ctx, client)
}

func (h *WebSocketHandler) readPump(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				client.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.sendError(client, "", "", services.ErrBadPayload)
			continue
		}
		h.handleMessage(ctx, client, cmd)
	}
}

// writePump owns every write to the socket, including keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Emit queues a frame without blocking. Timers call it after the
// connection may have gone; a full buffer drops the frame.
func (c *Client) Emit(msg models.Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn("outbound frame dropped", zap.String("type", msg.Type), zap.String("game", string(msg.Game)))
	}
}

func (h *WebSocketHandler) sendBalance(ctx context.Context, client *Client) {
	bal, err := h.settler.Balance(ctx, client.UserID)
	if err != nil {
		client.log.Warn("failed to read balance for websocket", zap.Error(err))
		return
	}
	client.Emit(models.Message{
		Type: models.MsgBalance,
		Data: models.BalanceResponse{UserID: client.UserID, Balance: bal},
	})
}

// notifyBalance pushes the current balance to the player's other tabs.
func (h *WebSocketHandler) notifyBalance(ctx context.Context, client *Client) {
	bal, err := h.settler.Balance(ctx, client.UserID)
	if err != nil {
		return
	}
	h.hub.broadcast <- &Broadcast{
		UserID: client.UserID,
		Except: client.ID,
		Message: models.Message{
			Type: models.MsgBalance,
			Data: models.BalanceResponse{UserID: client.UserID, Balance: bal},
		},
	}
}

func (h *WebSocketHandler) sendError(client *Client, game models.GameType, action string, err error) {
	ge := services.Classify(err)
	fields := []zap.Field{zap.String("game", string(game)), zap.String("action", action), zap.String("code", string(ge.Code)), zap.Error(err)}
	switch ge.Code {
	case services.CodeInternal, services.CodeLedger:
		client.log.Error("command failed", fields...)
	default:
		client.log.Debug("command rejected", fields...)
	}
	client.Emit(models.Message{
		Type: models.MsgError,
		Game: game,
		Data: models.ErrorPayload{Code: string(ge.Code), Message: ge.Message, Action: action},
	})
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			conns, ok := hub.clients[client.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				hub.clients[client.UserID] = conns
			}
			conns[client] = struct{}{}
			hub.log.Debug("client registered", zap.String("user_id", client.UserID), zap.String("conn_id", client.ID))

		case client := <-hub.unregister:
			if conns, ok := hub.clients[client.UserID]; ok {
				delete(conns, client)
				if len(conns) == 0 {
					delete(hub.clients, client.UserID)
				}
				hub.log.Debug("client unregistered", zap.String("user_id", client.UserID), zap.String("conn_id", client.ID))
			}

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

func (hub *WebSocketHub) broadcastMessage(message *Broadcast) {
	for client := range hub.clients[message.UserID] {
		if client.ID != message.Except {
			client.Emit(message.Message)
		}
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return services.ErrBadPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", services.ErrBadPayload, err)
	}
	return nil
}
