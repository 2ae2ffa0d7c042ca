package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/game"
	"fairwager/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 256
	pendingLimit   = 16
	replyWait      = 2 * time.Second
	// custody confirmation can take a while
	requestTimeout = 2 * time.Minute
)

type Client struct {
	ID     string
	Player string
	Conn   *websocket.Conn
	Send   chan []byte

	Hub    *Hub
	engine Engine
	log    *slog.Logger

	requests chan Request
	Done     chan struct{}
	doneOnce sync.Once
}

func NewClient(player string, conn *websocket.Conn, hub *Hub, engine Engine) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		Player:   player,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		Hub:      hub,
		engine:   engine,
		log:      logger.With("player", player, "conn", id),
		requests: make(chan Request, pendingLimit),
		Done:     make(chan struct{}),
	}
}

// Run serves the connection until it closes
func (c *Client) Run() {
	c.Hub.Register(c)
	go c.writePump()
	go c.worker()

	c.reply(Message{Type: MsgReady, Payload: ReadyPayload{Connection: c.ID, Player: c.Player}})
	// a reconnecting client gets its open rounds straight away
	c.requests <- Request{Type: MsgState}

	c.readPump()
}

//read
func (c *Client) readPump() {
	defer c.disconnect()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read error", "error", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.replyError("", domain.Validationf("malformed message"))
			continue
		}
		if req.Type == MsgPing {
			c.reply(Message{Type: MsgPong, ID: req.ID})
			continue
		}
		select {
		case c.requests <- req:
		default:
			c.replyError(req.ID, domain.NewError(domain.CodeInvalidState, "too many pending requests"))
		}
	}
}

// worker runs requests one at a time so a player's commands apply in order
func (c *Client) worker() {
	for {
		select {
		case req := <-c.requests:
			c.handle(req)
		case <-c.Done:
			return
		}
	}
}

func (c *Client) handle(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var (
		r   *domain.Round
		err error
	)
	switch req.Type {
	case MsgPlace:
		if req.Place == nil {
			err = domain.Validationf("place requires a place object")
			break
		}
		p := *req.Place
		p.Player = c.Player
		r, err = c.engine.Place(ctx, p)
	case MsgOpen:
		r, err = c.engine.Step(ctx, c.Player, req.Nonce, game.Action{Type: game.ActionOpenCell, Cell: req.Cell})
	case MsgDrop:
		r, err = c.engine.Step(ctx, c.Player, req.Nonce, game.Action{Type: game.ActionDrop})
	case MsgCashOut, MsgResolve:
		r, err = c.engine.Resolve(ctx, c.Player, req.Nonce)
	case MsgState:
		if req.Nonce == 0 {
			c.reply(Message{Type: MsgState, ID: req.ID, Payload: StatePayload{Rounds: c.engine.Active(ctx, c.Player)}})
			return
		}
		r, err = c.engine.Get(ctx, c.Player, req.Nonce)
	default:
		err = domain.Validationf("unknown message type %q", req.Type)
	}

	if err != nil {
		c.replyError(req.ID, err)
		return
	}
	c.reply(Message{Type: MsgRound, ID: req.ID, Payload: r})
}

func (c *Client) replyError(id string, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		c.log.Error("ws request failed", "id", id, "error", err)
	}
	c.reply(Message{Type: MsgError, ID: id, Payload: domain.ErrorPayload{Code: code, Message: domain.MessageOf(err)}})
}

// reply waits briefly for buffer space; replies matter more than events
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("ws reply marshal failed", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.Send <- data:
	case <-c.Done:
	case <-time.After(replyWait):
		c.log.Warn("ws reply timeout", "type", msg.Type, "id", msg.ID)
	}
}

func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.Done:
		return true
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

//write
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("ws write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

//disconnect
func (c *Client) disconnect() {
	c.doneOnce.Do(func() {
		close(c.Done)
		c.Hub.Unregister(c)
		_ = c.Conn.Close()
	})
}
