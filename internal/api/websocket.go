package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/device"
	"github.com/nerrad567/cdp-core/internal/infrastructure/config"
	"github.com/nerrad567/cdp-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeCommand  = "command"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// wsSendBufferSize is the outbound message buffer of the session.
	wsSendBufferSize = 16

	sourceSession = "session"
)

// WSMessage is a message sent to or from the control session.
//
// Clients send {"type":"command","id":"1","command":"DEV_CREATE","params":{...}}.
// Replies echo the id with type "response" (payload is the dispatch result)
// or "error" (payload is an Error carrying the errno).
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Command   string          `json:"command,omitempty"`
	Params    *control.Record `json:"params,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   any             `json:"payload,omitempty"`
}

// errSessionBusy refuses a second control session.
var errSessionBusy = fmt.Errorf("%w: control session already open", device.ErrBusy)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Sessions are authenticated by bearer token, not by origin.
		return true
	},
}

// controlSession is the single open control channel.
type controlSession struct {
	cfg        config.WebSocketConfig
	logger     *logging.Logger
	dispatcher *control.Dispatcher
	caller     control.Caller
	send       chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// claimSession installs sess as the active session. It fails if another
// session holds the slot.
func (s *Server) claimSession(sess *controlSession) bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session != nil {
		return false
	}
	s.session = sess
	return true
}

// releaseSession frees the slot if sess still holds it.
func (s *Server) releaseSession(sess *controlSession) {
	s.sessionMu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.sessionMu.Unlock()
}

// endSession closes the active session, if any.
func (s *Server) endSession() {
	s.sessionMu.Lock()
	sess := s.session
	s.session = nil
	s.sessionMu.Unlock()
	if sess != nil {
		sess.close()
	}
}

func (s *Server) sessionActive() bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session != nil
}

// handleControlSession upgrades to the exclusive control session.
// A second concurrent session is refused with 409 and errno EBUSY.
func (s *Server) handleControlSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &controlSession{
		cfg:        s.wsCfg,
		logger:     s.logger,
		dispatcher: s.dispatcher,
		caller:     callerFromRequest(r, sourceSession),
		send:       make(chan []byte, wsSendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	if !s.claimSession(sess) {
		cancel()
		s.logger.Warn("control session refused", "caller", sess.caller.ID)
		writeControlError(w, errSessionBusy)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseSession(sess)
		sess.close()
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	if !sess.attach(conn) {
		s.releaseSession(sess)
		return
	}

	s.logger.Info("control session opened", "caller", sess.caller.ID)

	go sess.writePump()
	go func() {
		sess.readPump()
		s.releaseSession(sess)
		sess.close()
		s.logger.Info("control session closed", "caller", sess.caller.ID)
	}()
}

// attach binds the upgraded connection. It returns false if the session
// was closed during the upgrade.
func (c *controlSession) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return false
	}
	c.conn = conn
	return true
}

// close ends the session. Safe to call more than once.
func (c *controlSession) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
}

// readPump reads and executes commands until the connection drops.
// Commands run one at a time in arrival order.
func (c *controlSession) readPump() {
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	pongWait := time.Duration(c.cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued replies and keepalive pings. A failed write
// closes the session.
func (c *controlSession) writePump() {
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	writeWait := time.Duration(c.cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.ctx.Done():
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one client message.
func (c *controlSession) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", Error{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeCommand:
		c.handleCommand(msg)
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, Error{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeBadRequest,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

// handleCommand dispatches one command. A command without params is sent
// with no parameter buffer.
func (c *controlSession) handleCommand(msg WSMessage) {
	code, err := control.ParseCommand(msg.Command)
	if err != nil {
		c.sendError(msg.ID, controlError(err))
		return
	}

	var raw []byte
	if msg.Params != nil {
		if raw, err = msg.Params.MarshalBinary(); err != nil {
			c.sendError(msg.ID, controlError(err))
			return
		}
	}

	res, err := c.dispatcher.Dispatch(c.ctx, c.caller, code, raw)
	if err != nil {
		c.sendError(msg.ID, controlError(err))
		return
	}
	c.reply(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: res})
}

func (c *controlSession) sendError(id string, e Error) {
	c.reply(WSMessage{Type: WSTypeError, ID: id, Payload: e})
}

// reply queues msg for the write pump. Replies are dropped once the
// session is closing.
func (c *controlSession) reply(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal session message", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}
