package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/one-zero-eight/printers/authgate"
	"github.com/one-zero-eight/printers/bot"
	"github.com/one-zero-eight/printers/logger"
)

// chatHub is the websocket chat front-end. Each connection authenticates
// once, then exchanges JSON frames; the hub implements the bot transport
// by routing outgoing frames to the owner's live connections.
type chatHub struct {
	log    *logger.Logger
	engine *bot.Engine
	gate   *authgate.Gate

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[string]*chatSession // ownerID -> sessionID -> session

	nextMessageID atomic.Int64
}

type chatSession struct {
	id      string
	ownerID string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newChatHub(log *logger.Logger) *chatHub {
	return &chatHub{
		log:      log,
		sessions: make(map[string]map[string]*chatSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return corsAllowed(r.Header.Get("Origin")) || r.Header.Get("Origin") == ""
			},
		},
	}
}

// bind connects the hub to the engine and the auth gate after both exist.
func (h *chatHub) bind(engine *bot.Engine, gate *authgate.Gate) {
	h.engine = engine
	h.gate = gate
}

// inFrame is a client-to-server frame.
type inFrame struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	Command    string `json:"command,omitempty"`
	Text       string `json:"text,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Data       string `json:"data,omitempty"` // base64 for documents
	MessageID  int64  `json:"message_id,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	Callback   string `json:"callback_data,omitempty"`
}

// outFrame is a server-to-client frame.
type outFrame struct {
	Type       string         `json:"type"`
	MessageID  int64          `json:"message_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	Buttons    [][]bot.Button `json:"buttons,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	Data       string         `json:"data,omitempty"`
	CallbackID string         `json:"callback_id,omitempty"`
}

func (h *chatHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "error", err)
		return
	}

	// First frame must authenticate.
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var hello inFrame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "auth" {
		conn.WriteJSON(outFrame{Type: "error", Text: "expected an auth frame"})
		conn.Close()
		return
	}
	owner, err := h.gate.Verify(r.Context(), hello.Token)
	if err != nil {
		conn.WriteJSON(outFrame{Type: "error", Text: "unauthorized"})
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	session := &chatSession{id: uuid.NewString(), ownerID: owner, conn: conn}
	h.register(session)
	defer h.unregister(session)

	session.send(outFrame{Type: "ready"})
	h.log.Info("Chat session opened", "owner", owner, "session", session.id)

	for {
		var frame inFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.log.Debug("Chat session closed", "owner", owner, "session", session.id, "error", err)
			return
		}
		h.dispatch(owner, frame)
	}
}

// dispatch routes one inbound frame to the engine. Handlers serialize per
// owner internally, so each frame gets its own goroutine-free call here.
func (h *chatHub) dispatch(owner string, frame inFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch frame.Type {
	case "command":
		h.engine.HandleCommand(ctx, owner, frame.Command)
	case "text":
		h.engine.HandleText(ctx, owner, frame.Text)
	case "document":
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			h.log.Debug("Bad document payload", "owner", owner, "error", err)
			return
		}
		h.engine.HandleDocument(ctx, owner, frame.Filename, data)
	case "callback":
		h.engine.HandleCallback(ctx, owner, frame.MessageID, frame.Callback, frame.CallbackID)
	default:
		h.log.Debug("Unknown chat frame", "owner", owner, "type", frame.Type)
	}
}

func (h *chatHub) register(s *chatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.ownerID] == nil {
		h.sessions[s.ownerID] = make(map[string]*chatSession)
	}
	h.sessions[s.ownerID][s.id] = s
}

func (h *chatHub) unregister(s *chatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions[s.ownerID], s.id)
	if len(h.sessions[s.ownerID]) == 0 {
		delete(h.sessions, s.ownerID)
	}
	s.conn.Close()
}

func (s *chatSession) send(frame outFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// broadcast delivers a frame to every live session of the owner.
func (h *chatHub) broadcast(ownerID string, frame outFrame) error {
	h.mu.RLock()
	sessions := make([]*chatSession, 0, len(h.sessions[ownerID]))
	for _, s := range h.sessions[ownerID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	if len(sessions) == 0 {
		return fmt.Errorf("owner %s has no open chat session", ownerID)
	}
	var lastErr error
	for _, s := range sessions {
		if err := s.send(frame); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SendMessage implements bot.Transport.
func (h *chatHub) SendMessage(ctx context.Context, ownerID, text string, buttons [][]bot.Button) (int64, error) {
	id := h.nextMessageID.Add(1)
	err := h.broadcast(ownerID, outFrame{Type: "message", MessageID: id, Text: text, Buttons: buttons})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// EditMessage implements bot.Transport.
func (h *chatHub) EditMessage(ctx context.Context, ownerID string, messageID int64, text string, buttons [][]bot.Button) error {
	return h.broadcast(ownerID, outFrame{Type: "edit", MessageID: messageID, Text: text, Buttons: buttons})
}

// SendDocument implements bot.Transport.
func (h *chatHub) SendDocument(ctx context.Context, ownerID, filename string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return h.broadcast(ownerID, outFrame{
		Type:     "document",
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(data),
	})
}

// AnswerCallback implements bot.Transport. The ack goes to every session;
// clients ignore callback ids they did not issue.
func (h *chatHub) AnswerCallback(ctx context.Context, callbackID, text string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sessions := range h.sessions {
		for _, s := range sessions {
			s.send(outFrame{Type: "callback_answer", CallbackID: callbackID, Text: text})
		}
	}
	return nil
}
