package api

import (
	"sync"
	"time"

	"echoapp/logger"

	"github.com/gorilla/websocket"
)

// Hub tracks live sessions so they can be counted and closed on shutdown.
// It never relays messages between sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

func NewHub() *Hub { return &Hub{sessions: make(map[string]*Session)} }

// Add registers s. It returns false once CloseAll has been called.
func (h *Hub) Add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	logger.Info("websocket client connected", logger.FieldKV("connection_id", s.id), logger.FieldKV("remote_addr", s.conn.RemoteAddr().String()))
	return true
}

func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	_ = s.conn.Close()
	if ok {
		h.wg.Done()
		logger.Info("websocket client disconnected", logger.FieldKV("connection_id", s.id), logger.FieldKV("remote_addr", s.conn.RemoteAddr().String()))
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll sends a close frame with code to every session, giving each write until
// deadline. Sessions then exit their read loops and deregister themselves.
func (h *Hub) CloseAll(code int, text string, deadline time.Time) {
	h.mu.Lock()
	h.closing = true
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, text)
	for _, s := range live {
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logger.Debug("close frame not sent", logger.FieldKV("connection_id", s.id), logger.FieldKV("reason", err.Error()))
			_ = s.conn.Close()
		}
	}
}

// Wait blocks until every registered session has been removed.
func (h *Hub) Wait() { h.wg.Wait() }

// Terminate drops the underlying connections without a closing handshake.
func (h *Hub) Terminate() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		_ = s.conn.Close()
	}
}
