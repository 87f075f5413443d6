package hub

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zot/shopsync/internal/protocol"
	"github.com/zot/shopsync/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // access keys gate the stream, not origins
	},
}

const writeWait = 10 * time.Second

// maxQueued is how many frames may wait for a slow stream before it is dropped.
var maxQueued = 1024

// stream is one websocket connection. Frames are queued by send and
// written by writePump, the connection's only writer.
type stream struct {
	id      string
	project string
	conn    *websocket.Conn
	hub     *Hub

	mu    sync.Mutex
	queue []*protocol.Message
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// handleStream upgrades the request and starts the read pump.
func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.config.Log(0, "hub: websocket upgrade failed: %v", err)
		return
	}

	s := &stream{
		id:      "conn-" + uuid.NewString(),
		project: chi.URLParam(r, "project"),
		conn:    conn,
		hub:     h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.streams[s.id] = s
	h.mu.Unlock()

	h.config.Log(1, "hub: stream connected: project=%s conn=%s", s.project, s.id)
	go s.writePump()
	go s.readPump()
}

// readPump reads client frames until the connection closes.
func (s *stream) readPump() {
	defer s.close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.config.Log(0, "hub: stream %s error: %v", s.id, err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			s.hub.config.Log(0, "hub: stream %s: %v", s.id, err)
			s.send(protocol.ErrorMessage("", protocol.CodeBadMessage, err.Error()))
			continue
		}
		s.hub.config.Log(2, "hub: [IN] %s %s from %s", msg.Type, msg.Path, s.id)

		switch msg.Type {
		case protocol.MsgSubscribe:
			s.subscribe(msg.Path)
		case protocol.MsgUnsubscribe:
			s.hub.watches.Unwatch(storagePath(s.project, msg.Path), s.id)
		default:
			s.send(protocol.ErrorMessage(msg.Path, protocol.CodeBadMessage, "unexpected "+string(msg.Type)))
		}
	}
}

// subscribe registers the watch and pushes the current value.
func (s *stream) subscribe(path string) {
	if err := protocol.ValidatePath(path); err != nil {
		s.send(protocol.ErrorMessage(path, protocol.CodeInvalidPath, err.Error()))
		return
	}
	key := storagePath(s.project, path)

	s.hub.writeMu.Lock()
	defer s.hub.writeMu.Unlock()

	value, err := s.hub.store.Get(key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.hub.config.Log(0, "hub: read %s: %v", key, err)
		s.send(protocol.ErrorMessage(path, protocol.CodeInternal, "storage failure"))
		return
	}
	s.hub.watches.Watch(key, s.id)
	s.send(protocol.ValueMessage(path, value))
}

// send queues one frame without waiting for the client.
func (s *stream) send(msg *protocol.Message) {
	s.mu.Lock()
	if len(s.queue) >= maxQueued {
		s.mu.Unlock()
		s.hub.config.Log(0, "hub: stream %s is not reading, dropping it", s.id)
		s.close()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writePump writes queued frames in order until the stream closes.
func (s *stream) writePump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			data, err := msg.Encode()
			if err != nil {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.hub.config.Log(1, "hub: write to %s failed: %v", s.id, err)
				s.close()
				return
			}
			s.hub.config.Log(2, "hub: [OUT] %s %s to %s", msg.Type, msg.Path, s.id)
		}
	}
}

// close drops the connection and all of its watches.
func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.streams, s.id)
		s.hub.mu.Unlock()

		s.hub.watches.UnwatchAll(s.id)
		s.conn.Close()
		s.hub.config.Log(1, "hub: stream disconnected: conn=%s", s.id)
	})
}

// StreamCount returns the number of open streams.
func (h *Hub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Watches exposes the watch bookkeeping.
func (h *Hub) Watches() *WatchManager {
	return h.watches
}
