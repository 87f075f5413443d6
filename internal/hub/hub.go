// Package hub implements the realtime key/value store that remote clients
// synchronize against: a REST API for reads and writes plus a websocket
// stream that pushes every change of a subscribed path.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/protocol"
	"github.com/zot/shopsync/internal/storage"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// Hub is the realtime store server.
type Hub struct {
	config     *config.Config
	store      storage.Backend
	watches    *WatchManager
	streams    map[string]*stream // connection ID -> stream
	projects   map[string]struct{}
	keys       map[string]struct{}
	httpServer *http.Server
	listener   net.Listener

	// writeMu orders a store mutation with its fan-out, and a subscription
	// with its initial value push, so no watcher sees an older value last.
	writeMu sync.Mutex
	mu      sync.RWMutex
}

// New creates a hub serving store.
func New(cfg *config.Config, store storage.Backend) *Hub {
	h := &Hub{
		config:   cfg,
		store:    store,
		watches:  NewWatchManager(),
		streams:  make(map[string]*stream),
		projects: toSet(cfg.Hub.Projects),
		keys:     toSet(cfg.Hub.AccessKeys),
	}
	h.watches.OnActiveChanged = func(path string, active bool) {
		h.config.Log(3, "hub: path %s active=%v", path, active)
	}
	return h
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Handler builds the chi router.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.handleHealth)

	r.Route("/v1/{project}", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/data/*", h.handleGet)
		r.Put("/data/*", h.handlePut)
		r.Delete("/data/*", h.handleDelete)
		r.Get("/keys", h.handleKeys)
		r.Get("/stream", h.handleStream)
	})

	return r
}

// Start listens on the configured address and serves in the background.
func (h *Hub) Start() error {
	addr := net.JoinHostPort(h.config.Hub.Host, strconv.Itoa(h.config.Hub.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hub: listen %s: %w", addr, err)
	}
	h.listener = ln
	h.httpServer = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.config.Log(0, "hub: serve error: %v", err)
		}
	}()
	h.config.Log(1, "hub: listening on %s", ln.Addr())
	return nil
}

// Addr returns the listening address once started.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown stops the HTTP server and closes all streams.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.Unlock()
	for _, s := range streams {
		s.close()
	}

	if h.httpServer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}
	if err := h.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub: shutdown: %w", err)
	}
	return nil
}

// authenticate checks the project id and access key of every /v1 request.
func (h *Hub) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := chi.URLParam(r, "project")
		if len(h.projects) > 0 {
			if _, ok := h.projects[project]; !ok {
				writeError(w, http.StatusNotFound, "unknown project")
				return
			}
		}
		if len(h.keys) > 0 {
			if _, ok := h.keys[accessKey(r)]; !ok {
				writeError(w, http.StatusUnauthorized, "invalid access key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// accessKey extracts the credential from the Authorization header or ?auth=.
func accessKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("auth")
}

// storagePath scopes a client path to its project.
func storagePath(project, path string) string {
	return project + "/" + path
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Hub) handleGet(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if err := protocol.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := h.store.Get(storagePath(chi.URLParam(r, "project"), path))
	if errors.Is(err, storage.ErrNotFound) {
		value = json.RawMessage("null")
	} else if err != nil {
		h.config.Log(0, "hub: get %s: %v", path, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (h *Hub) handlePut(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if err := protocol.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := int64(h.config.Hub.MaxValueBytes)
	var body []byte
	var err error
	if limit > 0 {
		body, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err == nil && int64(len(body)) > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "value too large")
			return
		}
	} else {
		body, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body is not JSON")
		return
	}

	value := json.RawMessage(body)
	if err := h.apply(chi.URLParam(r, "project"), path, value); err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (h *Hub) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if err := protocol.ValidatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.apply(chi.URLParam(r, "project"), path, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleKeys(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	scope := project + "/"
	paths, err := h.store.List(scope + r.URL.Query().Get("prefix"))
	if err != nil {
		h.config.Log(0, "hub: list %s: %v", project, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, strings.TrimPrefix(p, scope))
	}
	writeJSON(w, http.StatusOK, keys)
}

// apply stores (or, for null, deletes) a value and pushes it to watchers.
func (h *Hub) apply(project, path string, value json.RawMessage) error {
	key := storagePath(project, path)
	isNull := len(value) == 0 || strings.TrimSpace(string(value)) == "null"

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	var err error
	if isNull {
		err = h.store.Delete(key)
		value = nil
	} else {
		err = h.store.Put(key, value)
	}
	if err != nil {
		h.config.Log(0, "hub: write %s: %v", key, err)
		return err
	}
	h.config.Log(3, "hub: wrote %s", key)
	h.config.Log(4, "hub: %s = %s", key, string(value))

	h.notify(key, path, value)
	return nil
}

// notify queues value for every stream watching key. Caller holds writeMu.
func (h *Hub) notify(key, path string, value json.RawMessage) {
	msg := protocol.ValueMessage(path, value)
	for _, connID := range h.watches.Watchers(key) {
		h.mu.RLock()
		s := h.streams[connID]
		h.mu.RUnlock()
		if s != nil {
			s.send(msg)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
