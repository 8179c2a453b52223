// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package feed broadcasts decoded readings to WebSocket clients, as CBOR
// binary frames or JSON text frames, and serves the latest reading per
// sensor.
package feed

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 64
)

// Config holds the feed server options
type Config struct {
	// Username and Password enable HTTP Basic auth when both are set
	Username string
	Password string
}

type client struct {
	conn   *websocket.Conn
	format Format
	send   chan []byte
}

// Hub fans readings out to connected clients. Publish never blocks: a
// client whose send buffer is full is disconnected.
type Hub struct {
	cfg      Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[uint32]tpms.Reading
	dropped uint64
}

// NewHub creates a hub with no clients
func NewHub(cfg Config, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger.WithPrefix("feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		latest:  make(map[uint32]tpms.Reading),
	}
}

// Handler serves GET /feed and GET /sensors
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", h.authorized(h.serveFeed))
	mux.HandleFunc("/sensors", h.authorized(h.serveSensors))
	return mux
}

// ListenAndServe serves the hub on addr until ctx is cancelled
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve serves the hub on ln until ctx is cancelled
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		h.closeAll()
	}()

	h.logger.Info("feed listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) authorized(next http.HandlerFunc) http.HandlerFunc {
	if h.cfg.Username == "" || h.cfg.Password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="tpmscope"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *Hub) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:   conn,
		format: ParseFormat(r.URL.Query().Get("format")),
		send:   make(chan []byte, clientSendSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("feed client connected", "remote", r.RemoteAddr, "format", c.format, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and notices disconnects
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("feed client error", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.BinaryMessage
	if c.format == FormatJSON {
		msgType = websocket.TextMessage
	}

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(msgType, data); err != nil {
				h.logger.Debug("feed write failed", "err", err)
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

// remove unregisters c and closes its send channel, once
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("feed client disconnected", "clients", len(h.clients))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish records r as the latest reading of its sensor and queues it to
// every client
func (h *Hub) Publish(r tpms.Reading) {
	var frames [2][]byte
	encode := func(f Format) []byte {
		if frames[f] == nil {
			data, err := Encode(r, f)
			if err != nil {
				h.logger.Error("encoding reading", "format", f, "err", err)
				return nil
			}
			frames[f] = data
		}
		return frames[f]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[r.SensorID] = r

	for c := range h.clients {
		data := encode(c.format)
		if data == nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow client; the write pump closes the connection
			h.dropped++
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("feed client too slow, disconnected", "dropped", h.dropped)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sensors returns the latest reading per sensor ordered by sensor ID
func (h *Hub) Sensors() []tpms.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]tpms.Reading, 0, len(h.latest))
	for _, r := range h.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

func (h *Hub) serveSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Sensors()); err != nil {
		h.logger.Debug("writing sensors", "err", err)
	}
}
