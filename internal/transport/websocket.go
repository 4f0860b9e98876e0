// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	applog "specstream/internal/log"
	"specstream/internal/spectrogram"

	"github.com/gorilla/websocket"
)

// Websocket operations.
const (
	OpRead      = "read"
	OpConfig    = "config"
	OpSetConfig = "setConfig"
	OpStats     = "stats"
)

const maxMessageSize = 64 << 10

// Message is a client request. Request is used by read, Config by setConfig.
type Message struct {
	ID      uint64               `json:"id"`
	Op      string               `json:"op"`
	Request *spectrogram.Request `json:"request,omitempty"`
	Config  *spectrogram.Config  `json:"config,omitempty"`
}

// Response answers the Message with the same ID. Exactly one of Result,
// Config, Stats or Error is set.
type Response struct {
	ID     uint64              `json:"id"`
	Op     string              `json:"op"`
	Result *spectrogram.Result `json:"result,omitempty"`
	Config *spectrogram.Config `json:"config,omitempty"`
	Stats  *spectrogram.Stats  `json:"stats,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Server answers renderer requests over websocket connections at /ws. Each
// connection is served by one goroutine, so responses arrive in request
// order.
type Server struct {
	addr     string
	reader   Reader
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

// NewServer creates a server for addr. Nothing listens until Run.
func NewServer(addr string, reader Reader) *Server {
	return &Server{
		addr:   addr,
		reader: reader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers are served from anywhere
			},
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		applog.Infof("WebSocket: serving on ws://%s/ws", ln.Addr())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.closeClients()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocket: upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	applog.Infof("WebSocket: client %s connected, total: %d", conn.RemoteAddr(), total)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		total := len(s.clients)
		s.clientsMu.Unlock()
		conn.Close()
		applog.Infof("WebSocket: client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				applog.Warnf("WebSocket: read error: %v", err)
			}
			return
		}

		var msg Message
		var resp Response
		if err := json.Unmarshal(data, &msg); err != nil {
			resp = Response{Error: fmt.Sprintf("malformed message: %v", err)}
		} else {
			resp = s.handle(msg)
		}

		if err := conn.WriteJSON(resp); err != nil {
			applog.Warnf("WebSocket: write error: %v", err)
			return
		}
	}
}

// handle executes one request against the reader.
func (s *Server) handle(msg Message) Response {
	resp := Response{ID: msg.ID, Op: msg.Op}

	switch msg.Op {
	case OpRead:
		req := spectrogram.Request{}
		if msg.Request != nil {
			req = *msg.Request
		}
		res := s.reader.Read(req)
		resp.Result = &res
	case OpConfig:
		cfg := s.reader.Config()
		resp.Config = &cfg
	case OpSetConfig:
		if msg.Config == nil {
			resp.Error = "setConfig: missing config"
			break
		}
		if err := s.reader.SetConfig(*msg.Config); err != nil {
			resp.Error = err.Error()
			break
		}
		cfg := s.reader.Config()
		resp.Config = &cfg
	case OpStats:
		stats := s.reader.Stats()
		resp.Stats = &stats
	default:
		resp.Error = fmt.Sprintf("unknown op %q", msg.Op)
	}
	return resp
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
