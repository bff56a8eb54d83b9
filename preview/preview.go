// Package preview serves the framed video stream to browser-based debug
// tooling over websockets. The server implements sender.Sender so it
// registers with the relay as an ordinary mirror sink; each connected
// client gets a bounded frame channel that drops the oldest frame under
// backpressure, mirroring the transport senders' freshness policy.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientQueueCapacity = 256
	writeDeadline       = 5 * time.Second
)

// Server broadcasts VID0-framed packets to every connected websocket client.
type Server struct {
	log      *slog.Logger
	addr     string
	upgrader websocket.Upgrader
	srv      *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}

	ln    net.Listener
	ready chan struct{}

	active atomic.Bool
	sent   atomic.Int64
}

type client struct {
	conn *websocket.Conn
	ch   chan []byte
	done chan struct{}
}

// NewServer creates a preview server listening on addr once Start is
// called. If log is nil, slog.Default() is used.
func NewServer(addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:  log.With("component", "preview"),
		addr: addr,
		upgrader: websocket.Upgrader{
			// Debug tooling runs from file:// and localhost origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		ready:   make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// Addr returns the bound listen address. It blocks until Start has bound
// the listener, which makes ":0" addresses usable.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.ln.Addr()
}

// Start serves websocket upgrades on /preview until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/preview", s.handleUpgrade)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	close(s.ready)
	s.srv = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn: conn,
		ch:   make(chan []byte, clientQueueCapacity),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info("preview client connected", "remote", r.RemoteAddr, "clients", n)

	go s.writePump(c)
	s.readPump(c)

	s.remove(c)
	s.log.Info("preview client disconnected", "remote", r.RemoteAddr)
}

// readPump discards inbound messages; its only job is noticing the close.
func (s *Server) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.ch:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.done)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// Send broadcasts one framed packet to every client, dropping each client's
// oldest pending frame on overflow. Implements sender.Sender.
func (s *Server) Send(pkt []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		select {
		case c.ch <- pkt:
		default:
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- pkt:
			default:
			}
		}
	}
	s.sent.Add(1)
	return nil
}

// Flush is a no-op; each packet is broadcast as its own message.
func (s *Server) Flush() error { return nil }

// IsActive reports whether the server still accepts frames.
func (s *Server) IsActive() bool { return s.active.Load() }

// Close disconnects every client and stops accepting frames. Idempotent.
func (s *Server) Close() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		close(c.done)
		c.conn.Close()
	}
	return nil
}

// ClientCount returns the number of connected preview clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
