// Package gateway serves the local dashboard: the HTTP API, the WebSocket
// event stream, and the workspace file browser.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/deepwork"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
)

// Server hosts the dashboard endpoints.
type Server struct {
	bus      *bus.MessageBus
	manager  *missioncontrol.Manager
	executor *missioncontrol.Executor
	session  *deepwork.Session

	workspaceDir string

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient

	httpServer *http.Server
	mux        *http.ServeMux
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer wires the dashboard server. The session may be nil when deep
// work is disabled; its routes then answer 503.
func NewServer(b *bus.MessageBus, m *missioncontrol.Manager, e *missioncontrol.Executor, s *deepwork.Session, workspaceDir string) *Server {
	srv := &Server{
		bus:          b,
		manager:      m,
		executor:     e,
		session:      s,
		workspaceDir: workspaceDir,
		clients:      make(map[string]*wsClient),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The dashboard binds to loopback by default; origin checks add
		// nothing there and break LAN setups.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return srv
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/files", s.handleBrowseFiles)

	s.registerMissionControlRoutes(mux)
	s.registerDeepWorkRoutes(mux)

	s.mux = mux
	return mux
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := s.BuildMux()
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}
	slog.Info("dashboard listening", "addr", ln.Addr().String())

	go s.forwardEvents(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Addr returns the bound address once serving.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// forwardEvents streams bus system events to every connected dashboard
// client as JSON frames.
func (s *Server) forwardEvents(ctx context.Context) {
	events := s.bus.SubscribeEvents("gateway")
	defer s.bus.UnsubscribeEvents("gateway")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			s.mu.RLock()
			for _, c := range s.clients {
				select {
				case c.send <- frame:
				default:
					// Slow client; drop the frame rather than stall the rest.
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()
	slog.Info("dashboard client connected", "id", id)

	defer func() {
		conn.Close()
		slog.Info("dashboard client disconnected", "id", id)
	}()

	// Writer goroutine; the read loop below detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// Unregister before closing send: forwardEvents must not be able to
	// reach this client once the channel is closed.
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	close(client.send)
	<-done
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"running_tasks": len(s.executor.RunningTasks()),
	})
}

// writeJSON writes v as the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

// writeError writes a JSON error body, using 422 for validation failures
// and 404 for missing resources.
func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
