package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/raceroom/internal/room"
)

// Server is the WebSocket transport. It owns the connection registry and
// implements room.Broadcaster so rooms can push events without knowing the
// wire format.
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	rooms       *room.Manager
	httpServer  *http.Server
}

// NewServer creates a new WebSocket server. Call SetRooms before Start.
func NewServer(addr string, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins
				// In production, implement proper origin checking
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetRooms wires the room registry into the server.
func (s *Server) SetRooms(rooms *room.Manager) {
	s.rooms = rooms
}

// Start runs the server until Stop is called or the listener fails.
func (s *Server) Start() error {
	go s.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	s.logger.Info("Starting WebSocket server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down and closes every client connection.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close() // Ignore close errors during shutdown
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// run handles connection lifecycle
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			_, ok := s.connections[conn]
			if ok {
				delete(s.connections, conn)
			}
			total := len(s.connections)
			s.mu.Unlock()

			if ok {
				// A dropped client leaves its room so it cannot hold the
				// completion barrier hostage.
				user := conn.GetUser()
				roomID := conn.GetRoom()
				if user != "" && roomID != "" && s.rooms != nil {
					if r := s.rooms.Get(roomID); r != nil {
						s.logger.Info("Cleaning up disconnected user", "user", user, "room", roomID)
						_ = r.Leave(user) // Ignore errors during cleanup
					}
				}
				_ = conn.Close() // Ignore close errors during unregistration
			}
			s.logger.Info("Client disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.logger, s)
	s.register <- client
	client.Start()

	// Connection cleanup is handled by the connection itself
	go func() {
		<-client.ctx.Done()
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK") // Ignore write errors for health check
}

// Broadcast implements room.Broadcaster: the event goes to every connection
// currently in the room.
func (s *Server) Broadcast(roomID, event string, payload any) {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		s.logger.Error("Failed to encode room event", "event", event, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for conn := range s.connections {
		if conn.GetRoom() == roomID {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Error("Failed to send message to client", "error", err, "user", conn.GetUser())
			} else {
				count++
			}
		}
	}

	s.logger.Debug("Broadcasted room event", "room", roomID, "type", event, "recipients", count)
}

// Send implements room.Broadcaster for per-recipient events such as private
// selection views.
func (s *Server) Send(roomID, user, event string, payload any) {
	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		s.logger.Error("Failed to encode room event", "event", event, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.connections {
		if conn.GetRoom() == roomID && conn.GetUser() == user {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Error("Failed to send message to client", "error", err, "user", user)
			}
			return
		}
	}
}

// IsUserConnected reports whether a user name is already claimed by a live
// connection.
func (s *Server) IsUserConnected(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.connections {
		if conn.GetUser() == user {
			return true
		}
	}
	return false
}

// GetConnectedUsers returns a list of authenticated user names.
func (s *Server) GetConnectedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for conn := range s.connections {
		if user := conn.GetUser(); user != "" {
			users = append(users, user)
		}
	}
	return users
}
