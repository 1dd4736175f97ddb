package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/room"
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	conn      *websocket.Conn
	send      chan *Message
	userID    string
	roomID    string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
	server    *Server
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, logger *log.Logger, server *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:   conn,
		send:   make(chan *Message, 256),
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
		server: server,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage sends a message to the client
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed, this is expected during shutdown
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close() // Ignore close errors
		return ErrConnectionClosed
	}
}

// SetUser associates this connection with an authenticated user
func (c *Connection) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// GetUser returns the associated user name
func (c *Connection) GetUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetRoom associates this connection with a room
func (c *Connection) SetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// GetRoom returns the associated room ID
func (c *Connection) GetRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var ErrConnectionClosed = websocket.ErrCloseSent

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }() // Ignore close errors during cleanup

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "user", c.GetUser())

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse auth data")
			return
		}
		c.handleAuth(data)

	case MessageTypeJoinRoom:
		var data JoinRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse join room data")
			return
		}
		c.handleJoinRoom(data)

	case MessageTypeLeaveRoom:
		c.handleLeaveRoom()

	case MessageTypeReady:
		var data ReadyData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse ready data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.SetReady(user, data.Ready)
		})

	case MessageTypePlaceBet:
		var data PlaceBetData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse bet data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.PlaceBet(user, data.Participant)
		})

	case MessageTypeSetMode:
		var data SetModeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse mode data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.SetMode(user, race.Mode(data.Mode))
		})

	case MessageTypeSetTrack:
		var data SetTrackData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse track data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.SetTrack(user, data.Track)
		})

	case MessageTypeSetWeather:
		var data SetWeatherData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse weather data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.SetWeather(user, data.Weather)
		})

	case MessageTypeSetPhotoFinish:
		var data SetPhotoFinishData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse photo finish data")
			return
		}
		c.inRoom(func(r *room.Room, user string) error {
			return r.SetPhotoFinish(user, data.Enabled)
		})

	case MessageTypeStartRace:
		c.inRoom(func(r *room.Room, user string) error {
			return r.StartRace(user)
		})

	case MessageTypeRaceDone:
		c.inRoom(func(r *room.Room, user string) error {
			return r.ClientDone(user)
		})

	case MessageTypeEndGame:
		c.inRoom(func(r *room.Room, user string) error {
			return r.EndGame(user)
		})

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// inRoom runs a room command for the authenticated user, translating
// rejections into protocol errors.
func (c *Connection) inRoom(fn func(r *room.Room, user string) error) {
	user := c.GetUser()
	if user == "" {
		c.sendError("not_authenticated", "Must authenticate first")
		return
	}
	roomID := c.GetRoom()
	if roomID == "" {
		c.sendError("not_in_room", "Must join a room first")
		return
	}
	r := c.server.rooms.Get(roomID)
	if r == nil {
		c.sendError("room_not_found", "Room no longer exists")
		return
	}
	if err := fn(r, user); err != nil {
		c.sendError(errorCode(err), err.Error())
	}
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message string) {
	errorMsg, err := NewMessage(MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}

	_ = c.SendMessage(errorMsg) // Ignore send errors during error handling
}

func (c *Connection) handleAuth(data AuthData) {
	c.logger.Info("Auth request", "userName", data.UserName)

	if data.UserName == "" {
		c.sendError("invalid_auth", "User name required")
		return
	}
	if c.server.IsUserConnected(data.UserName) {
		c.sendError("name_taken", "User name already connected")
		return
	}

	c.SetUser(data.UserName)

	response, _ := NewMessage(MessageTypeAuthResponse, AuthResponseData{
		Success: true,
		UserID:  data.UserName,
	})
	_ = c.SendMessage(response) // Ignore send errors
}

func (c *Connection) handleJoinRoom(data JoinRoomData) {
	c.logger.Info("Join room request", "room", data.RoomID, "user", c.GetUser())

	user := c.GetUser()
	if user == "" {
		c.sendError("not_authenticated", "Must authenticate first")
		return
	}
	if data.RoomID == "" {
		c.sendError("invalid_room", "Room id required")
		return
	}
	if cur := c.GetRoom(); cur != "" {
		c.sendError("already_in_room", "Leave the current room first")
		return
	}

	r := c.server.rooms.GetOrCreate(data.RoomID)
	if err := r.Join(user); err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}
	c.SetRoom(data.RoomID)

	snap, err := r.Snapshot()
	if err != nil {
		c.sendError(errorCode(err), err.Error())
		return
	}
	response, _ := NewMessage(MessageTypeRoomJoined, RoomJoinedData{Room: snap})
	_ = c.SendMessage(response) // Ignore send errors
}

func (c *Connection) handleLeaveRoom() {
	user := c.GetUser()
	roomID := c.GetRoom()
	c.logger.Info("Leave room request", "room", roomID, "user", user)

	if user == "" {
		c.sendError("not_authenticated", "Must authenticate first")
		return
	}
	if roomID == "" {
		c.sendError("not_in_room", "Not in a room")
		return
	}

	if r := c.server.rooms.Get(roomID); r != nil {
		if err := r.Leave(user); err != nil {
			c.sendError(errorCode(err), err.Error())
			return
		}
	}
	c.SetRoom("")

	response, _ := NewMessage(MessageTypeRoomLeft, RoomLeftData{RoomID: roomID})
	_ = c.SendMessage(response) // Ignore send errors
}
