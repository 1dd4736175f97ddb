package server

import (
	"encoding/json"
	"time"

	"github.com/lox/raceroom/internal/room"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type AuthData struct {
	UserName string `json:"userName"`
	Token    string `json:"token,omitempty"`
}

type JoinRoomData struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

type ReadyData struct {
	Ready bool `json:"ready"`
}

type PlaceBetData struct {
	Participant int `json:"participant"`
}

type SetModeData struct {
	Mode string `json:"mode"`
}

type SetTrackData struct {
	Track string `json:"track"`
}

type SetWeatherData struct {
	Weather string `json:"weather"` // empty restores random weather
}

type SetPhotoFinishData struct {
	Enabled bool `json:"enabled"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomJoinedData struct {
	Room room.Snapshot `json:"room"`
}

type RoomLeftData struct {
	RoomID string `json:"roomId"`
}
