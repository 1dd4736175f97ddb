package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants for the client-server protocol. Room
// events (selection_update, countdown, race_started, ...) reuse the event
// names from internal/room directly as message types.
const (
	// Client to server messages
	MessageTypeAuth           MessageType = "auth"
	MessageTypeJoinRoom       MessageType = "join_room"
	MessageTypeLeaveRoom      MessageType = "leave_room"
	MessageTypeReady          MessageType = "ready"
	MessageTypePlaceBet       MessageType = "place_bet"
	MessageTypeSetMode        MessageType = "set_mode"
	MessageTypeSetTrack       MessageType = "set_track"
	MessageTypeSetWeather     MessageType = "set_weather"
	MessageTypeSetPhotoFinish MessageType = "set_photo_finish"
	MessageTypeStartRace      MessageType = "start_race"
	MessageTypeRaceDone       MessageType = "race_done"
	MessageTypeEndGame        MessageType = "end_game"

	// Server to client messages
	MessageTypeError        MessageType = "error"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeRoomJoined   MessageType = "room_joined"
	MessageTypeRoomLeft     MessageType = "room_left"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
