package room

import "errors"

// Sentinel errors for rejected commands. The transport maps these onto
// protocol error messages, so keep the text client-presentable.
var (
	ErrRoomClosed         = errors.New("room is closed")
	ErrAlreadyMember      = errors.New("already a member of this room")
	ErrNotMember          = errors.New("not a member of this room")
	ErrNotReady           = errors.New("only ready members can bet")
	ErrInvalidParticipant = errors.New("invalid participant index")
	ErrRaceActive         = errors.New("a race is already in progress")
	ErrNotController      = errors.New("only the room controller can do that")
	ErrNotEnoughReady     = errors.New("need at least two ready members to race")
	ErrMissingBets        = errors.New("every ready member must place a bet first")
	ErrWrongPhase         = errors.New("command not valid right now")
	ErrUnknownTrack       = errors.New("unknown track")
	ErrInvalidMode        = errors.New("unknown game mode")
	ErrUnknownWeather     = errors.New("unknown weather type")
	ErrRateLimited        = errors.New("too many commands, slow down")
)
