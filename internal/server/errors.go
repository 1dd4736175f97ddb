package server

import (
	"errors"

	"github.com/lox/raceroom/internal/room"
)

// errorCode maps a rejected room command onto a stable protocol error code.
// Unrecognised errors fall back to a generic code; the message still carries
// the underlying text.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, room.ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, room.ErrNotMember):
		return "not_member"
	case errors.Is(err, room.ErrNotReady):
		return "not_ready"
	case errors.Is(err, room.ErrInvalidParticipant):
		return "invalid_participant"
	case errors.Is(err, room.ErrRaceActive):
		return "race_active"
	case errors.Is(err, room.ErrNotController):
		return "not_controller"
	case errors.Is(err, room.ErrNotEnoughReady):
		return "not_enough_ready"
	case errors.Is(err, room.ErrMissingBets):
		return "missing_bets"
	case errors.Is(err, room.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, room.ErrUnknownTrack):
		return "unknown_track"
	case errors.Is(err, room.ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, room.ErrUnknownWeather):
		return "unknown_weather"
	case errors.Is(err, room.ErrRateLimited):
		return "rate_limited"
	default:
		return "command_failed"
	}
}
