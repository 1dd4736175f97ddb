package room

// Phase is the room's position in the race protocol state machine. All
// transitions happen on the room's actor goroutine; a stale timer firing
// against a newer phase is discarded by generation check, not by locking.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelectionOpen
	PhaseAllSelected
	PhaseCountdown
	PhaseSimulated
	PhaseBroadcasting
	PhaseAwaitingCompletion
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelectionOpen:
		return "selection_open"
	case PhaseAllSelected:
		return "all_selected"
	case PhaseCountdown:
		return "countdown"
	case PhaseSimulated:
		return "simulated"
	case PhaseBroadcasting:
		return "broadcasting"
	case PhaseAwaitingCompletion:
		return "awaiting_completion"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}
