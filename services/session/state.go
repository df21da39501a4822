package session

// State is the lifecycle phase of the active playback session.
//
//	Idle → Loading → Ready → Playing ⇄ Paused → (Switching → Loading) → Ended
//
// Loading can fail into Error from any manifest or network failure. Error is
// terminal for that session instance; a new Start begins a fresh one.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateSwitching State = "switching"
	StateEnded     State = "ended"
	StateError     State = "error"
)

// active reports whether a pipeline is (or is about to be) attached.
func (s State) active() bool {
	switch s {
	case StateLoading, StateReady, StatePlaying, StatePaused, StateSwitching:
		return true
	}
	return false
}
