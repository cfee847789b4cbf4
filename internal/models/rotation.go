package models

// RotationPhase tags the state machine a rekey or version migration moves
// through. The phase is externally inspectable so crash-recovery tests can
// verify behavior at every stage.
type RotationPhase int

const (
	PhasePreparing RotationPhase = iota
	PhaseRekeying
	PhaseVerifying
	PhaseCommitted
	PhaseRolledBack
)

// String returns the string representation of the rotation phase
func (p RotationPhase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseRekeying:
		return "rekeying"
	case PhaseVerifying:
		return "verifying"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}
