package supervisor

// State is the lifecycle stage of a supervisor.
type State int32

const (
	Starting State = iota
	Connecting
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}

	return "unknown"
}
