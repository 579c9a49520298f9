package manager

import (
	"fmt"

	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

type State int

const (
	Discovered State = iota
	Connecting
	Connected
	Disconnected

	// Failed means a job was cut short mid-transmission and the device
	// buffer holds a truncated stream. The connection must be torn down
	// and re-established before the printer takes another job.
	Failed
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Printer is an immutable snapshot of a tracked device. Consumers get
// copies; mutating one changes nothing inside the manager.
type Printer struct {
	Address        string
	Name           string
	ConnectionType transport.Type
	State          State
	Paper          profile.PaperClass
}

func (p Printer) String() string {
	return fmt.Sprintf("Printer(%s %q %s)", p.Address, p.Name, p.State)
}
