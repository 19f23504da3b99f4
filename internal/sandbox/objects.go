package sandbox

import (
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

type object interface {
	objectID() string
	kind() remote.Kind
}

type base struct {
	id string
	k  remote.Kind
}

func (b *base) objectID() string  { return b.id }
func (b *base) kind() remote.Kind { return b.k }

func (s *Server) newBase(k remote.Kind) base {
	return base{id: s.newID(), k: k}
}

type virtualBox struct {
	base
	collector *collector
}

// Machine states as reported by IMachine.getState.
const (
	StatePoweredOff = "PoweredOff"
	StateSaved      = "Saved"
	StateAborted    = "Aborted"
	StateRunning    = "Running"
	StatePaused     = "Paused"
	StateStarting   = "Starting"
	StateStopping   = "Stopping"
	StateSaving     = "Saving"
	StateRestoring  = "Restoring"
)

// Session states as reported by IMachine.getSessionState and ISession.getState.
const (
	SessionUnlocked = "Unlocked"
	SessionLocked   = "Locked"
	SessionSpawning = "Spawning"
)

// Session types as reported by ISession.getType.
const (
	sessionTypeNull      = "Null"
	sessionTypeWriteLock = "WriteLock"
	sessionTypeRemote    = "Remote"
	sessionTypeShared    = "Shared"
)

type machine struct {
	base
	uuid        string
	name        string
	description string
	osType      string
	memory      uint32
	cpus        uint32
	groups      []string
	state       string
	lastChange  int64
	snapshots   []string
	registered  bool

	sessionState string
	lockedBy     string // ISession holding the write lock
	console      *console
}

func (m *machine) offline() bool {
	switch m.state {
	case StatePoweredOff, StateSaved, StateAborted:
		return true
	}
	return false
}

func (m *machine) currentSnapshot() string {
	if len(m.snapshots) == 0 {
		return ""
	}
	return m.snapshots[len(m.snapshots)-1]
}

type session struct {
	base
	state   string
	typ     string
	machine *machine
}

type console struct {
	base
	machine *machine
	guest   *guest
}

type errorInfo struct {
	base
	code      int32
	detail    int32
	iid       string
	component string
	text      string
	next      string
}
