package sandbox

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// eventProperties are the machine properties carried by state change
// events, enough to redraw a machine list row.
var eventProperties = []string{
	"getName", "getState", "getOSTypeId", "getCurrentSnapshotName",
	"getSessionState", "getLastStateChange",
}

func (s *Server) seed() {
	s.root = &virtualBox{base: s.newBase(remote.KindVirtualBox)}
	s.add(s.root)
	s.root.collector = s.newCollector()

	for _, m := range []struct {
		name, os string
		memory   uint32
		cpus     uint32
		groups   []string
	}{
		{"ubuntu-server", "Ubuntu_64", 2048, 2, []string{"/servers"}},
		{"windows-11", "Windows11_64", 8192, 4, []string{"/desktops"}},
		{"alpine-edge", "Linux_64", 512, 1, []string{"/"}},
	} {
		mach := s.newMachine(m.name, m.os)
		mach.memory, mach.cpus, mach.groups = m.memory, m.cpus, m.groups
		s.register(mach)
	}

	s.hostFiles["/host/notes.txt"] = 2 << 10
	s.hostFiles["/host/tools.iso"] = 48 << 20
	s.hostFiles["/host/disk.vdi"] = 2 << 30
}

func (s *Server) newMachine(name, osType string) *machine {
	m := &machine{
		base:         s.newBase(remote.KindMachine),
		uuid:         uuid.NewString(),
		name:         name,
		osType:       osType,
		memory:       1024,
		cpus:         1,
		groups:       []string{"/"},
		state:        StatePoweredOff,
		lastChange:   s.now().UnixMilli(),
		sessionState: SessionUnlocked,
	}
	m.console = &console{base: s.newBase(remote.KindConsole), machine: m}
	m.console.guest = s.newGuest(m)
	s.add(m)
	s.add(m.console)
	s.add(m.console.guest)
	return m
}

func (s *Server) register(m *machine) {
	m.registered = true
	s.machines = append(s.machines, m)
}

func (s *Server) findMachine(nameOrID string) *machine {
	for _, m := range s.machines {
		if m.name == nameOrID || m.uuid == nameOrID {
			return m
		}
	}
	return nil
}

// setState moves m to state and queues a state change event for every
// logged on websession.
func (s *Server) setState(m *machine, state string) {
	if m.state == state {
		return
	}
	m.state = state
	m.lastChange = s.now().UnixMilli()
	if s.publish == nil {
		return
	}
	for _, ws := range s.sessions {
		c, err := s.freeze(m, ws.id, eventProperties...)
		if err != nil {
			s.logger.Error("Cannot freeze machine for event", zap.String("machine", m.name), zap.Error(err))
			continue
		}
		s.pending = append(s.pending, events.New(events.MachineStateChanged, state, c, s.now()))
	}
}

// freeze builds a container for obj from the server's own getters.
func (s *Server) freeze(obj object, sessionID string, names ...string) (snapshot.Container, error) {
	c := snapshot.Container{
		ObjectID:      exportID(sessionID, obj.objectID()),
		InterfaceKind: obj.kind(),
		SessionID:     sessionID,
		Properties:    make(map[string]snapshot.Property, len(names)),
	}
	for _, name := range names {
		m, err := s.table.Lookup(obj.kind(), name)
		if err != nil {
			return c, err
		}
		v, err := s.handlers[m.WireName](s, &call{obj: obj, method: m})
		if err != nil {
			return c, err
		}
		resp, err := m.EncodeResult(exportResult(m, v, sessionID))
		if err != nil {
			return c, err
		}
		c.Properties[name] = snapshot.PropertyFromResponse(resp)
	}
	return c, nil
}

// unlock releases whatever session holds m.
func (s *Server) unlock(m *machine) {
	if sess, ok := s.objects[m.lockedBy].(*session); ok && sess.machine == m {
		sess.state, sess.typ, sess.machine = SessionUnlocked, sessionTypeNull, nil
	}
	m.lockedBy = ""
	m.sessionState = SessionUnlocked
}

func (s *Server) lockMachine(m *machine, sess *session, lockType string) error {
	if sess.state != SessionUnlocked {
		return remote.Faultf(remote.FaultInvalidObjectState, "session is already %s", sess.state)
	}
	switch lockType {
	case "Shared":
		if m.sessionState != SessionLocked {
			return remote.Faultf(remote.FaultInvalidObjectState, "machine %q is not locked by any session", m.name)
		}
		sess.typ = sessionTypeShared
	case "Write", "VM":
		if m.sessionState != SessionUnlocked {
			return remote.Faultf(remote.FaultInvalidObjectState, "machine %q is already locked", m.name)
		}
		sess.typ = sessionTypeWriteLock
		m.lockedBy = sess.id
		m.sessionState = SessionLocked
	default:
		return remote.Faultf(remote.FaultInvalidArgument, "unknown lock type %q", lockType)
	}
	sess.state = SessionLocked
	sess.machine = m
	return nil
}

func (s *Server) launch(m *machine, sess *session, frontend string) (*progress, error) {
	if !m.offline() {
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	if m.sessionState != SessionUnlocked {
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is locked", m.name)
	}
	if sess.state != SessionUnlocked {
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "session is already %s", sess.state)
	}
	switch frontend {
	case "", "gui", "headless", "sdl", "separate":
	default:
		return nil, remote.Faultf(remote.FaultInvalidArgument, "unknown frontend %q", frontend)
	}

	from := m.state
	sess.state, sess.typ, sess.machine = SessionSpawning, sessionTypeRemote, m
	m.lockedBy, m.sessionState = sess.id, SessionSpawning
	if from == StateSaved {
		s.setState(m, StateRestoring)
	} else {
		s.setState(m, StateStarting)
	}

	return s.startProgress(operation{
		description: "Starting virtual machine",
		ops:         []string{"Spawning session", "Powering on virtual machine"},
		cancelable:  true,
		finish: func(*progress) string {
			sess.state = SessionLocked
			m.sessionState = SessionLocked
			s.setState(m, StateRunning)
			return ""
		},
		undo: func(*progress) {
			s.unlock(m)
			s.setState(m, from)
		},
	}), nil
}

func (s *Server) powerDown(m *machine) (*progress, error) {
	switch m.state {
	case StateRunning, StatePaused:
	default:
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	s.setState(m, StateStopping)
	return s.startProgress(operation{
		description: "Powering off virtual machine",
		finish: func(*progress) string {
			s.unlock(m)
			s.setState(m, StatePoweredOff)
			return ""
		},
	}), nil
}

func (s *Server) saveState(m *machine) (*progress, error) {
	switch m.state {
	case StateRunning, StatePaused:
	default:
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	from := m.state
	s.setState(m, StateSaving)
	return s.startProgress(operation{
		description: "Saving the execution state",
		ops:         []string{"Saving machine state", "Saving memory"},
		cancelable:  true,
		finish: func(*progress) string {
			s.unlock(m)
			s.setState(m, StateSaved)
			return ""
		},
		undo: func(*progress) { s.setState(m, from) },
	}), nil
}

// transition applies a direct state change such as pause or resume.
func (s *Server) transition(m *machine, from, to string) error {
	if m.state != from {
		return remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s, not %s", m.name, m.state, from)
	}
	s.setState(m, to)
	return nil
}

// pressPowerButton lets the guest shut down after one operation duration.
func (s *Server) pressPowerButton(m *machine) error {
	if m.state != StateRunning {
		return remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	s.afterFunc(s.opDuration, func() {
		if m.state == StateRunning {
			s.unlock(m)
			s.setState(m, StatePoweredOff)
		}
	})
	return nil
}

func (s *Server) takeSnapshot(m *machine, name string, pause bool) (*progress, error) {
	if name == "" {
		return nil, remote.Faultf(remote.FaultInvalidArgument, "snapshot name is empty")
	}
	switch m.state {
	case StateSaving, StateStarting, StateStopping, StateRestoring:
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	resume := false
	if pause && m.state == StateRunning {
		s.setState(m, StatePaused)
		resume = true
	}
	return s.startProgress(operation{
		description: "Taking a snapshot of the virtual machine",
		ops:         []string{"Saving settings", "Creating differencing images"},
		finish: func(*progress) string {
			m.snapshots = append(m.snapshots, name)
			if resume && m.state == StatePaused {
				s.setState(m, StateRunning)
			}
			return ""
		},
	}), nil
}
