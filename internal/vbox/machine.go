package vbox

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// MachineState is the execution state of a machine.
type MachineState string

const (
	MachinePoweredOff MachineState = "PoweredOff"
	MachineSaved      MachineState = "Saved"
	MachineAborted    MachineState = "Aborted"
	MachineRunning    MachineState = "Running"
	MachinePaused     MachineState = "Paused"
	MachineStarting   MachineState = "Starting"
	MachineStopping   MachineState = "Stopping"
	MachineSaving     MachineState = "Saving"
	MachineRestoring  MachineState = "Restoring"
)

// Online reports whether a VM process runs the machine.
func (s MachineState) Online() bool {
	return s == MachineRunning || s == MachinePaused
}

// Transient reports a state that ends by itself.
func (s MachineState) Transient() bool {
	switch s {
	case MachineStarting, MachineStopping, MachineSaving, MachineRestoring:
		return true
	}
	return false
}

// SessionState is the lock state of a machine or session.
type SessionState string

const (
	SessionUnlocked SessionState = "Unlocked"
	SessionLocked   SessionState = "Locked"
	SessionSpawning SessionState = "Spawning"
)

// LockType selects how lockMachine locks.
type LockType string

const (
	LockShared LockType = "Shared"
	LockWrite  LockType = "Write"
)

// ListProperties are the machine properties a machine list shows.
var ListProperties = []string{"getName", "getState", "getOSTypeId", "getCurrentSnapshotName"}

// stateProperties change whenever the machine changes state.
var stateProperties = []string{"getState", "getSessionState", "getLastStateChange"}

// Machine is a virtual machine.
type Machine struct{ proxy }

func wrapMachine(p proxy) *Machine { return &Machine{p} }

// NewMachine wraps a machine reference, e.g. one thawed from an event.
func NewMachine(inv Invoker, ref remote.Ref) *Machine {
	return &Machine{proxy{inv: inv, ref: ref}}
}

func (m *Machine) ID(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getId")
}

func (m *Machine) Name(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getName")
}

func (m *Machine) Description(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getDescription")
}

func (m *Machine) OSTypeID(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getOSTypeId")
}

func (m *Machine) MemorySize(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getMemorySize")
}

func (m *Machine) CPUCount(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getCPUCount")
}

func (m *Machine) Groups(ctx context.Context) ([]string, error) {
	return get[[]string](ctx, m.proxy, "getGroups")
}

func (m *Machine) Accessible(ctx context.Context) (bool, error) {
	return get[bool](ctx, m.proxy, "getAccessible")
}

func (m *Machine) State(ctx context.Context) (MachineState, error) {
	s, err := get[string](ctx, m.proxy, "getState")
	return MachineState(s), err
}

func (m *Machine) SessionState(ctx context.Context) (SessionState, error) {
	s, err := get[string](ctx, m.proxy, "getSessionState")
	return SessionState(s), err
}

func (m *Machine) LastStateChange(ctx context.Context) (time.Time, error) {
	ms, err := get[int64](ctx, m.proxy, "getLastStateChange")
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (m *Machine) SnapshotCount(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getSnapshotCount")
}

func (m *Machine) CurrentSnapshotName(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getCurrentSnapshotName")
}

func (m *Machine) SetName(ctx context.Context, name string) error {
	return call(ctx, m.proxy, "setName", name)
}

func (m *Machine) SetDescription(ctx context.Context, description string) error {
	return call(ctx, m.proxy, "setDescription", description)
}

func (m *Machine) SetOSTypeID(ctx context.Context, osTypeID string) error {
	return call(ctx, m.proxy, "setOSTypeId", osTypeID)
}

func (m *Machine) SetMemorySize(ctx context.Context, mb uint32) error {
	return call(ctx, m.proxy, "setMemorySize", mb)
}

func (m *Machine) SetCPUCount(ctx context.Context, n uint32) error {
	return call(ctx, m.proxy, "setCPUCount", n)
}

func (m *Machine) SetGroups(ctx context.Context, groups []string) error {
	return call(ctx, m.proxy, "setGroups", groups)
}

func (m *Machine) SaveSettings(ctx context.Context) error {
	return call(ctx, m.proxy, "saveSettings")
}

func (m *Machine) LockMachine(ctx context.Context, s *Session, lock LockType) error {
	return call(ctx, m.proxy, "lockMachine", s.ref, lock)
}

// LaunchVMProcess starts the machine under session s.
func (m *Machine) LaunchVMProcess(ctx context.Context, s *Session, frontend string, env []string) (*Progress, error) {
	if env == nil {
		env = []string{}
	}
	return getRef(ctx, m.proxy, "launchVMProcess", wrapProgress, s.ref, frontend, env)
}

func (m *Machine) TakeSnapshot(ctx context.Context, name, description string, pause bool) (*Progress, error) {
	return getRef(ctx, m.proxy, "takeSnapshot", wrapProgress, name, description, pause)
}

// CacheProperties reads the list properties concurrently so later reads
// are cache hits.
func (m *Machine) CacheProperties(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range ListProperties {
		g.Go(func() error {
			_, err := m.inv.Invoke(ctx, m.ref, name)
			return err
		})
	}
	return g.Wait()
}

// Summary is the list row of a machine.
type Summary struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	State           MachineState `json:"state"`
	OSTypeID        string       `json:"osTypeId"`
	CurrentSnapshot string       `json:"currentSnapshot,omitempty"`
}

// Summarize returns the list row, from cache where possible.
func (m *Machine) Summarize(ctx context.Context) (Summary, error) {
	if err := m.CacheProperties(ctx); err != nil {
		return Summary{}, err
	}
	sum := Summary{ID: m.ref.ObjectID}
	var err error
	if sum.Name, err = m.Name(ctx); err != nil {
		return sum, err
	}
	if sum.State, err = m.State(ctx); err != nil {
		return sum, err
	}
	if sum.OSTypeID, err = m.OSTypeID(ctx); err != nil {
		return sum, err
	}
	sum.CurrentSnapshot, err = m.CurrentSnapshotName(ctx)
	return sum, err
}

// Start launches the machine with the websession's session object.
func (m *Machine) Start(ctx context.Context, vb *VirtualBox, frontend string) (*Progress, error) {
	s, err := vb.SessionObject(ctx)
	if err != nil {
		return nil, err
	}
	s.Refresh()
	state, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	if state == SessionLocked {
		if err := s.UnlockMachine(ctx); err != nil {
			return nil, err
		}
	}
	return m.LaunchVMProcess(ctx, s, frontend, nil)
}

// withConsole runs fn against the machine's console. It reuses a session
// already locked to the machine and otherwise takes a shared lock for the
// duration of fn.
func withConsole[T any](ctx context.Context, m *Machine, vb *VirtualBox, fn func(*Console) (T, error)) (T, error) {
	var zero T
	s, err := vb.SessionObject(ctx)
	if err != nil {
		return zero, err
	}
	s.Refresh()
	state, err := s.State(ctx)
	if err != nil {
		return zero, err
	}

	locked := false
	if state == SessionLocked {
		holder, err := s.Machine(ctx)
		if err != nil {
			return zero, err
		}
		if holder == nil || holder.ref.ObjectID != m.ref.ObjectID {
			if err := s.UnlockMachine(ctx); err != nil {
				return zero, err
			}
			state = SessionUnlocked
		}
	}
	if state != SessionLocked {
		if err := m.LockMachine(ctx, s, LockShared); err != nil {
			return zero, fmt.Errorf("lock %s: %w", m.ref.ObjectID, err)
		}
		s.Refresh()
		locked = true
	}

	console, err := s.Console(ctx)
	if err == nil && console == nil {
		err = fmt.Errorf("machine %s has no console", m.ref.ObjectID)
	}
	var out T
	if err == nil {
		out, err = fn(console)
		m.Refresh(stateProperties...)
	}
	if locked {
		if uerr := s.UnlockMachine(ctx); uerr != nil && err == nil {
			err = uerr
		}
	}
	return out, err
}

func consoleAction(ctx context.Context, m *Machine, vb *VirtualBox, action func(*Console, context.Context) error) error {
	_, err := withConsole(ctx, m, vb, func(c *Console) (struct{}, error) {
		return struct{}{}, action(c, ctx)
	})
	return err
}

// PowerOff powers the machine off without a guest shutdown.
func (m *Machine) PowerOff(ctx context.Context, vb *VirtualBox) (*Progress, error) {
	return withConsole(ctx, m, vb, func(c *Console) (*Progress, error) { return c.PowerDown(ctx) })
}

// SaveState saves the execution state and stops the machine.
func (m *Machine) SaveState(ctx context.Context, vb *VirtualBox) (*Progress, error) {
	return withConsole(ctx, m, vb, func(c *Console) (*Progress, error) { return c.SaveState(ctx) })
}

func (m *Machine) Pause(ctx context.Context, vb *VirtualBox) error {
	return consoleAction(ctx, m, vb, (*Console).Pause)
}

func (m *Machine) Resume(ctx context.Context, vb *VirtualBox) error {
	return consoleAction(ctx, m, vb, (*Console).Resume)
}

func (m *Machine) Reset(ctx context.Context, vb *VirtualBox) error {
	return consoleAction(ctx, m, vb, (*Console).Reset)
}

// PowerButton sends an ACPI shutdown request to the guest.
func (m *Machine) PowerButton(ctx context.Context, vb *VirtualBox) error {
	return consoleAction(ctx, m, vb, (*Console).PowerButton)
}
