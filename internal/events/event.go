// Package events delivers server notifications that carry frozen object
// snapshots, in-process or across processes through Redis pub/sub.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
)

// MachineStateChanged is published whenever a machine changes state. Its
// snapshot holds the machine with the list-row properties.
const MachineStateChanged = "OnMachineStateChanged"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Event is one notification.
type Event struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	State    string             `json:"state,omitempty"`
	Snapshot snapshot.Container `json:"snapshot"`
	At       time.Time          `json:"at"`
}

// New creates an event with a fresh id.
func New(name, state string, c snapshot.Container, at time.Time) Event {
	return Event{ID: id.NewEventID().String(), Name: name, State: state, Snapshot: c, At: at}
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription receives the events of one name. The channel is closed by
// Close or when the bus shuts down.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Bus is a named publish/subscribe channel.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, name string) (Subscription, error)
	Close() error
}

// Encode serializes an event as JSON.
func Encode(ev Event) ([]byte, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Name, err)
	}
	return data, nil
}

// Decode parses a JSON event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		return Event{}, errors.New("decode event: missing name")
	}
	return ev, nil
}
