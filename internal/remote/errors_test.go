package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteFaultMatching(t *testing.T) {
	fault := Faultf(FaultObjectNotFound, "object %q not found", "m-1")
	wrapped := fmt.Errorf("invoke getName: %w", fault)

	assert.True(t, errors.Is(wrapped, ErrRemoteFault))
	assert.False(t, errors.Is(wrapped, ErrTransport))
	assert.True(t, IsFault(wrapped, FaultObjectNotFound))
	assert.False(t, IsFault(wrapped, FaultInvalidSession))
	assert.Equal(t, `object "m-1" not found (ObjectNotFound)`, fault.Error())
}

func TestTransportErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&TransportError{Op: "IMachine_getName", Err: cause})

	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrRemoteFault))
	assert.Contains(t, err.Error(), "IMachine_getName")
}

func TestCancelled(t *testing.T) {
	err := Cancelled(context.Canceled)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))

	err = Cancelled(context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Equal(t, ErrCancelled, Cancelled(nil))
}
