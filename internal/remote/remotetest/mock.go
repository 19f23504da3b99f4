package remotetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// MockTransport is a testify mock of remote.Transport.
type MockTransport struct {
	mock.Mock
}

// Send mocks remote.Transport.Send.
func (m *MockTransport) Send(ctx context.Context, call remote.Call) (remote.Response, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(remote.Response), args.Error(1)
}

// CallTo matches calls of a wire method.
func CallTo(method string) any {
	return mock.MatchedBy(func(c remote.Call) bool { return c.Method == method })
}

// CallOn matches calls of a wire method on one object.
func CallOn(objectID, method string) any {
	return mock.MatchedBy(func(c remote.Call) bool {
		return c.ObjectID == objectID && c.Method == method
	})
}
