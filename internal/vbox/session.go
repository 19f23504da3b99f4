package vbox

import "context"

// Session is the client's handle for locking and controlling a machine.
type Session struct{ proxy }

func wrapSession(p proxy) *Session { return &Session{p} }

func (s *Session) State(ctx context.Context) (SessionState, error) {
	st, err := get[string](ctx, s.proxy, "getState")
	return SessionState(st), err
}

func (s *Session) Type(ctx context.Context) (string, error) {
	return get[string](ctx, s.proxy, "getType")
}

// Machine returns the locked machine, or nil.
func (s *Session) Machine(ctx context.Context) (*Machine, error) {
	return getRef(ctx, s.proxy, "getMachine", wrapMachine)
}

// Console returns the console of the locked machine, or nil.
func (s *Session) Console(ctx context.Context) (*Console, error) {
	return getRef(ctx, s.proxy, "getConsole", wrapConsole)
}

func (s *Session) UnlockMachine(ctx context.Context) error {
	return call(ctx, s.proxy, "unlockMachine")
}

// Console controls a running machine.
type Console struct{ proxy }

func wrapConsole(p proxy) *Console { return &Console{p} }

func (c *Console) Machine(ctx context.Context) (*Machine, error) {
	return getRef(ctx, c.proxy, "getMachine", wrapMachine)
}

func (c *Console) Guest(ctx context.Context) (*Guest, error) {
	return getRef(ctx, c.proxy, "getGuest", wrapGuest)
}

func (c *Console) PowerDown(ctx context.Context) (*Progress, error) {
	return getRef(ctx, c.proxy, "powerDown", wrapProgress)
}

func (c *Console) SaveState(ctx context.Context) (*Progress, error) {
	return getRef(ctx, c.proxy, "saveState", wrapProgress)
}

func (c *Console) Pause(ctx context.Context) error       { return call(ctx, c.proxy, "pause") }
func (c *Console) Resume(ctx context.Context) error      { return call(ctx, c.proxy, "resume") }
func (c *Console) Reset(ctx context.Context) error       { return call(ctx, c.proxy, "reset") }
func (c *Console) PowerButton(ctx context.Context) error { return call(ctx, c.proxy, "powerButton") }
func (c *Console) SleepButton(ctx context.Context) error { return call(ctx, c.proxy, "sleepButton") }
