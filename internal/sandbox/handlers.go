package sandbox

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
)

type handlerMap map[string]handler

// on registers fn for kind.name; the receiver is resolved to T.
func on[T object](h handlerMap, kind remote.Kind, name string, fn func(s *Server, c *call, obj T) (any, error)) {
	h[string(kind)+"_"+name] = func(s *Server, c *call) (any, error) {
		obj, ok := c.obj.(T)
		if !ok {
			return nil, remote.Faultf(remote.FaultInternal, "%s cannot serve a %T receiver", c.method, c.obj)
		}
		return fn(s, c, obj)
	}
}

// get registers a property getter.
func get[T object](h handlerMap, kind remote.Kind, name string, fn func(obj T) any) {
	on(h, kind, name, func(_ *Server, _ *call, obj T) (any, error) { return fn(obj), nil })
}

func void(err error) (any, error) { return nil, err }

func progressID(p *progress, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return p.id, nil
}

func handlerTable() map[string]handler {
	h := make(handlerMap)
	websessionHandlers(h)
	virtualBoxHandlers(h)
	machineHandlers(h)
	sessionHandlers(h)
	consoleHandlers(h)
	progressHandlers(h)
	errorInfoHandlers(h)
	guestHandlers(h)
	guestSessionHandlers(h)
	fsObjInfoHandlers(h)
	perfHandlers(h)
	return h
}

func websessionHandlers(h handlerMap) {
	h["IWebsessionManager_logon"] = func(s *Server, c *call) (any, error) {
		user, password := c.str(0), c.str(1)
		if len(s.users) > 0 {
			hash, ok := s.users[user]
			if !ok || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
				return nil, remote.Faultf(remote.FaultAccessDenied, "invalid username or password")
			}
		}
		ws := &websession{id: id.NewSessionID().String(), user: user}
		s.sessions[ws.id] = ws
		c.newSession = ws.id
		return s.root.id, nil
	}
	h["IWebsessionManager_logoff"] = func(s *Server, c *call) (any, error) {
		if sess, ok := s.objects[c.ws.session].(*session); ok {
			s.unlockSession(sess)
			delete(s.objects, sess.id)
		}
		delete(s.sessions, c.ws.id)
		return nil, nil
	}
	h["IWebsessionManager_getSessionObject"] = func(s *Server, c *call) (any, error) {
		if _, ok := s.objects[c.ws.session]; !ok {
			sess := &session{base: s.newBase(remote.KindSession), state: SessionUnlocked, typ: sessionTypeNull}
			s.add(sess)
			c.ws.session = sess.id
		}
		return c.ws.session, nil
	}
}

func virtualBoxHandlers(h handlerMap) {
	const k = remote.KindVirtualBox
	get(h, k, "getVersion", func(*virtualBox) any { return Version })
	get(h, k, "getAPIVersion", func(*virtualBox) any { return apiVersion })
	get(h, k, "getHomeFolder", func(*virtualBox) any { return homeFolder })
	get(h, k, "getPerformanceCollector", func(vb *virtualBox) any { return vb.collector.id })
	on(h, k, "getMachines", func(s *Server, _ *call, _ *virtualBox) (any, error) {
		ids := make([]string, len(s.machines))
		for i, m := range s.machines {
			ids[i] = m.id
		}
		return ids, nil
	})
	on(h, k, "findMachine", func(s *Server, c *call, _ *virtualBox) (any, error) {
		m := s.findMachine(c.str(0))
		if m == nil {
			return nil, remote.Faultf(remote.FaultObjectNotFound, "could not find a registered machine named %q", c.str(0))
		}
		return m.id, nil
	})
	on(h, k, "createMachine", func(s *Server, c *call, _ *virtualBox) (any, error) {
		name := strings.TrimSpace(c.str(0))
		if name == "" {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "machine name is empty")
		}
		if s.findMachine(name) != nil {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "machine %q already exists", name)
		}
		return s.newMachine(name, c.str(1)).id, nil
	})
	on(h, k, "registerMachine", func(s *Server, c *call, _ *virtualBox) (any, error) {
		m, err := lookup[*machine](s, c.str(0))
		if err != nil {
			return nil, err
		}
		if m.registered {
			return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is already registered", m.name)
		}
		if s.findMachine(m.name) != nil {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "machine %q already exists", m.name)
		}
		s.register(m)
		return nil, nil
	})
}

func machineHandlers(h handlerMap) {
	const k = remote.KindMachine
	get(h, k, "getId", func(m *machine) any { return m.uuid })
	get(h, k, "getName", func(m *machine) any { return m.name })
	get(h, k, "getDescription", func(m *machine) any { return m.description })
	get(h, k, "getOSTypeId", func(m *machine) any { return m.osType })
	get(h, k, "getMemorySize", func(m *machine) any { return m.memory })
	get(h, k, "getCPUCount", func(m *machine) any { return m.cpus })
	get(h, k, "getGroups", func(m *machine) any { return append([]string{}, m.groups...) })
	get(h, k, "getAccessible", func(*machine) any { return true })
	get(h, k, "getState", func(m *machine) any { return m.state })
	get(h, k, "getSessionState", func(m *machine) any { return m.sessionState })
	get(h, k, "getLastStateChange", func(m *machine) any { return m.lastChange })
	get(h, k, "getSnapshotCount", func(m *machine) any { return uint32(len(m.snapshots)) })
	get(h, k, "getCurrentSnapshotName", func(m *machine) any { return m.currentSnapshot() })

	on(h, k, "setName", func(s *Server, c *call, m *machine) (any, error) {
		name := strings.TrimSpace(c.str(0))
		if name == "" {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "machine name is empty")
		}
		if other := s.findMachine(name); other != nil && other != m {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "machine %q already exists", name)
		}
		m.name = name
		return nil, nil
	})
	on(h, k, "setDescription", func(_ *Server, c *call, m *machine) (any, error) {
		m.description = c.str(0)
		return nil, nil
	})
	on(h, k, "setOSTypeId", func(_ *Server, c *call, m *machine) (any, error) {
		if err := mutable(m); err != nil {
			return nil, err
		}
		m.osType = c.str(0)
		return nil, nil
	})
	on(h, k, "setMemorySize", func(_ *Server, c *call, m *machine) (any, error) {
		if err := mutable(m); err != nil {
			return nil, err
		}
		if n := c.u32(0); n < 4 || n > 1<<21 {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "memory size %d MB is out of range", n)
		}
		m.memory = c.u32(0)
		return nil, nil
	})
	on(h, k, "setCPUCount", func(_ *Server, c *call, m *machine) (any, error) {
		if err := mutable(m); err != nil {
			return nil, err
		}
		if n := c.u32(0); n < 1 || n > 64 {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "CPU count %d is out of range", n)
		}
		m.cpus = c.u32(0)
		return nil, nil
	})
	on(h, k, "setGroups", func(_ *Server, c *call, m *machine) (any, error) {
		groups := c.list(0)
		for _, g := range groups {
			if !strings.HasPrefix(g, "/") {
				return nil, remote.Faultf(remote.FaultInvalidArgument, "group %q is not absolute", g)
			}
		}
		if len(groups) == 0 {
			groups = []string{"/"}
		}
		m.groups = groups
		return nil, nil
	})
	on(h, k, "saveSettings", func(*Server, *call, *machine) (any, error) { return nil, nil })
	on(h, k, "lockMachine", func(s *Server, c *call, m *machine) (any, error) {
		sess, err := lookup[*session](s, c.str(0))
		if err != nil {
			return nil, err
		}
		return void(s.lockMachine(m, sess, c.str(1)))
	})
	on(h, k, "launchVMProcess", func(s *Server, c *call, m *machine) (any, error) {
		sess, err := lookup[*session](s, c.str(0))
		if err != nil {
			return nil, err
		}
		return progressID(s.launch(m, sess, c.str(1)))
	})
	on(h, k, "takeSnapshot", func(s *Server, c *call, m *machine) (any, error) {
		return progressID(s.takeSnapshot(m, c.str(0), c.flag(2)))
	})
}

func mutable(m *machine) error {
	if !m.offline() {
		return remote.Faultf(remote.FaultInvalidObjectState, "machine %q is %s", m.name, m.state)
	}
	return nil
}

func sessionHandlers(h handlerMap) {
	const k = remote.KindSession
	get(h, k, "getState", func(sess *session) any { return sess.state })
	get(h, k, "getType", func(sess *session) any { return sess.typ })
	get(h, k, "getMachine", func(sess *session) any {
		if sess.machine == nil {
			return ""
		}
		return sess.machine.id
	})
	get(h, k, "getConsole", func(sess *session) any {
		if sess.machine == nil || sess.state != SessionLocked {
			return ""
		}
		return sess.machine.console.id
	})
	on(h, k, "unlockMachine", func(s *Server, _ *call, sess *session) (any, error) {
		if sess.state != SessionLocked {
			return nil, remote.Faultf(remote.FaultInvalidObjectState, "session is not locked")
		}
		s.unlockSession(sess)
		return nil, nil
	})
}

// unlockSession releases sess. A machine whose VM process is still
// running keeps its lock until it powers off.
func (s *Server) unlockSession(sess *session) {
	m := sess.machine
	sess.state, sess.typ, sess.machine = SessionUnlocked, sessionTypeNull, nil
	if m == nil || m.lockedBy != sess.id {
		return
	}
	m.lockedBy = ""
	if m.offline() {
		m.sessionState = SessionUnlocked
	}
}

func consoleHandlers(h handlerMap) {
	const k = remote.KindConsole
	get(h, k, "getMachine", func(con *console) any { return con.machine.id })
	get(h, k, "getGuest", func(con *console) any { return con.guest.id })
	on(h, k, "powerDown", func(s *Server, _ *call, con *console) (any, error) {
		return progressID(s.powerDown(con.machine))
	})
	on(h, k, "saveState", func(s *Server, _ *call, con *console) (any, error) {
		return progressID(s.saveState(con.machine))
	})
	on(h, k, "pause", func(s *Server, _ *call, con *console) (any, error) {
		return void(s.transition(con.machine, StateRunning, StatePaused))
	})
	on(h, k, "resume", func(s *Server, _ *call, con *console) (any, error) {
		return void(s.transition(con.machine, StatePaused, StateRunning))
	})
	on(h, k, "reset", func(s *Server, _ *call, con *console) (any, error) {
		return void(s.transition(con.machine, StateRunning, StateRunning))
	})
	on(h, k, "powerButton", func(s *Server, _ *call, con *console) (any, error) {
		return void(s.pressPowerButton(con.machine))
	})
	on(h, k, "sleepButton", func(s *Server, _ *call, con *console) (any, error) {
		return void(s.transition(con.machine, StateRunning, StateRunning))
	})
}

// reading registers a progress getter that sees a settled object.
func reading(h handlerMap, name string, fn func(p *progress, now time.Time) any) {
	on(h, remote.KindProgress, name, func(s *Server, _ *call, p *progress) (any, error) {
		s.settle(p)
		return fn(p, s.now()), nil
	})
}

func progressHandlers(h handlerMap) {
	get(h, remote.KindProgress, "getId", func(p *progress) any { return p.uuid })
	get(h, remote.KindProgress, "getDescription", func(p *progress) any { return p.description })
	get(h, remote.KindProgress, "getOperationCount", func(p *progress) any { return uint32(len(p.ops)) })
	get(h, remote.KindProgress, "getOperationWeight", func(*progress) any { return uint32(1) })
	reading(h, "getCancelable", func(p *progress, _ time.Time) any { return p.cancelable && !p.completed })
	reading(h, "getPercent", func(p *progress, now time.Time) any { return p.percent(now) })
	reading(h, "getTimeRemaining", func(p *progress, now time.Time) any { return p.timeRemaining(now) })
	reading(h, "getCompleted", func(p *progress, _ time.Time) any { return p.completed })
	reading(h, "getCanceled", func(p *progress, _ time.Time) any { return p.canceled })
	reading(h, "getResultCode", func(p *progress, _ time.Time) any { return p.resultCode })
	reading(h, "getErrorInfo", func(p *progress, _ time.Time) any { return p.errorInfo })
	reading(h, "getOperation", func(p *progress, now time.Time) any { return p.operation(now) })
	reading(h, "getOperationPercent", func(p *progress, now time.Time) any { return p.operationPercent(now) })
	reading(h, "getOperationDescription", func(p *progress, now time.Time) any { return p.ops[p.operation(now)] })

	on(h, remote.KindProgress, "cancel", func(s *Server, _ *call, p *progress) (any, error) {
		s.settle(p)
		return void(s.cancel(p))
	})
	on(h, remote.KindProgress, "waitForCompletion", func(s *Server, c *call, p *progress) (any, error) {
		s.settle(p)
		timeout := c.i32(0)
		if p.completed || timeout == 0 {
			return nil, nil
		}
		return wait(func(ctx context.Context) error {
			var deadline <-chan time.Time
			if timeout >= 0 {
				deadline = s.clock.After(time.Duration(timeout) * time.Millisecond)
			}
			select {
			case <-p.done:
			case <-deadline:
			case <-ctx.Done():
				return remote.Cancelled(ctx.Err())
			}
			return nil
		}), nil
	})
}

func errorInfoHandlers(h handlerMap) {
	const k = remote.KindErrorInfo
	get(h, k, "getResultCode", func(e *errorInfo) any { return e.code })
	get(h, k, "getResultDetail", func(e *errorInfo) any { return e.detail })
	get(h, k, "getInterfaceID", func(e *errorInfo) any { return e.iid })
	get(h, k, "getComponent", func(e *errorInfo) any { return e.component })
	get(h, k, "getText", func(e *errorInfo) any { return e.text })
	get(h, k, "getNext", func(e *errorInfo) any { return e.next })
}

func guestHandlers(h handlerMap) {
	const k = remote.KindGuest
	get(h, k, "getOSTypeId", func(g *guest) any { return g.machine.osType })
	get(h, k, "getAdditionsVersion", func(g *guest) any {
		if g.machine.state != StateRunning && g.machine.state != StatePaused {
			return ""
		}
		return additionsVersion
	})
	get(h, k, "getSessions", func(g *guest) any { return sessionIDs(g.sessions, nil) })
	on(h, k, "createSession", func(s *Server, c *call, g *guest) (any, error) {
		gs, err := s.createGuestSession(g, c.str(0), c.str(2), c.str(3))
		if err != nil {
			return nil, err
		}
		return gs.id, nil
	})
	on(h, k, "findSession", func(_ *Server, c *call, g *guest) (any, error) {
		name := c.str(0)
		return sessionIDs(g.sessions, func(gs *guestSession) bool { return gs.name == name }), nil
	})
}

func sessionIDs(sessions []*guestSession, keep func(*guestSession) bool) []string {
	ids := []string{}
	for _, gs := range sessions {
		if keep == nil || keep(gs) {
			ids = append(ids, gs.id)
		}
	}
	return ids
}

// active registers a guest session method that needs an open session.
func active(h handlerMap, name string, fn func(s *Server, c *call, gs *guestSession) (any, error)) {
	on(h, remote.KindGuestSession, name, func(s *Server, c *call, gs *guestSession) (any, error) {
		if err := gs.active(); err != nil {
			return nil, err
		}
		return fn(s, c, gs)
	})
}

func guestSessionHandlers(h handlerMap) {
	const k = remote.KindGuestSession
	get(h, k, "getUser", func(gs *guestSession) any { return gs.user })
	get(h, k, "getDomain", func(gs *guestSession) any { return gs.domain })
	get(h, k, "getName", func(gs *guestSession) any { return gs.name })
	get(h, k, "getId", func(gs *guestSession) any { return gs.gid })
	get(h, k, "getTimeout", func(gs *guestSession) any { return gs.timeout })
	get(h, k, "getStatus", func(gs *guestSession) any { return gs.status })
	get(h, k, "getEnvironmentChanges", func(gs *guestSession) any { return append([]string{}, gs.envDelta...) })

	active(h, "setTimeout", func(_ *Server, c *call, gs *guestSession) (any, error) {
		gs.timeout = c.u32(0)
		return nil, nil
	})
	active(h, "setEnvironmentChanges", func(_ *Server, c *call, gs *guestSession) (any, error) {
		gs.envDelta = append([]string{}, c.list(0)...)
		return nil, nil
	})
	active(h, "environmentScheduleSet", func(_ *Server, c *call, gs *guestSession) (any, error) {
		name := c.str(0)
		if name == "" || strings.Contains(name, "=") {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "invalid variable name %q", name)
		}
		gs.schedule(name, name+"="+c.str(1))
		return nil, nil
	})
	active(h, "environmentScheduleUnset", func(_ *Server, c *call, gs *guestSession) (any, error) {
		name := c.str(0)
		if name == "" || strings.Contains(name, "=") {
			return nil, remote.Faultf(remote.FaultInvalidArgument, "invalid variable name %q", name)
		}
		gs.schedule(name, name)
		return nil, nil
	})
	active(h, "environmentGetBaseVariable", func(_ *Server, c *call, gs *guestSession) (any, error) {
		v, ok := gs.envBase[c.str(0)]
		if !ok {
			return nil, remote.Faultf(remote.FaultObjectNotFound, "variable %q is not set", c.str(0))
		}
		return v, nil
	})
	active(h, "environmentDoesBaseVariableExist", func(_ *Server, c *call, gs *guestSession) (any, error) {
		_, ok := gs.envBase[c.str(0)]
		return ok, nil
	})

	active(h, "directoryCreate", func(s *Server, c *call, gs *guestSession) (any, error) {
		return void(gs.guest.fs.mkdir(c.str(0), hasFlag(c.list(2), "Parents"), s.now()))
	})
	active(h, "directoryExists", func(_ *Server, c *call, gs *guestSession) (any, error) {
		e, ok := gs.guest.fs.entries[clean(c.str(0))]
		return ok && e.dir, nil
	})
	active(h, "directoryRemove", func(_ *Server, c *call, gs *guestSession) (any, error) {
		return void(gs.guest.fs.rmdir(c.str(0)))
	})
	active(h, "directoryRemoveRecursive", func(s *Server, c *call, gs *guestSession) (any, error) {
		return progressID(s.removeRecursive(gs, c.str(0), c.list(1)))
	})
	active(h, "fileExists", func(_ *Server, c *call, gs *guestSession) (any, error) {
		e, ok := gs.guest.fs.entries[clean(c.str(0))]
		return ok && !e.dir, nil
	})
	active(h, "fileRemove", func(_ *Server, c *call, gs *guestSession) (any, error) {
		e, err := gs.guest.fs.lookup(c.str(0))
		if err != nil {
			return nil, err
		}
		if e.dir {
			return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errIsADirectory, c.str(0))
		}
		delete(gs.guest.fs.entries, clean(c.str(0)))
		return nil, nil
	})
	active(h, "fileQuerySize", func(_ *Server, c *call, gs *guestSession) (any, error) {
		e, err := gs.guest.fs.lookup(c.str(0))
		if err != nil {
			return nil, err
		}
		if e.dir {
			return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errIsADirectory, c.str(0))
		}
		return e.size, nil
	})
	active(h, "fsObjQueryInfo", func(s *Server, c *call, gs *guestSession) (any, error) {
		info, err := s.queryInfo(gs, c.str(0))
		if err != nil {
			return nil, err
		}
		return info.id, nil
	})
	active(h, "fileCopyToGuest", func(s *Server, c *call, gs *guestSession) (any, error) {
		return progressID(s.copyToGuest(gs, c.str(0), c.str(1), c.list(2)))
	})
	active(h, "fileCopyFromGuest", func(s *Server, c *call, gs *guestSession) (any, error) {
		return progressID(s.copyFromGuest(gs, c.str(0), c.str(1)))
	})
	on(h, k, "close", func(_ *Server, _ *call, gs *guestSession) (any, error) {
		gs.close()
		return nil, nil
	})
}

func fsObjInfoHandlers(h handlerMap) {
	const k = remote.KindFsObjInfo
	get(h, k, "getName", func(i *fsObjInfo) any { return i.name })
	get(h, k, "getType", func(i *fsObjInfo) any { return i.typ })
	get(h, k, "getObjectSize", func(i *fsObjInfo) any { return i.size })
	get(h, k, "getAllocatedSize", func(i *fsObjInfo) any { return (i.size + 4095) &^ 4095 })
	get(h, k, "getAccessTime", func(i *fsObjInfo) any { return i.modified })
	get(h, k, "getModificationTime", func(i *fsObjInfo) any { return i.modified })
	get(h, k, "getChangeTime", func(i *fsObjInfo) any { return i.modified })
	get(h, k, "getBirthTime", func(i *fsObjInfo) any { return i.modified })
	get(h, k, "getFileAttributes", func(i *fsObjInfo) any {
		if i.typ == "Directory" {
			return "drwxr-xr-x"
		}
		return "-rw-r--r--"
	})
	get(h, k, "getHardLinks", func(*fsObjInfo) any { return uint32(1) })
	get(h, k, "getUID", func(*fsObjInfo) any { return uint32(0) })
	get(h, k, "getUserName", func(*fsObjInfo) any { return "root" })
	get(h, k, "getGID", func(*fsObjInfo) any { return uint32(0) })
	get(h, k, "getGroupName", func(*fsObjInfo) any { return "root" })
}

func perfHandlers(h handlerMap) {
	const k = remote.KindPerformanceCollector
	get(h, k, "getMetricNames", func(*collector) any { return metricNames() })
	on(h, k, "setupMetrics", func(s *Server, c *call, col *collector) (any, error) {
		return nonNil(s.setupMetrics(col, c.list(0), c.list(1), c.u32(2), c.u32(3)))
	})
	on(h, k, "getMetrics", func(s *Server, c *call, col *collector) (any, error) {
		return nonNil(s.getMetrics(col, c.list(0), c.list(1)))
	})
	on(h, k, "queryMetricValues", func(s *Server, c *call, col *collector) (any, error) {
		values, err := s.queryValues(col, c.str(0), c.str(1))
		if err != nil {
			return nil, err
		}
		return values, nil
	})

	const mk = remote.KindPerformanceMetric
	get(h, mk, "getMetricName", func(mt *metric) any { return mt.def.name })
	get(h, mk, "getObject", func(mt *metric) any { return mt.object.id })
	get(h, mk, "getDescription", func(mt *metric) any { return mt.def.description })
	get(h, mk, "getPeriod", func(mt *metric) any { return mt.period })
	get(h, mk, "getCount", func(mt *metric) any { return mt.count })
	get(h, mk, "getUnit", func(mt *metric) any { return mt.def.unit })
	get(h, mk, "getScale", func(mt *metric) any { return mt.def.scale })
	get(h, mk, "getMinimumValue", func(*metric) any { return int32(0) })
	get(h, mk, "getMaximumValue", func(mt *metric) any { return mt.maximum() })
}

func nonNil(ids []string, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
