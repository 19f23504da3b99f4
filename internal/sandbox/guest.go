package sandbox

import (
	"path"
	"slices"
	"strings"
	"time"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

const additionsVersion = "7.0.14r161095"

// Guest session states as reported by IGuestSession.getStatus.
const (
	guestStarted    = "Started"
	guestTerminated = "Terminated"
)

// IPRT status texts carried by IPRTError faults.
const (
	errFileNotFound  = "VERR_FILE_NOT_FOUND"
	errPathNotFound  = "VERR_PATH_NOT_FOUND"
	errAlreadyExists = "VERR_ALREADY_EXISTS"
	errNotEmpty      = "VERR_DIR_NOT_EMPTY"
	errIsADirectory  = "VERR_IS_A_DIRECTORY"
	errNotADirectory = "VERR_NOT_A_DIRECTORY"
)

type guest struct {
	base
	machine  *machine
	sessions []*guestSession
	fs       *guestFS
}

type guestSession struct {
	base
	guest    *guest
	gid      uint32
	user     string
	domain   string
	name     string
	timeout  uint32
	status   string
	envBase  map[string]string
	envDelta []string
}

type fsObjInfo struct {
	base
	name     string
	typ      string
	size     int64
	modified int64
}

type fsEntry struct {
	dir      bool
	size     int64
	modified time.Time
}

// guestFS is a flat map of cleaned absolute paths with a fixed capacity.
type guestFS struct {
	capacity int64
	entries  map[string]*fsEntry
}

func (s *Server) newGuest(m *machine) *guest {
	now := s.now()
	fs := &guestFS{capacity: s.diskSize, entries: map[string]*fsEntry{
		"/":             {dir: true, modified: now},
		"/etc":          {dir: true, modified: now},
		"/etc/hostname": {size: int64(len(m.name) + 1), modified: now},
		"/home":         {dir: true, modified: now},
		"/tmp":          {dir: true, modified: now},
	}}
	return &guest{base: s.newBase(remote.KindGuest), machine: m, fs: fs}
}

func (fs *guestFS) used() int64 {
	var n int64
	for _, e := range fs.entries {
		n += e.size
	}
	return n
}

func (fs *guestFS) free() int64 {
	return fs.capacity - fs.used()
}

func (fs *guestFS) lookup(p string) (*fsEntry, error) {
	e, ok := fs.entries[clean(p)]
	if !ok {
		return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errFileNotFound, p)
	}
	return e, nil
}

func (fs *guestFS) parentDir(p string) error {
	parent, ok := fs.entries[path.Dir(clean(p))]
	if !ok {
		return remote.Faultf(remote.FaultIPRTError, "%s: %s", errPathNotFound, path.Dir(p))
	}
	if !parent.dir {
		return remote.Faultf(remote.FaultIPRTError, "%s: %s", errNotADirectory, path.Dir(p))
	}
	return nil
}

func (fs *guestFS) mkdir(p string, parents bool, now time.Time) error {
	p = clean(p)
	if _, ok := fs.entries[p]; ok {
		if parents {
			return nil
		}
		return remote.Faultf(remote.FaultIPRTError, "%s: %s", errAlreadyExists, p)
	}
	if parents && p != "/" {
		if err := fs.mkdir(path.Dir(p), true, now); err != nil {
			return err
		}
	}
	if err := fs.parentDir(p); err != nil {
		return err
	}
	fs.entries[p] = &fsEntry{dir: true, modified: now}
	return nil
}

func (fs *guestFS) children(p string) []string {
	prefix := strings.TrimSuffix(clean(p), "/") + "/"
	var out []string
	for name := range fs.entries {
		if name != "/" && strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

func (fs *guestFS) rmdir(p string) error {
	e, err := fs.lookup(p)
	if err != nil {
		return err
	}
	if !e.dir {
		return remote.Faultf(remote.FaultIPRTError, "%s: %s", errNotADirectory, p)
	}
	if len(fs.children(p)) > 0 {
		return remote.Faultf(remote.FaultIPRTError, "%s: %s", errNotEmpty, p)
	}
	delete(fs.entries, clean(p))
	return nil
}

func (fs *guestFS) removeAll(p string) {
	for _, child := range fs.children(p) {
		delete(fs.entries, child)
	}
	delete(fs.entries, clean(p))
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (s *Server) createGuestSession(g *guest, user, domain, name string) (*guestSession, error) {
	if g.machine.state != StateRunning {
		return nil, remote.Faultf(remote.FaultInvalidObjectState, "machine %q is not running", g.machine.name)
	}
	if user == "" {
		return nil, remote.Faultf(remote.FaultInvalidArgument, "user name is empty")
	}
	s.guestSeq++
	gs := &guestSession{
		base:    s.newBase(remote.KindGuestSession),
		guest:   g,
		gid:     s.guestSeq,
		user:    user,
		domain:  domain,
		name:    name,
		status:  guestStarted,
		envBase: map[string]string{"HOME": "/home/" + user, "USER": user, "PATH": "/usr/sbin:/usr/bin:/sbin:/bin"},
	}
	s.add(gs)
	g.sessions = append(g.sessions, gs)
	return gs, nil
}

func (gs *guestSession) active() error {
	if gs.status != guestStarted {
		return remote.Faultf(remote.FaultInvalidObjectState, "guest session %q is %s", gs.name, gs.status)
	}
	return nil
}

func (gs *guestSession) close() {
	gs.status = guestTerminated
	gs.guest.sessions = slices.DeleteFunc(gs.guest.sessions, func(o *guestSession) bool { return o == gs })
}

// schedule records NAME=value, replacing any earlier change of NAME.
// An unset is recorded as the bare name.
func (gs *guestSession) schedule(name, change string) {
	gs.envDelta = slices.DeleteFunc(gs.envDelta, func(e string) bool {
		n, _, _ := strings.Cut(e, "=")
		return n == name
	})
	gs.envDelta = append(gs.envDelta, change)
}

func (s *Server) queryInfo(gs *guestSession, p string) (*fsObjInfo, error) {
	e, err := gs.guest.fs.lookup(p)
	if err != nil {
		return nil, err
	}
	typ := "File"
	if e.dir {
		typ = "Directory"
	}
	info := &fsObjInfo{
		base:     s.newBase(remote.KindFsObjInfo),
		name:     path.Base(clean(p)),
		typ:      typ,
		size:     e.size,
		modified: e.modified.UnixNano(),
	}
	s.add(info)
	return info, nil
}

func hasFlag(flags []string, flag string) bool {
	return slices.Contains(flags, flag)
}

func (s *Server) copyToGuest(gs *guestSession, src, dst string, flags []string) (*progress, error) {
	size, ok := s.hostFiles[src]
	if !ok {
		return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errFileNotFound, src)
	}
	fs := gs.guest.fs
	if err := fs.parentDir(dst); err != nil {
		return nil, err
	}
	if e, ok := fs.entries[clean(dst)]; ok {
		if e.dir {
			return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errIsADirectory, dst)
		}
		if hasFlag(flags, "NoReplace") {
			return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errAlreadyExists, dst)
		}
	}
	return s.startProgress(operation{
		description: "Copying \"" + src + "\" to guest",
		ops:         []string{"Opening destination file", "Copying file contents"},
		cancelable:  true,
		finish: func(*progress) string {
			var prev int64
			if e, ok := fs.entries[clean(dst)]; ok {
				prev = e.size
			}
			if size-prev > fs.free() {
				return "Writing to guest file \"" + dst + "\" failed: disk full"
			}
			fs.entries[clean(dst)] = &fsEntry{size: size, modified: s.now()}
			return ""
		},
	}), nil
}

func (s *Server) copyFromGuest(gs *guestSession, src, dst string) (*progress, error) {
	e, err := gs.guest.fs.lookup(src)
	if err != nil {
		return nil, err
	}
	if e.dir {
		return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errIsADirectory, src)
	}
	size := e.size
	return s.startProgress(operation{
		description: "Copying \"" + src + "\" from guest",
		cancelable:  true,
		finish: func(*progress) string {
			s.hostFiles[dst] = size
			return ""
		},
	}), nil
}

func (s *Server) removeRecursive(gs *guestSession, p string, flags []string) (*progress, error) {
	e, err := gs.guest.fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if !e.dir {
		return nil, remote.Faultf(remote.FaultIPRTError, "%s: %s", errNotADirectory, p)
	}
	if clean(p) == "/" {
		return nil, remote.Faultf(remote.FaultAccessDenied, "cannot remove the root directory")
	}
	fs := gs.guest.fs
	return s.startProgress(operation{
		description: "Removing directory \"" + p + "\"",
		finish: func(*progress) string {
			if hasFlag(flags, "ContentOnly") {
				for _, child := range fs.children(p) {
					delete(fs.entries, child)
				}
				return ""
			}
			fs.removeAll(p)
			return ""
		},
	}), nil
}
