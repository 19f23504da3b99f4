package vbox

import (
	"context"
	"time"
)

// Guest is the guest operating system of a running machine.
type Guest struct{ proxy }

func wrapGuest(p proxy) *Guest { return &Guest{p} }

func (g *Guest) OSTypeID(ctx context.Context) (string, error) {
	return get[string](ctx, g.proxy, "getOSTypeId")
}

func (g *Guest) AdditionsVersion(ctx context.Context) (string, error) {
	return get[string](ctx, g.proxy, "getAdditionsVersion")
}

func (g *Guest) Sessions(ctx context.Context) ([]*GuestSession, error) {
	return getRefs(ctx, g.proxy, "getSessions", wrapGuestSession)
}

func (g *Guest) CreateSession(ctx context.Context, user, password, domain, name string) (*GuestSession, error) {
	return getRef(ctx, g.proxy, "createSession", wrapGuestSession, user, password, domain, name)
}

func (g *Guest) FindSession(ctx context.Context, name string) ([]*GuestSession, error) {
	return getRefs(ctx, g.proxy, "findSession", wrapGuestSession, name)
}

// GuestSession runs file and environment operations inside the guest.
type GuestSession struct{ proxy }

func wrapGuestSession(p proxy) *GuestSession { return &GuestSession{p} }

func (s *GuestSession) User(ctx context.Context) (string, error) {
	return get[string](ctx, s.proxy, "getUser")
}

func (s *GuestSession) Domain(ctx context.Context) (string, error) {
	return get[string](ctx, s.proxy, "getDomain")
}

func (s *GuestSession) Name(ctx context.Context) (string, error) {
	return get[string](ctx, s.proxy, "getName")
}

func (s *GuestSession) ID(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, s.proxy, "getId")
}

func (s *GuestSession) Status(ctx context.Context) (string, error) {
	return get[string](ctx, s.proxy, "getStatus")
}

func (s *GuestSession) Timeout(ctx context.Context) (time.Duration, error) {
	ms, err := get[uint32](ctx, s.proxy, "getTimeout")
	return time.Duration(ms) * time.Millisecond, err
}

func (s *GuestSession) SetTimeout(ctx context.Context, d time.Duration) error {
	return call(ctx, s.proxy, "setTimeout", uint32(d/time.Millisecond))
}

func (s *GuestSession) EnvironmentChanges(ctx context.Context) ([]string, error) {
	return get[[]string](ctx, s.proxy, "getEnvironmentChanges")
}

func (s *GuestSession) SetEnvironmentChanges(ctx context.Context, changes []string) error {
	return call(ctx, s.proxy, "setEnvironmentChanges", changes)
}

func (s *GuestSession) EnvironmentScheduleSet(ctx context.Context, name, value string) error {
	return call(ctx, s.proxy, "environmentScheduleSet", name, value)
}

func (s *GuestSession) EnvironmentScheduleUnset(ctx context.Context, name string) error {
	return call(ctx, s.proxy, "environmentScheduleUnset", name)
}

func (s *GuestSession) EnvironmentGetBaseVariable(ctx context.Context, name string) (string, error) {
	return get[string](ctx, s.proxy, "environmentGetBaseVariable", name)
}

func (s *GuestSession) EnvironmentDoesBaseVariableExist(ctx context.Context, name string) (bool, error) {
	return get[bool](ctx, s.proxy, "environmentDoesBaseVariableExist", name)
}

func (s *GuestSession) DirectoryCreate(ctx context.Context, path string, mode uint32, flags ...string) error {
	return call(ctx, s.proxy, "directoryCreate", path, mode, nonNil(flags))
}

func (s *GuestSession) DirectoryExists(ctx context.Context, path string) (bool, error) {
	return get[bool](ctx, s.proxy, "directoryExists", path, true)
}

func (s *GuestSession) DirectoryRemove(ctx context.Context, path string) error {
	return call(ctx, s.proxy, "directoryRemove", path)
}

func (s *GuestSession) DirectoryRemoveRecursive(ctx context.Context, path string, flags ...string) (*Progress, error) {
	return getRef(ctx, s.proxy, "directoryRemoveRecursive", wrapProgress, path, nonNil(flags))
}

func (s *GuestSession) FileExists(ctx context.Context, path string) (bool, error) {
	return get[bool](ctx, s.proxy, "fileExists", path, true)
}

func (s *GuestSession) FileRemove(ctx context.Context, path string) error {
	return call(ctx, s.proxy, "fileRemove", path)
}

func (s *GuestSession) FileQuerySize(ctx context.Context, path string) (int64, error) {
	return get[int64](ctx, s.proxy, "fileQuerySize", path, true)
}

func (s *GuestSession) FsObjQueryInfo(ctx context.Context, path string) (*FsObjInfo, error) {
	return getRef(ctx, s.proxy, "fsObjQueryInfo", wrapFsObjInfo, path, true)
}

// FileCopyToGuest copies a host file into the guest.
func (s *GuestSession) FileCopyToGuest(ctx context.Context, source, destination string, flags ...string) (*Progress, error) {
	return getRef(ctx, s.proxy, "fileCopyToGuest", wrapProgress, source, destination, nonNil(flags))
}

// FileCopyFromGuest copies a guest file to the host.
func (s *GuestSession) FileCopyFromGuest(ctx context.Context, source, destination string, flags ...string) (*Progress, error) {
	return getRef(ctx, s.proxy, "fileCopyFromGuest", wrapProgress, source, destination, nonNil(flags))
}

func (s *GuestSession) Close(ctx context.Context) error {
	return call(ctx, s.proxy, "close")
}

func nonNil(flags []string) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}

// FsObjInfo describes a guest file system object at query time.
type FsObjInfo struct{ proxy }

func wrapFsObjInfo(p proxy) *FsObjInfo { return &FsObjInfo{p} }

func (i *FsObjInfo) Name(ctx context.Context) (string, error) {
	return get[string](ctx, i.proxy, "getName")
}

// Type is File, Directory or Symlink.
func (i *FsObjInfo) Type(ctx context.Context) (string, error) {
	return get[string](ctx, i.proxy, "getType")
}

func (i *FsObjInfo) ObjectSize(ctx context.Context) (int64, error) {
	return get[int64](ctx, i.proxy, "getObjectSize")
}

func (i *FsObjInfo) AllocatedSize(ctx context.Context) (int64, error) {
	return get[int64](ctx, i.proxy, "getAllocatedSize")
}

func (i *FsObjInfo) ModificationTime(ctx context.Context) (time.Time, error) {
	ns, err := get[int64](ctx, i.proxy, "getModificationTime")
	return time.Unix(0, ns), err
}

func (i *FsObjInfo) FileAttributes(ctx context.Context) (string, error) {
	return get[string](ctx, i.proxy, "getFileAttributes")
}

func (i *FsObjInfo) UserName(ctx context.Context) (string, error) {
	return get[string](ctx, i.proxy, "getUserName")
}

func (i *FsObjInfo) GroupName(ctx context.Context) (string, error) {
	return get[string](ctx, i.proxy, "getGroupName")
}
