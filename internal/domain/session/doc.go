// Package session manages websessions on the virtualization server.
//
// A Session is created at logon and owns everything scoped to it: the
// property cache, the dispatcher that fills it and the snapshot marshaler
// that freezes and thaws references against it. Logoff discards all of it.
//
// Session records are persisted through a Store (memory or Redis) so that a
// restarted process can Reattach: it logs on again as the same user and
// keeps the old session id as an alias, which lets snapshots frozen before
// the restart thaw into the new session.
//
// Example Usage:
//
//	manager := session.NewManager(transport, session.WithStore(store))
//	s, err := manager.Logon(ctx, "admin", password)
//	version, err := s.Invoke(ctx, s.Root(), "getVersion")
//	err = manager.Logoff(ctx, s.ID())
package session
