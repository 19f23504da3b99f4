package remote

import "fmt"

// Kind names a remote interface.
type Kind string

const (
	KindWebsessionManager    Kind = "IWebsessionManager"
	KindVirtualBox           Kind = "IVirtualBox"
	KindMachine              Kind = "IMachine"
	KindSession              Kind = "ISession"
	KindConsole              Kind = "IConsole"
	KindProgress             Kind = "IProgress"
	KindErrorInfo            Kind = "IVirtualBoxErrorInfo"
	KindGuest                Kind = "IGuest"
	KindGuestSession         Kind = "IGuestSession"
	KindFsObjInfo            Kind = "IFsObjInfo"
	KindPerformanceCollector Kind = "IPerformanceCollector"
	KindPerformanceMetric    Kind = "IPerformanceMetric"
)

var knownKinds = map[Kind]struct{}{
	KindWebsessionManager:    {},
	KindVirtualBox:           {},
	KindMachine:              {},
	KindSession:              {},
	KindConsole:              {},
	KindProgress:             {},
	KindErrorInfo:            {},
	KindGuest:                {},
	KindGuestSession:         {},
	KindFsObjInfo:            {},
	KindPerformanceCollector: {},
	KindPerformanceMetric:    {},
}

// Valid reports whether k is one of the known interface kinds.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// ParseKind converts an interface name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown interface kind %q", s)
	}
	return k, nil
}

// WebsessionManagerID is the well-known object id of the logon endpoint.
const WebsessionManagerID = "websession-manager"

// Ref identifies a remote object within a session. It is an immutable value;
// the properties cached for it live in the session's cache, keyed by ObjectID.
type Ref struct {
	ObjectID  string `json:"objectId"`
	Kind      Kind   `json:"interfaceKind"`
	SessionID string `json:"sessionId"`
}

// NewRef builds a reference.
func NewRef(objectID string, kind Kind, sessionID string) Ref {
	return Ref{ObjectID: objectID, Kind: kind, SessionID: sessionID}
}

// IsNull reports the empty reference the server returns for "no object".
func (r Ref) IsNull() bool {
	return r.ObjectID == ""
}

// Rebind returns a copy of r bound to another session.
func (r Ref) Rebind(sessionID string) Ref {
	r.SessionID = sessionID
	return r
}

func (r Ref) String() string {
	if r.IsNull() {
		return fmt.Sprintf("%s(null)@%s", r.Kind, r.SessionID)
	}
	return fmt.Sprintf("%s(%s)@%s", r.Kind, r.ObjectID, r.SessionID)
}

// CloneValue copies the slice-backed values of the value model so callers
// can't mutate a cached result through the returned value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []int32:
		return append([]int32(nil), t...)
	case []Ref:
		return append([]Ref(nil), t...)
	default:
		return v
	}
}
