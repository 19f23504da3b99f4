package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// WireType is a type tag of the wire vocabulary.
type WireType string

const (
	TypeVoid        WireType = "void"
	TypeString      WireType = "string"
	TypeInt         WireType = "int"
	TypeUnsignedInt WireType = "unsignedInt"
	TypeLong        WireType = "long"
	TypeBoolean     WireType = "boolean"
	TypeEnum        WireType = "enum"
	TypeStringList  WireType = "stringList"
	TypeIntList     WireType = "intList"
	TypeRef         WireType = "ref"
	TypeRefList     WireType = "refList"
)

// Valid reports whether t belongs to the vocabulary.
func (t WireType) Valid() bool {
	switch t {
	case TypeVoid, TypeString, TypeInt, TypeUnsignedInt, TypeLong, TypeBoolean,
		TypeEnum, TypeStringList, TypeIntList, TypeRef, TypeRefList:
		return true
	}
	return false
}

// IsList reports whether values of t travel in the Values field.
func (t WireType) IsList() bool {
	return t == TypeStringList || t == TypeIntList || t == TypeRefList
}

// Arg is one encoded call argument. Scalars travel as strings, lists as Values.
type Arg struct {
	Name   string   `json:"name"`
	Type   WireType `json:"type"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Call is a single request against a remote object.
type Call struct {
	SessionID  string `json:"sessionId,omitempty"`
	ObjectID   string `json:"objectId,omitempty"`
	Method     string `json:"method"`
	Args       []Arg  `json:"args,omitempty"`
	Idempotent bool   `json:"idempotent,omitempty"`
}

// Response is the typed wire result of a successful call.
type Response struct {
	Type      WireType `json:"type"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
	Kind      Kind     `json:"kind,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
}

// Void is the response of a method without a result.
var Void = Response{Type: TypeVoid}

// Transport sends one call and returns the wire response. Implementations
// return *RemoteFault for server faults and *TransportError for I/O failures.
type Transport interface {
	Send(ctx context.Context, call Call) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, call Call) (Response, error)

func (f TransportFunc) Send(ctx context.Context, call Call) (Response, error) {
	return f(ctx, call)
}

// Backend is the server side of a transport: it executes calls.
type Backend interface {
	Handle(ctx context.Context, call Call) (Response, error)
}

// Local serves calls from an in-process backend.
func Local(b Backend) Transport {
	return TransportFunc(b.Handle)
}

// Reply is the envelope both encodings put on the wire as a response:
// exactly one of Result and Fault is set.
type Reply struct {
	Result *Response    `json:"result,omitempty"`
	Fault  *RemoteFault `json:"fault,omitempty"`
}

// Outcome converts the envelope back into a response or fault.
func (r Reply) Outcome() (Response, error) {
	if r.Fault != nil {
		return Response{}, r.Fault
	}
	if r.Result == nil {
		return Response{}, fmt.Errorf("%w: reply carries neither result nor fault", ErrDecode)
	}
	return *r.Result, nil
}

// ReplyFor builds the envelope for a backend outcome. Errors that are not
// remote faults are reported as internal faults.
func ReplyFor(resp Response, err error) Reply {
	if err == nil {
		return Reply{Result: &resp}
	}
	var fault *RemoteFault
	if errors.As(err, &fault) {
		return Reply{Fault: fault}
	}
	return Reply{Fault: &RemoteFault{Code: FaultInternal, Message: err.Error()}}
}

// MarshalCall encodes a call envelope as JSON.
func MarshalCall(call Call) ([]byte, error) {
	return sonic.Marshal(call)
}

// UnmarshalCall decodes a call envelope.
func UnmarshalCall(data []byte) (Call, error) {
	var call Call
	if err := sonic.Unmarshal(data, &call); err != nil {
		return Call{}, fmt.Errorf("decode call: %w", err)
	}
	if call.Method == "" {
		return Call{}, fmt.Errorf("decode call: missing method")
	}
	return call, nil
}

// MarshalReply encodes a reply envelope as JSON.
func MarshalReply(reply Reply) ([]byte, error) {
	return sonic.Marshal(reply)
}

// UnmarshalReply decodes a reply envelope.
func UnmarshalReply(data []byte) (Reply, error) {
	var reply Reply
	if err := sonic.Unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return reply, nil
}
