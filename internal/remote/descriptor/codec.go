package descriptor

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// EncodeArgs converts Go values into wire arguments. Nothing is sent when
// this fails.
func (m *Method) EncodeArgs(args []any) ([]remote.Arg, error) {
	if len(args) != len(m.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", remote.ErrEncode, m, len(m.Args), len(args))
	}
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]remote.Arg, len(args))
	for i, spec := range m.Args {
		a, err := encodeArg(spec, args[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %q: %v", remote.ErrEncode, m, spec.Name, err)
		}
		out[i] = a
	}
	return out, nil
}

func encodeArg(spec ArgSpec, v any) (remote.Arg, error) {
	a := remote.Arg{Name: spec.Name, Type: spec.Type}
	switch spec.Type {
	case remote.TypeString, remote.TypeEnum:
		s, err := toString(v)
		if err != nil {
			return a, err
		}
		a.Value = s
	case remote.TypeInt:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return a, err
		}
		a.Value = strconv.FormatInt(n, 10)
	case remote.TypeUnsignedInt:
		n, err := toInt(v, 0, math.MaxUint32)
		if err != nil {
			return a, err
		}
		a.Value = strconv.FormatInt(n, 10)
	case remote.TypeLong:
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return a, err
		}
		a.Value = strconv.FormatInt(n, 10)
	case remote.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return a, fmt.Errorf("want bool, got %T", v)
		}
		a.Value = strconv.FormatBool(b)
	case remote.TypeStringList:
		list, err := toStrings(v)
		if err != nil {
			return a, err
		}
		a.Values = list
	case remote.TypeRef:
		ref, ok := v.(remote.Ref)
		if !ok {
			return a, fmt.Errorf("want remote.Ref, got %T", v)
		}
		a.Value = ref.ObjectID
	case remote.TypeRefList:
		refs, ok := v.([]remote.Ref)
		if !ok {
			return a, fmt.Errorf("want []remote.Ref, got %T", v)
		}
		a.Values = make([]string, len(refs))
		for i, r := range refs {
			a.Values[i] = r.ObjectID
		}
	default:
		return a, fmt.Errorf("unknown type tag %q", spec.Type)
	}
	return a, nil
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	}
	// named string types such as enum values
	if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fmt.Errorf("want string, got %T", v)
}

func toStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case nil:
		return []string{}, nil
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, err := toString(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("want []string, got %T", v)
}

// toInt accepts any Go integer, and float64 holding an integral value since
// that is what JSON decoding produces.
func toInt(v any, lo, hi int64) (int64, error) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int8:
		n = int64(t)
	case int16:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case uint:
		if uint64(t) > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", t)
		}
		n = int64(t)
	case uint8:
		n = int64(t)
	case uint16:
		n = int64(t)
	case uint32:
		n = int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", t)
		}
		n = int64(t)
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, fmt.Errorf("%v out of range", t)
		}
		n = int64(t)
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

// DecodeResult converts a wire response into the Go value model. Nested
// references inherit the parent's session and the declared kind.
func (m *Method) DecodeResult(parent remote.Ref, resp remote.Response) (any, error) {
	if m.Result.Shape == ShapeVoid {
		return nil, nil
	}
	if resp.Type != "" && !compatible(m.Result.Type, resp.Type) {
		return nil, fmt.Errorf("%w: %s returns %s, server sent %s", remote.ErrDecode, m, m.Result.Type, resp.Type)
	}

	switch m.Result.Shape {
	case ShapeScalar:
		v, err := ParseScalar(m.Result.Type, resp.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", remote.ErrDecode, m, err)
		}
		return v, nil
	case ShapeList:
		if m.Result.Type == remote.TypeIntList {
			out := make([]int32, len(resp.Values))
			for i, s := range resp.Values {
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return nil, fmt.Errorf("%w: %s element %d: %v", remote.ErrDecode, m, i, err)
				}
				out[i] = int32(n)
			}
			return out, nil
		}
		return append([]string{}, resp.Values...), nil
	case ShapeRef:
		return remote.NewRef(resp.Value, m.Result.Kind, parent.SessionID), nil
	case ShapeRefList:
		out := make([]remote.Ref, len(resp.Values))
		for i, id := range resp.Values {
			out[i] = remote.NewRef(id, m.Result.Kind, parent.SessionID)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s has unknown result shape", remote.ErrDecode, m)
}

func compatible(want, got remote.WireType) bool {
	if want == got {
		return true
	}
	// enums are strings on the wire
	return (want == remote.TypeEnum && got == remote.TypeString) ||
		(want == remote.TypeString && got == remote.TypeEnum)
}

// ParseScalar parses the wire text of a scalar into its Go value.
func ParseScalar(t remote.WireType, s string) (any, error) {
	switch t {
	case remote.TypeString, remote.TypeEnum:
		return s, nil
	case remote.TypeInt:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case remote.TypeUnsignedInt:
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	case remote.TypeLong:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err
	case remote.TypeBoolean:
		return strconv.ParseBool(s)
	}
	return nil, fmt.Errorf("%s is not a scalar type", t)
}

// ParseArgs converts textual arguments (command line input) into Go values
// suitable for EncodeArgs. List arguments are comma separated; reference
// arguments are object ids.
func (m *Method) ParseArgs(sessionID string, raw []string) ([]any, error) {
	if len(raw) != len(m.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", remote.ErrEncode, m, len(m.Args), len(raw))
	}
	out := make([]any, len(raw))
	for i, spec := range m.Args {
		s := raw[i]
		switch spec.Type {
		case remote.TypeStringList:
			out[i] = splitList(s)
		case remote.TypeRef:
			out[i] = remote.NewRef(s, "", sessionID)
		case remote.TypeRefList:
			ids := splitList(s)
			refs := make([]remote.Ref, len(ids))
			for j, id := range ids {
				refs[j] = remote.NewRef(id, "", sessionID)
			}
			out[i] = refs
		default:
			v, err := ParseScalar(spec.Type, s)
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %q: %v", remote.ErrEncode, m, spec.Name, err)
			}
			out[i] = v
		}
	}
	return out, nil
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
