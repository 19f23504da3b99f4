package descriptor

import (
	"fmt"
	"strconv"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// The server side of the codec: decoding incoming arguments and encoding
// results. References are plain object ids here; a server has no use for
// the client's session binding.

// DecodeArgs checks args against m and converts them into Go values:
// scalars per ParseScalar, stringList as []string, ref as the object id
// string and refList as []string of ids. Failures wrap remote.ErrDecode.
func (m *Method) DecodeArgs(args []remote.Arg) ([]any, error) {
	if len(args) != len(m.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", remote.ErrDecode, m, len(m.Args), len(args))
	}
	out := make([]any, len(args))
	for i, spec := range m.Args {
		a := args[i]
		if a.Type != spec.Type && !compatible(spec.Type, a.Type) {
			return nil, fmt.Errorf("%w: %s argument %q is %s, got %s", remote.ErrDecode, m, spec.Name, spec.Type, a.Type)
		}
		switch spec.Type {
		case remote.TypeStringList, remote.TypeRefList:
			out[i] = append([]string{}, a.Values...)
		case remote.TypeRef:
			out[i] = a.Value
		default:
			v, err := ParseScalar(spec.Type, a.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %q: %v", remote.ErrDecode, m, spec.Name, err)
			}
			out[i] = v
		}
	}
	return out, nil
}

// EncodeResult converts a Go value into m's wire response. Reference
// results take object ids (string or []string) or remote.Ref values.
func (m *Method) EncodeResult(v any) (remote.Response, error) {
	resp := remote.Response{Type: m.Result.Type, Kind: m.Result.Kind}
	switch m.Result.Shape {
	case ShapeVoid:
		return remote.Void, nil
	case ShapeScalar:
		s, err := FormatScalar(v)
		if err != nil {
			return resp, fmt.Errorf("%w: %s: %v", remote.ErrEncode, m, err)
		}
		resp.Value = s
	case ShapeList:
		switch t := v.(type) {
		case []string:
			resp.Values = append([]string{}, t...)
		case []int32:
			resp.Values = make([]string, len(t))
			for i, n := range t {
				resp.Values[i] = strconv.FormatInt(int64(n), 10)
			}
		default:
			return resp, fmt.Errorf("%w: %s returns a list, got %T", remote.ErrEncode, m, v)
		}
	case ShapeRef:
		switch t := v.(type) {
		case string:
			resp.Value = t
		case remote.Ref:
			resp.Value = t.ObjectID
		default:
			return resp, fmt.Errorf("%w: %s returns a reference, got %T", remote.ErrEncode, m, v)
		}
	case ShapeRefList:
		switch t := v.(type) {
		case []string:
			resp.Values = append([]string{}, t...)
		case []remote.Ref:
			resp.Values = make([]string, len(t))
			for i, r := range t {
				resp.Values[i] = r.ObjectID
			}
		default:
			return resp, fmt.Errorf("%w: %s returns references, got %T", remote.ErrEncode, m, v)
		}
	}
	return resp, nil
}

// FormatScalar renders a scalar Go value as wire text.
func FormatScalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("unsupported scalar %T", v)
}
