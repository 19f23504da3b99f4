package snapshot

import (
	"fmt"
	"strconv"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
)

// Property is a cached value in wire form. Lists travel in Values; Kind is
// set for references.
type Property struct {
	Type   remote.WireType `json:"type"`
	Value  string          `json:"value,omitempty"`
	Values []string        `json:"values,omitempty"`
	Kind   remote.Kind     `json:"kind,omitempty"`
}

// PropertyFromResponse wraps a wire response, e.g. one produced by a server
// that publishes snapshots of its own objects.
func PropertyFromResponse(resp remote.Response) Property {
	return Property{
		Type:   resp.Type,
		Value:  resp.Value,
		Values: append([]string(nil), resp.Values...),
		Kind:   resp.Kind,
	}
}

// EncodeProperty converts a cached Go value into wire form.
func EncodeProperty(spec descriptor.ResultSpec, v any) (Property, error) {
	p := Property{Type: spec.Type}
	switch spec.Shape {
	case descriptor.ShapeScalar:
		s, err := descriptor.FormatScalar(v)
		if err != nil {
			return p, err
		}
		p.Value = s
	case descriptor.ShapeList:
		switch t := v.(type) {
		case []string:
			p.Values = append([]string{}, t...)
		case []int32:
			p.Values = make([]string, len(t))
			for i, n := range t {
				p.Values[i] = strconv.FormatInt(int64(n), 10)
			}
		default:
			return p, fmt.Errorf("want list, got %T", v)
		}
	case descriptor.ShapeRef:
		ref, ok := v.(remote.Ref)
		if !ok {
			return p, fmt.Errorf("want remote.Ref, got %T", v)
		}
		p.Value = ref.ObjectID
		p.Kind = spec.Kind
	case descriptor.ShapeRefList:
		refs, ok := v.([]remote.Ref)
		if !ok {
			return p, fmt.Errorf("want []remote.Ref, got %T", v)
		}
		p.Values = make([]string, len(refs))
		for i, r := range refs {
			p.Values[i] = r.ObjectID
		}
		p.Kind = spec.Kind
	default:
		return p, fmt.Errorf("%s results are not cached", spec.Shape)
	}
	return p, nil
}

// Decode converts the property back into the Go value model. References
// are bound to sessionID.
func (p Property) Decode(sessionID string) (any, error) {
	switch p.Type {
	case remote.TypeStringList:
		return append([]string{}, p.Values...), nil
	case remote.TypeIntList:
		out := make([]int32, len(p.Values))
		for i, s := range p.Values {
			n, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = int32(n)
		}
		return out, nil
	case remote.TypeRef:
		return remote.NewRef(p.Value, p.Kind, sessionID), nil
	case remote.TypeRefList:
		out := make([]remote.Ref, len(p.Values))
		for i, id := range p.Values {
			out[i] = remote.NewRef(id, p.Kind, sessionID)
		}
		return out, nil
	}
	return descriptor.ParseScalar(p.Type, p.Value)
}
