package snapshot

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Encode serializes a container as JSON.
func Encode(c Container) ([]byte, error) {
	data, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrEncode, err)
	}
	return data, nil
}

// Decode parses a JSON container. Unknown keys are ignored.
func Decode(data []byte) (Container, error) {
	var c Container
	if err := sonic.Unmarshal(data, &c); err != nil {
		return Container{}, fmt.Errorf("%w: %v", remote.ErrDecode, err)
	}
	if err := c.validate(); err != nil {
		return Container{}, err
	}
	return c, nil
}

func (c Container) validate() error {
	if c.ObjectID == "" || c.InterfaceKind == "" || c.SessionID == "" {
		return fmt.Errorf("%w: container needs objectId, interfaceKind and sessionId", remote.ErrDecode)
	}
	return nil
}

const (
	keyObjectID      = "objectId"
	keyInterfaceKind = "interfaceKind"
	keySessionID     = "sessionId"
	keyProperties    = "properties"
)

// ToMap flattens a container into a generic bag for in-process handoff.
func ToMap(c Container) map[string]any {
	props := make(map[string]any, len(c.Properties))
	for name, p := range c.Properties {
		entry := map[string]any{"type": string(p.Type)}
		if p.Values != nil || p.Type.IsList() {
			entry["values"] = append([]string{}, p.Values...)
		} else {
			entry["value"] = p.Value
		}
		if p.Kind != "" {
			entry["kind"] = string(p.Kind)
		}
		props[name] = entry
	}
	return map[string]any{
		keyObjectID:      c.ObjectID,
		keyInterfaceKind: string(c.InterfaceKind),
		keySessionID:     c.SessionID,
		keyProperties:    props,
	}
}

// FromMap rebuilds a container from ToMap output, or from the same layout
// decoded from JSON into map[string]any. Unknown keys are ignored.
func FromMap(m map[string]any) (Container, error) {
	c := Container{
		ObjectID:      stringField(m, keyObjectID),
		InterfaceKind: remote.Kind(stringField(m, keyInterfaceKind)),
		SessionID:     stringField(m, keySessionID),
		Properties:    make(map[string]Property),
	}
	if err := c.validate(); err != nil {
		return Container{}, err
	}

	raw, ok := m[keyProperties]
	if !ok || raw == nil {
		return c, nil
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return Container{}, fmt.Errorf("%w: properties is %T", remote.ErrDecode, raw)
	}
	for name, v := range props {
		entry, ok := v.(map[string]any)
		if !ok {
			return Container{}, fmt.Errorf("%w: property %q is %T", remote.ErrDecode, name, v)
		}
		p := Property{
			Type:  remote.WireType(stringField(entry, "type")),
			Value: stringField(entry, "value"),
			Kind:  remote.Kind(stringField(entry, "kind")),
		}
		values, err := stringList(entry["values"])
		if err != nil {
			return Container{}, fmt.Errorf("%w: property %q: %v", remote.ErrDecode, name, err)
		}
		p.Values = values
		c.Properties[name] = p
	}
	return c, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string{}, t...), nil
	case []any:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("values[%d] is %T", i, e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("values is %T", v)
}
