// Package descriptor holds the static description of every remote method:
// wire name, argument encodings, result shape and cacheability.
package descriptor

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

//go:embed methods.yaml
var methodsYAML []byte

// Shape is the structural form of a method result.
type Shape int

const (
	ShapeVoid Shape = iota
	ShapeScalar
	ShapeList
	ShapeRef
	ShapeRefList
)

func (s Shape) String() string {
	switch s {
	case ShapeVoid:
		return "void"
	case ShapeScalar:
		return "scalar"
	case ShapeList:
		return "list"
	case ShapeRef:
		return "ref"
	case ShapeRefList:
		return "refList"
	default:
		return "unknown"
	}
}

// ArgSpec describes one argument.
type ArgSpec struct {
	Name string
	Type remote.WireType
}

// ResultSpec describes a result. Kind is set for reference shapes.
type ResultSpec struct {
	Shape Shape
	Type  remote.WireType
	Kind  remote.Kind
}

// Method is an immutable method descriptor.
type Method struct {
	Interface remote.Kind
	Name      string
	WireName  string
	Args      []ArgSpec
	Result    ResultSpec
	Cacheable bool
	Pure      bool
	Affects   []string
}

// Mutating reports whether a successful call invalidates cached state.
func (m *Method) Mutating() bool {
	return !m.Cacheable && !m.Pure
}

func (m *Method) String() string {
	return string(m.Interface) + "." + m.Name
}

// Table is the method descriptor table, indexed by interface and method name.
type Table struct {
	methods map[remote.Kind]map[string]*Method
	wire    map[string]*Method
}

type document struct {
	Interfaces map[string]interfaceDoc `yaml:"interfaces"`
}

type interfaceDoc struct {
	Methods []methodDoc `yaml:"methods"`
}

type methodDoc struct {
	Name      string   `yaml:"name"`
	Wire      string   `yaml:"wire"`
	Args      []argDoc `yaml:"args"`
	Result    string   `yaml:"result"`
	Cacheable bool     `yaml:"cacheable"`
	Pure      bool     `yaml:"pure"`
	Affects   []string `yaml:"affects"`
}

type argDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Load parses the embedded method table.
func Load() (*Table, error) {
	return Parse(methodsYAML)
}

// MustLoad is Load for process start.
func MustLoad() *Table {
	t, err := Load()
	if err != nil {
		panic(fmt.Sprintf("descriptor: %v", err))
	}
	return t
}

// Parse builds and validates a table from a YAML document.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse method table: %w", err)
	}
	if len(doc.Interfaces) == 0 {
		return nil, fmt.Errorf("method table declares no interfaces")
	}

	t := &Table{
		methods: make(map[remote.Kind]map[string]*Method, len(doc.Interfaces)),
		wire:    make(map[string]*Method),
	}

	for ifaceName, iface := range doc.Interfaces {
		kind, err := remote.ParseKind(ifaceName)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*Method, len(iface.Methods))
		for _, md := range iface.Methods {
			m, err := buildMethod(kind, md)
			if err != nil {
				return nil, err
			}
			if _, dup := byName[m.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate method", m)
			}
			if prev, dup := t.wire[m.WireName]; dup {
				return nil, fmt.Errorf("%s: wire name %q already used by %s", m, m.WireName, prev)
			}
			t.wire[m.WireName] = m
			byName[m.Name] = m
		}
		if err := resolveAffects(byName); err != nil {
			return nil, err
		}
		t.methods[kind] = byName
	}
	return t, nil
}

func buildMethod(kind remote.Kind, md methodDoc) (*Method, error) {
	if md.Name == "" {
		return nil, fmt.Errorf("%s: method without name", kind)
	}
	m := &Method{
		Interface: kind,
		Name:      md.Name,
		WireName:  md.Wire,
		Cacheable: md.Cacheable,
		Pure:      md.Pure,
		Affects:   md.Affects,
	}
	if m.WireName == "" {
		m.WireName = string(kind) + "_" + md.Name
	}

	for _, a := range md.Args {
		typ := remote.WireType(a.Type)
		if !validArgType(typ) {
			return nil, fmt.Errorf("%s: argument %q has unsupported type %q", m, a.Name, a.Type)
		}
		m.Args = append(m.Args, ArgSpec{Name: a.Name, Type: typ})
	}

	result, err := parseResult(md.Result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	m.Result = result

	if m.Cacheable {
		if len(m.Args) > 0 {
			return nil, fmt.Errorf("%s: cacheable methods take no arguments", m)
		}
		if m.Result.Shape == ShapeVoid {
			return nil, fmt.Errorf("%s: cacheable methods need a result", m)
		}
		if m.Pure || len(m.Affects) > 0 {
			return nil, fmt.Errorf("%s: cacheable methods are neither pure nor mutating", m)
		}
	}
	if m.Pure && len(m.Affects) > 0 {
		return nil, fmt.Errorf("%s: pure methods affect nothing", m)
	}
	return m, nil
}

func validArgType(t remote.WireType) bool {
	return t.Valid() && t != remote.TypeVoid && t != remote.TypeIntList
}

func parseResult(s string) (ResultSpec, error) {
	if s == "" || s == string(remote.TypeVoid) {
		return ResultSpec{Shape: ShapeVoid, Type: remote.TypeVoid}, nil
	}
	typ, kindName, hasKind := strings.Cut(s, ":")
	t := remote.WireType(typ)

	switch t {
	case remote.TypeRef, remote.TypeRefList:
		if !hasKind {
			return ResultSpec{}, fmt.Errorf("result %q needs an interface kind", s)
		}
		kind, err := remote.ParseKind(kindName)
		if err != nil {
			return ResultSpec{}, fmt.Errorf("result %q: %w", s, err)
		}
		shape := ShapeRef
		if t == remote.TypeRefList {
			shape = ShapeRefList
		}
		return ResultSpec{Shape: shape, Type: t, Kind: kind}, nil
	}

	if hasKind || !t.Valid() {
		return ResultSpec{}, fmt.Errorf("unsupported result type %q", s)
	}
	if t.IsList() {
		return ResultSpec{Shape: ShapeList, Type: t}, nil
	}
	return ResultSpec{Shape: ShapeScalar, Type: t}, nil
}

// resolveAffects validates declared affects lists and applies the setter
// convention: setX without affects invalidates getX.
func resolveAffects(byName map[string]*Method) error {
	for _, m := range byName {
		for _, target := range m.Affects {
			other, ok := byName[target]
			if !ok || !other.Cacheable {
				return fmt.Errorf("%s: affects %q, which is not a cacheable method of %s", m, target, m.Interface)
			}
		}
		if len(m.Affects) > 0 || !m.Mutating() {
			continue
		}
		if prop, ok := strings.CutPrefix(m.Name, "set"); ok && prop != "" {
			if getter, ok := byName["get"+prop]; ok && getter.Cacheable {
				m.Affects = []string{getter.Name}
			}
		}
	}
	return nil
}

// Lookup returns the descriptor of kind.name.
func (t *Table) Lookup(kind remote.Kind, name string) (*Method, error) {
	m, ok := t.methods[kind][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", remote.ErrUnknownMethod, kind, name)
	}
	return m, nil
}

// ByWireName returns the descriptor a server sees for an incoming call.
func (t *Table) ByWireName(wire string) (*Method, error) {
	m, ok := t.wire[wire]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrUnknownMethod, wire)
	}
	return m, nil
}

// Cacheable reports whether kind.name is a cacheable method.
func (t *Table) Cacheable(kind remote.Kind, name string) bool {
	m, ok := t.methods[kind][name]
	return ok && m.Cacheable
}

// Methods lists the descriptors of an interface sorted by name.
func (t *Table) Methods(kind remote.Kind) []*Method {
	out := make([]*Method, 0, len(t.methods[kind]))
	for _, m := range t.methods[kind] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CacheableNames lists the cacheable method names of an interface, sorted.
func (t *Table) CacheableNames(kind remote.Kind) []string {
	var names []string
	for _, m := range t.Methods(kind) {
		if m.Cacheable {
			names = append(names, m.Name)
		}
	}
	return names
}

// Kinds lists the interfaces described by the table.
func (t *Table) Kinds() []remote.Kind {
	out := make([]remote.Kind, 0, len(t.methods))
	for k := range t.methods {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
