package sandbox

import (
	"hash/fnv"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

type metricDef struct {
	name        string
	description string
	unit        string
	scale       uint32
}

var metricDefs = []metricDef{
	{"CPU/Load/User", "Percentage of processor time spent in user mode", "%", 1000},
	{"CPU/Load/Kernel", "Percentage of processor time spent in kernel mode", "%", 1000},
	{"RAM/Usage/Used", "Physical memory currently occupied", "kB", 1},
}

type collector struct {
	base
	metrics map[string]*metric // by metric name and object id
}

type metric struct {
	base
	def    metricDef
	object *machine
	period uint32
	count  uint32
}

func metricKey(name, objectID string) string {
	return name + "@" + objectID
}

func (s *Server) newCollector() *collector {
	c := &collector{base: s.newBase(remote.KindPerformanceCollector), metrics: make(map[string]*metric)}
	s.add(c)
	return c
}

func metricNames() []string {
	names := make([]string, len(metricDefs))
	for i, d := range metricDefs {
		names[i] = d.name
	}
	return names
}

// matchDefs resolves metric name patterns: "*" stays within one path
// segment, "**" crosses them. No patterns match all.
func matchDefs(patterns []string) []metricDef {
	if len(patterns) == 0 {
		return metricDefs
	}
	var out []metricDef
	for _, d := range metricDefs {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, d.name); ok {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func (s *Server) metricObjects(ids []string) ([]*machine, error) {
	if len(ids) == 0 {
		return slices.Clone(s.machines), nil
	}
	out := make([]*machine, 0, len(ids))
	for _, objectID := range ids {
		m, err := lookup[*machine](s, objectID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Server) setupMetrics(c *collector, names, objects []string, period, count uint32) ([]string, error) {
	if period == 0 || count == 0 {
		return nil, remote.Faultf(remote.FaultInvalidArgument, "period and count must be positive")
	}
	machines, err := s.metricObjects(objects)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range matchDefs(names) {
		for _, m := range machines {
			key := metricKey(d.name, m.id)
			mt, ok := c.metrics[key]
			if !ok {
				mt = &metric{base: s.newBase(remote.KindPerformanceMetric), def: d, object: m}
				s.add(mt)
				c.metrics[key] = mt
			}
			mt.period, mt.count = period, count
			out = append(out, mt.id)
		}
	}
	return out, nil
}

func (s *Server) getMetrics(c *collector, names, objects []string) ([]string, error) {
	machines, err := s.metricObjects(objects)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range matchDefs(names) {
		for _, m := range machines {
			if mt, ok := c.metrics[metricKey(d.name, m.id)]; ok {
				out = append(out, mt.id)
			}
		}
	}
	return out, nil
}

func (s *Server) queryValues(c *collector, name, objectID string) ([]int32, error) {
	mt, ok := c.metrics[metricKey(name, objectID)]
	if !ok {
		return nil, remote.Faultf(remote.FaultObjectNotFound, "metric %q is not set up for %q", name, objectID)
	}
	return mt.samples(s.now().Unix()), nil
}

// samples returns count deterministic values ending at the collection
// period containing now. Offline machines report zero.
func (mt *metric) samples(now int64) []int32 {
	out := make([]int32, mt.count)
	if mt.object.state != StateRunning && mt.object.state != StatePaused {
		return out
	}
	last := now / int64(mt.period)
	for i := range out {
		tick := last - int64(len(out)-1-i)
		out[i] = mt.sample(tick)
	}
	return out
}

func (mt *metric) sample(tick int64) int32 {
	h := fnv.New32a()
	h.Write([]byte(mt.def.name))
	h.Write([]byte(mt.object.uuid))
	jitter := int32((h.Sum32() + uint32(tick)*2654435761) % 1000)

	switch mt.def.unit {
	case "kB":
		total := int32(mt.object.memory) * 1024
		return total/2 + total/4*jitter/1000
	default:
		if mt.object.state == StatePaused {
			return 0
		}
		return 2000 + jitter*8
	}
}

func (mt *metric) maximum() int32 {
	if mt.def.unit == "kB" {
		return int32(mt.object.memory) * 1024
	}
	return 100 * int32(mt.def.scale)
}
