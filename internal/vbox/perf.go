package vbox

import (
	"context"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// PerformanceCollector samples resource usage of machines.
type PerformanceCollector struct{ proxy }

func wrapCollector(p proxy) *PerformanceCollector { return &PerformanceCollector{p} }

func (c *PerformanceCollector) MetricNames(ctx context.Context) ([]string, error) {
	return get[[]string](ctx, c.proxy, "getMetricNames")
}

// SetupMetrics enables collection of the named metrics for objects, every
// period seconds keeping count samples. Names may end in "*".
func (c *PerformanceCollector) SetupMetrics(ctx context.Context, names []string, objects []remote.Ref, period, count uint32) ([]*PerformanceMetric, error) {
	return getRefs(ctx, c.proxy, "setupMetrics", wrapMetric, nonNil(names), nonNilRefs(objects), period, count)
}

func (c *PerformanceCollector) Metrics(ctx context.Context, names []string, objects []remote.Ref) ([]*PerformanceMetric, error) {
	return getRefs(ctx, c.proxy, "getMetrics", wrapMetric, nonNil(names), nonNilRefs(objects))
}

// QueryMetricValues returns the raw samples of one metric, oldest first.
func (c *PerformanceCollector) QueryMetricValues(ctx context.Context, name string, object remote.Ref) ([]int32, error) {
	return get[[]int32](ctx, c.proxy, "queryMetricValues", name, object)
}

func nonNilRefs(refs []remote.Ref) []remote.Ref {
	if refs == nil {
		return []remote.Ref{}
	}
	return refs
}

// PerformanceMetric describes one collected metric of one object.
type PerformanceMetric struct{ proxy }

func wrapMetric(p proxy) *PerformanceMetric { return &PerformanceMetric{p} }

func (m *PerformanceMetric) MetricName(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getMetricName")
}

func (m *PerformanceMetric) Object(ctx context.Context) (remote.Ref, error) {
	return get[remote.Ref](ctx, m.proxy, "getObject")
}

func (m *PerformanceMetric) Description(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getDescription")
}

func (m *PerformanceMetric) Unit(ctx context.Context) (string, error) {
	return get[string](ctx, m.proxy, "getUnit")
}

func (m *PerformanceMetric) Scale(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getScale")
}

func (m *PerformanceMetric) Period(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getPeriod")
}

func (m *PerformanceMetric) Count(ctx context.Context) (uint32, error) {
	return get[uint32](ctx, m.proxy, "getCount")
}

func (m *PerformanceMetric) MinimumValue(ctx context.Context) (int32, error) {
	return get[int32](ctx, m.proxy, "getMinimumValue")
}

func (m *PerformanceMetric) MaximumValue(ctx context.Context) (int32, error) {
	return get[int32](ctx, m.proxy, "getMaximumValue")
}
