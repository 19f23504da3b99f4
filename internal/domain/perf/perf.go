// Package perf reads performance metrics through a collector proxy and
// summarizes the sampled values.
package perf

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

// Summary describes a series of scaled samples.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// MetricQuery is the result for one metric of one object. Values are
// divided by Scale, so "%" metrics read as percentages.
type MetricQuery struct {
	Name    string     `json:"name"`
	Unit    string     `json:"unit"`
	Scale   uint32     `json:"scale"`
	Object  remote.Ref `json:"object"`
	Values  []float64  `json:"values"`
	Summary Summary    `json:"summary"`
}

// Setup enables collection of names for object, keeping count samples
// taken every period.
func Setup(ctx context.Context, collector *vbox.PerformanceCollector, object remote.Ref, names []string, period, count uint32) ([]*vbox.PerformanceMetric, error) {
	var objects []remote.Ref
	if !object.IsNull() {
		objects = []remote.Ref{object}
	}
	return collector.SetupMetrics(ctx, names, objects, period, count)
}

// Query reads every set up metric of object matching names. A null object
// queries all objects.
func Query(ctx context.Context, collector *vbox.PerformanceCollector, object remote.Ref, names []string) ([]MetricQuery, error) {
	var objects []remote.Ref
	if !object.IsNull() {
		objects = []remote.Ref{object}
	}
	metrics, err := collector.Metrics(ctx, names, objects)
	if err != nil {
		return nil, err
	}

	out := make([]MetricQuery, 0, len(metrics))
	for _, m := range metrics {
		q, err := query(ctx, collector, m)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", m, err)
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Object.ObjectID != out[j].Object.ObjectID {
			return out[i].Object.ObjectID < out[j].Object.ObjectID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func query(ctx context.Context, collector *vbox.PerformanceCollector, m *vbox.PerformanceMetric) (MetricQuery, error) {
	var q MetricQuery
	var err error
	if q.Name, err = m.MetricName(ctx); err != nil {
		return q, err
	}
	if q.Unit, err = m.Unit(ctx); err != nil {
		return q, err
	}
	if q.Scale, err = m.Scale(ctx); err != nil {
		return q, err
	}
	if q.Object, err = m.Object(ctx); err != nil {
		return q, err
	}
	raw, err := collector.QueryMetricValues(ctx, q.Name, q.Object)
	if err != nil {
		return q, err
	}
	q.Values = Scale(raw, q.Scale)
	q.Summary = Summarize(q.Values)
	return q, nil
}

// Scale converts raw samples into unit values. A zero scale counts as 1.
func Scale(raw []int32, scale uint32) []float64 {
	div := float64(max(scale, 1))
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v) / div
	}
	return out
}

// Summarize computes the statistics of values. The standard deviation is
// the sample one and is zero for fewer than two values.
func Summarize(values []float64) Summary {
	s := Summary{Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	if len(values) == 1 {
		s.Mean, s.Median = values[0], values[0]
		return s
	}

	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}
