package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/domain/perf"
)

const (
	FlagNames   = "names"
	FlagPeriod  = "period"
	FlagSamples = "samples"
	FlagCollect = "collect"
)

// GetMetricsCmd returns the performance metrics command.
func GetMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics <machine>",
		Short: "Collect and summarize performance metrics of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, e *env) error {
			names, err := cmd.Flags().GetStringSlice(FlagNames)
			if err != nil {
				return err
			}
			period, err := cmd.Flags().GetUint32(FlagPeriod)
			if err != nil {
				return err
			}
			samples, err := cmd.Flags().GetUint32(FlagSamples)
			if err != nil {
				return err
			}
			collect, err := cmd.Flags().GetDuration(FlagCollect)
			if err != nil {
				return err
			}

			m, err := e.machine(args[0])
			if err != nil {
				return err
			}
			collector, err := e.vb.PerformanceCollector(e.ctx)
			if err != nil {
				return err
			}
			if period > 0 {
				if _, err := perf.Setup(e.ctx, collector, m.Ref(), names, period, samples); err != nil {
					return err
				}
				select {
				case <-time.After(collect):
				case <-e.ctx.Done():
					return e.ctx.Err()
				}
			}

			results, err := perf.Query(e.ctx, collector, m.Ref(), names)
			if err != nil {
				return err
			}
			table := uitable.New()
			table.AddRow("METRIC", "UNIT", "N", "MEAN", "STDDEV", "MIN", "MEDIAN", "MAX")
			for _, r := range results {
				s := r.Summary
				table.AddRow(r.Name, r.Unit, s.Count,
					num(s.Mean), num(s.StdDev), num(s.Min), num(s.Median), num(s.Max))
			}
			for _, col := range []int{2, 3, 4, 5, 6, 7} {
				table.RightAlign(col)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		}),
	}
	cmd.Flags().StringSlice(FlagNames, []string{"CPU/Load/*", "RAM/Usage/*"}, "metric names or patterns")
	cmd.Flags().Uint32(FlagPeriod, 1, "sampling period in seconds; 0 queries without setting up")
	cmd.Flags().Uint32(FlagSamples, 10, "samples kept per metric")
	cmd.Flags().Duration(FlagCollect, 5*time.Second, "how long to collect before querying")
	return cmd
}

func num(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
