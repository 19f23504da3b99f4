package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

const FlagCount = "count"

// GetEventsCmd returns the machine event listener.
func GetEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print machine state changes published over Redis",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, _ []string, e *env) error {
			if e.client.bus == nil {
				return errors.New("events need --redis")
			}
			limit, err := cmd.Flags().GetInt(FlagCount)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(e.ctx)
			defer cancel()

			sub, err := e.client.bus.Subscribe(ctx, events.MachineStateChanged)
			if err != nil {
				return err
			}
			defer sub.Close()

			w := cmd.OutOrStdout()
			seen := 0
			listener := events.NewListener(e.session, e.client.logger.Component("events"), nil)
			err = listener.Run(ctx, sub, func(ctx context.Context, ref remote.Ref, ev events.Event) {
				// the thawed snapshot answers these without a server call
				m := vbox.NewMachine(e.session, ref)
				name, err := m.Name(ctx)
				if err != nil {
					e.client.logger.Warn("Cannot read machine name", zap.Stringer("machine", ref), zap.Error(err))
					name = ref.ObjectID
				}
				fmt.Fprintf(w, "%s  %-20s %s\n", ev.At.Format("15:04:05.000"), name, ev.State)
				if seen++; limit > 0 && seen >= limit {
					cancel()
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().Int(FlagCount, 0, "exit after this many events (0: run until interrupted)")
	return cmd
}
