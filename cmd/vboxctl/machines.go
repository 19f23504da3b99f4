package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/progress"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

const (
	FlagFrontend = "frontend"
	FlagNoWait   = "no-wait"
)

// GetMachinesCmd returns the machine list command.
func GetMachinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "machines",
		Short: "List registered machines",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, _ []string, e *env) error {
			machines, err := e.vb.Machines(e.ctx)
			if err != nil {
				return err
			}
			table := uitable.New()
			table.MaxColWidth = 40
			table.AddRow("NAME", "STATE", "OS TYPE", "SNAPSHOT", "ID")
			for _, m := range machines {
				sum, err := m.Summarize(e.ctx)
				if err != nil {
					return err
				}
				table.AddRow(sum.Name, sum.State, sum.OSTypeID, sum.CurrentSnapshot, sum.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		}),
	}
}

// GetStartCmd returns the machine start command.
func GetStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <machine>",
		Short: "Start a machine and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, e *env) error {
			frontend, err := cmd.Flags().GetString(FlagFrontend)
			if err != nil {
				return err
			}
			noWait, err := cmd.Flags().GetBool(FlagNoWait)
			if err != nil {
				return err
			}
			m, err := e.machine(args[0])
			if err != nil {
				return err
			}
			p, err := m.Start(e.ctx, e.vb, frontend)
			if err != nil {
				return err
			}
			if noWait {
				// references only resolve in the session that received them
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.session.ID(), p.Ref().ObjectID)
				e.client.keep = true
				return nil
			}
			return follow(e, cmd.OutOrStdout(), p)
		}),
	}
	cmd.Flags().String(FlagFrontend, "headless", "frontend: gui, headless, sdl or separate")
	cmd.Flags().Bool(FlagNoWait, false, "print the session and progress ids and exit, keeping the session")
	return cmd
}

// GetWatchCmd returns the progress watch command. It resumes the session
// start --no-wait left open, then logs it off.
func GetWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session> <progress>",
		Short: "Follow a progress object of a session left open by start --no-wait",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Redis.Enabled {
				return errors.New("watch needs --redis to find the session")
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			s, err := c.sessions.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			e := &env{ctx: ctx, client: c, session: s, vb: vbox.NewVirtualBox(s, s.Root())}
			p := vbox.NewProgress(s, remote.NewRef(args[1], remote.KindProgress, s.ID()))
			if err := follow(e, cmd.OutOrStdout(), p); err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				return err
			}
			return nil
		},
	}
}

// follow prints every update of p and fails when the operation does.
func follow(e *env, w io.Writer, p *vbox.Progress) error {
	var last progress.Update
	for u := range p.Watch(e.ctx, progress.WithInterval(cfg.Progress.Interval)) {
		last = u
		line := fmt.Sprintf("%3d%%  %s", u.Percent, u.OperationDescription)
		if u.OperationCount > 1 {
			line += fmt.Sprintf(" (%d/%d)", u.Operation+1, u.OperationCount)
		}
		if u.ETA > 0 {
			line += "  eta " + u.ETA.Round(time.Second).String()
		}
		fmt.Fprintln(w, line)
	}
	switch last.State {
	case progress.Succeeded:
		fmt.Fprintln(w, "done")
		return nil
	case progress.Failed:
		return fmt.Errorf("operation failed: %s", last.ErrorText)
	}
	return e.ctx.Err()
}
