package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

const (
	FlagStore = "store"
	FlagKey   = "key"
	FlagFile  = "file"
)

// GetFreezeCmd returns the snapshot command. The session stays logged on
// so that thaw can reattach to it.
func GetFreezeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freeze <machine>",
		Short: "Freeze a machine and its list properties into a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, e *env) error {
			names, err := cmd.Flags().GetStringSlice(FlagNames)
			if err != nil {
				return err
			}
			store, err := cmd.Flags().GetBool(FlagStore)
			if err != nil {
				return err
			}
			if store && e.client.snapshots == nil {
				return errors.New("--store needs --redis")
			}

			m, err := e.machine(args[0])
			if err != nil {
				return err
			}
			if err := m.CacheProperties(e.ctx); err != nil {
				return err
			}
			for _, name := range names {
				if _, err := e.session.Invoke(e.ctx, m.Ref(), name); err != nil {
					return fmt.Errorf("read %s: %w", name, err)
				}
			}
			c, err := e.session.Freeze(m.Ref(), append(names, vbox.ListProperties...)...)
			if err != nil {
				return err
			}
			e.client.keep = true

			w := cmd.OutOrStdout()
			if store {
				key := id.NewObjectID().String()
				if err := e.client.snapshots.Save(e.ctx, key, c); err != nil {
					return err
				}
				fmt.Fprintln(w, key)
				return nil
			}
			data, err := sonic.MarshalIndent(c, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
			return nil
		}),
	}
	cmd.Flags().StringSlice(FlagNames, nil, "extra getters to read and freeze, e.g. getMemorySize")
	cmd.Flags().Bool(FlagStore, false, "save the snapshot in Redis and print its key")
	return cmd
}

// GetThawCmd returns the restore command.
func GetThawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thaw",
		Short: "Reattach to a snapshot's session and restore it into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cmd.Flags().GetString(FlagKey)
			if err != nil {
				return err
			}
			file, err := cmd.Flags().GetString(FlagFile)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("thaw needs --redis to find the snapshot's session")
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			c, err := connect(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			var container snapshot.Container
			switch {
			case key != "":
				if container, err = c.snapshots.Load(ctx, key); err != nil {
					return err
				}
			case file != "":
				if container, err = readContainer(cmd.InOrStdin(), file); err != nil {
					return err
				}
			default:
				return errors.New("one of --key or --file is required")
			}

			s, err := c.sessions.Reattach(ctx, container.SessionID, cfg.Remote.Password)
			if err != nil {
				return err
			}
			ref, err := s.Thaw(container, snapshot.WithReplace())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s reattached as %s\n", container.SessionID, s.ID())
			values := s.Cache().Snapshot(ref.ObjectID)
			names := make([]string, 0, len(values))
			for n := range values {
				names = append(names, n)
			}
			sort.Strings(names)
			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("PROPERTY", "VALUE")
			for _, n := range names {
				table.AddRow(n, values[n])
			}
			fmt.Fprintln(w, table)
			return nil
		},
	}
	cmd.Flags().String(FlagKey, "", "key of a snapshot stored by freeze --store")
	cmd.Flags().String(FlagFile, "", "snapshot JSON file, - for stdin")
	return cmd
}

func readContainer(stdin io.Reader, file string) (snapshot.Container, error) {
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return snapshot.Container{}, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return snapshot.Container{}, err
	}
	return snapshot.Decode(data)
}
