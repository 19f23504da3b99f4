package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

const (
	FlagObject    = "object"
	FlagInterface = "interface"
)

// GetInvokeCmd returns the raw method call command.
func GetInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <method> [args...]",
		Short: "Call a method on a remote object and print the result as JSON",
		Long: "Call a method on a remote object. Without --object the call goes to the\n" +
			"IVirtualBox root. Lists are comma separated; references are object ids.",
		Args: cobra.MinimumNArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, e *env) error {
			object, err := cmd.Flags().GetString(FlagObject)
			if err != nil {
				return err
			}
			iface, err := cmd.Flags().GetString(FlagInterface)
			if err != nil {
				return err
			}

			ref := e.session.Root()
			if object != "" {
				kind, err := remote.ParseKind(iface)
				if err != nil {
					return err
				}
				ref = remote.NewRef(object, kind, e.session.ID())
			}
			m, err := e.session.Dispatcher().Table().Lookup(ref.Kind, args[0])
			if err != nil {
				return err
			}
			callArgs, err := m.ParseArgs(e.session.ID(), args[1:])
			if err != nil {
				return err
			}
			v, err := e.session.Invoke(e.ctx, ref, m.Name, callArgs...)
			if err != nil {
				return err
			}

			out, err := sonic.MarshalIndent(map[string]any{"type": m.Result.Type, "result": v}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}),
	}
	cmd.Flags().String(FlagObject, "", "object id (default: the IVirtualBox root)")
	cmd.Flags().String(FlagInterface, string(remote.KindMachine), "interface of --object")
	return cmd
}
