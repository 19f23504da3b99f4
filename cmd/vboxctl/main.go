package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/vboxremote/internal/config"
)

const (
	FlagEndpoint  = "endpoint"
	FlagTransport = "transport"
	FlagUser      = "user"
	FlagPassword  = "password"
	FlagRedis     = "redis"
	FlagDev       = "dev"
)

// cfg is loaded from the environment and the persistent flags before any
// command runs.
var cfg *config.Config

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:               "vboxctl",
	Short:             "Remote object client, bridge and sandbox for VirtualBox web services",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String(FlagEndpoint, "", "server address (default $VBOX_ENDPOINT)")
	f.String(FlagTransport, "", "grpc or http (default $VBOX_TRANSPORT)")
	f.String(FlagUser, "", "logon user (default $VBOX_USER)")
	f.String(FlagPassword, "", "logon password (default $VBOX_PASSWORD)")
	f.String(FlagRedis, "", "Redis address for snapshots, events and session records")
	f.Bool(FlagDev, false, "development logging")

	rootCmd.AddCommand(
		GetSandboxCmd(),
		GetBridgeCmd(),
		GetMachinesCmd(),
		GetInvokeCmd(),
		GetStartCmd(),
		GetWatchCmd(),
		GetEventsCmd(),
		GetMetricsCmd(),
		GetFreezeCmd(),
		GetThawCmd(),
	)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if v, _ := flags.GetString(FlagEndpoint); v != "" {
		c.Remote.Endpoint = v
	}
	if v, _ := flags.GetString(FlagTransport); v != "" {
		c.Remote.Transport = v
	}
	if v, _ := flags.GetString(FlagUser); v != "" {
		c.Remote.User = v
	}
	if v, _ := flags.GetString(FlagPassword); v != "" {
		c.Remote.Password = v
	}
	if v, _ := flags.GetString(FlagRedis); v != "" {
		c.Redis.Addr, c.Redis.Enabled = v, true
	}
	if dev, _ := flags.GetBool(FlagDev); dev {
		c.Logging.Development, c.Logging.Level = true, "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
