// Command mesh runs one role of the service mesh, or all of them in one
// process on the in-memory bus.
//
//	mesh gateway   --config configs/mesh.yaml
//	mesh discovery --port 8084
//	mesh all
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/KOMKZ/yogan-mesh/application"
	"github.com/KOMKZ/yogan-mesh/config"
	"github.com/KOMKZ/yogan-mesh/flagx"
	"github.com/spf13/cobra"
)

var version = "dev"

// serveFlags override the matching configuration keys when given.
type serveFlags struct {
	Host    string   `flag:"host" usage:"listen address" config:"server.host"`
	Port    int      `flag:"port,p" usage:"listen port, 0 for the role default" config:"server.port"`
	Mode    string   `flag:"mode" usage:"gin mode: debug, release or test" config:"server.mode"`
	Bus     string   `flag:"bus" usage:"event bus: kafka or memory" config:"bus.type"`
	Brokers []string `flag:"brokers" usage:"kafka brokers" config:"kafka.brokers"`
	Level   string   `flag:"log-level" usage:"log level" config:"logger.level"`
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "mesh",
		Short:        "Service mesh edge gateway with discovery, circuit breaking and rate limiting",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile, "configuration file")

	for _, role := range application.Roles() {
		root.AddCommand(newServeCmd(role, &configFile))
	}
	return root
}

var roleSummary = map[application.Role]string{
	application.RoleGateway:   "Run the API gateway",
	application.RoleDiscovery: "Run the service discovery registry",
	application.RoleBreaker:   "Run the circuit breaker service",
	application.RoleRateLimit: "Run the rate limit coordinator",
	application.RoleAll:       "Run every role in one process on the in-memory bus",
}

func newServeCmd(role application.Role, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(role),
		Short: roleSummary[role],
		Args:  cobra.NoArgs,
	}
	bindings, err := flagx.Bind(cmd.Flags(), &serveFlags{})
	if err != nil {
		panic(fmt.Sprintf("bind %s flags: %v", role, err))
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		app, err := application.New(cmd.Context(), role, application.Options{
			ConfigFile:   *configFile,
			Flags:        cmd.Flags(),
			FlagBindings: bindings,
			Version:      version,
		})
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	}
	return cmd
}
