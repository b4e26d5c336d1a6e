// Command toolgate runs the tools-provider gateway and its management
// CLI.
//
// The gateway discovers callable operations from OpenAPI documents,
// MCP plugin servers, and the built-in catalogue, presents them as one
// normalized tool inventory, and executes invocations on behalf of AI
// agents while bridging authentication domains.
//
// Basic usage:
//
//	toolgate serve --config toolgate.yaml
//	toolgate source register --name orders --url https://orders.internal --type openapi
//	toolgate tool list
//	toolgate breaker reset
//
// Management commands talk to a running gateway over its admin HTTP
// surface; --server selects the instance (default 127.0.0.1:8721).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolgate",
		Short:         "Tools provider gateway for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildSourceCmd(),
		buildToolCmd(),
		buildCircuitCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "toolgate", version)
		},
	}
}

// resolveConfigPath picks the config file: the flag when given, the
// TOOLGATE_CONFIG variable, then toolgate.yaml in the working
// directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("TOOLGATE_CONFIG"); env != "" {
		return env
	}
	return "toolgate.yaml"
}
