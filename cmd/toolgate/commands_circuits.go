package main

import (
	"github.com/spf13/cobra"
)

// buildCircuitCmd creates the "breaker" command group.
func buildCircuitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Manage circuit breakers",
		Long: `Manage the breakers guarding token grants and upstream tool calls.

A breaker that tripped open stays open until its cooldown elapses;
reset forces it closed immediately.`,
	}
	cmd.AddCommand(buildCircuitResetCmd())
	return cmd
}

func buildCircuitResetCmd() *cobra.Command {
	var (
		flags       adminFlags
		circuitType string
		key         string
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Force breakers closed",
		Long: `Reset circuit breakers to closed. Without flags every breaker
resets; --type narrows to one breaker family and --key to one breaker.`,
		Example: `  # Reset everything after an upstream incident
  toolgate breaker reset

  # Reset the token-grant breaker for one audience
  toolgate breaker reset --type token_grant --key https://orders.internal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			payload := map[string]any{}
			if circuitType != "" {
				payload["circuit_type"] = circuitType
			}
			if key != "" {
				payload["key"] = key
			}
			return printResult(client.post(cmd.Context(), "/admin/circuits/reset", payload))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&circuitType, "type", "", "breaker family: token_grant or tool_call")
	cmd.Flags().StringVar(&key, "key", "", "single breaker key within the family")
	return cmd
}
