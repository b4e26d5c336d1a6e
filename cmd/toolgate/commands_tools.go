package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// buildToolCmd creates the "tool" command group.
func buildToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect and invoke the tool inventory",
	}
	cmd.AddCommand(
		buildToolListCmd(),
		buildToolEnableCmd(),
		buildToolDisableCmd(),
		buildToolExecuteCmd(),
		buildToolCleanupCmd(),
	)
	return cmd
}

func buildToolListCmd() *cobra.Command {
	var (
		flags          adminFlags
		sourceID       string
		status         string
		includeDeleted bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tool inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if sourceID != "" {
				q.Set("source_id", sourceID)
			}
			if status != "" {
				q.Set("status", status)
			}
			if includeDeleted {
				q.Set("include_deleted", "true")
			}
			path := "/admin/tools"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return printResult(client.get(cmd.Context(), path))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sourceID, "source", "", "restrict to one source id")
	cmd.Flags().StringVar(&status, "status", "", "filter by lifecycle status: active, disabled, deprecated, deleted")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include deleted tombstones")
	return cmd
}

func buildToolEnableCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "enable [id]",
		Short: "Enable a disabled tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return printResult(client.post(cmd.Context(), "/admin/tools/"+args[0]+"/enable", struct{}{}))
		},
	}
	flags.register(cmd)
	return cmd
}

func buildToolDisableCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "disable [id]",
		Short: "Disable a tool without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return printResult(client.post(cmd.Context(), "/admin/tools/"+args[0]+"/disable", struct{}{}))
		},
	}
	flags.register(cmd)
	return cmd
}

func buildToolExecuteCmd() *cobra.Command {
	var (
		flags        adminFlags
		sourceID     string
		argsJSON     string
		argPairs     []string
		noValidation bool
		promptToken  bool
	)
	cmd := &cobra.Command{
		Use:   "execute [name]",
		Short: "Invoke a tool",
		Long: `Invoke a tool by name through a running gateway.

Arguments come from --args as a JSON object, or from repeated --arg
key=value pairs (string values only). The --token flag supplies the
agent token forwarded to token-exchange sources.`,
		Example: `  toolgate tool execute get_pet --arg petId=42
  toolgate tool execute create_order --args '{"sku":"A-100","qty":3}' --token "$AGENT_TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptToken {
				token, err := readSecret("Agent token: ")
				if err != nil {
					return err
				}
				flags.token = token
			}
			client, err := flags.client()
			if err != nil {
				return err
			}
			arguments := map[string]any{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}
			for _, pair := range argPairs {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --arg %q: want key=value", pair)
				}
				arguments[key] = value
			}
			payload := map[string]any{
				"tool_name": args[0],
				"arguments": arguments,
			}
			if sourceID != "" {
				payload["source_id"] = sourceID
			}
			if noValidation {
				validate := false
				payload["validate_schema"] = &validate
			}
			return printResult(client.post(cmd.Context(), "/admin/tools/execute", payload))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sourceID, "source", "", "disambiguate when the name exists in several sources")
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "tool argument as key=value (repeatable)")
	cmd.Flags().BoolVar(&noValidation, "no-validate", false, "skip JSON Schema validation of the arguments")
	cmd.Flags().BoolVar(&promptToken, "prompt-token", false, "read the agent token from the terminal without echo")
	return cmd
}

// readSecret reads one line from the terminal with echo disabled, so
// tokens stay out of shell history and process listings.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func buildToolCleanupCmd() *cobra.Command {
	var (
		flags adminFlags
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove tools whose source no longer exists",
		Long: `List orphaned tools, those whose owning source was deleted out of
band. A dry run by default; --apply removes them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			path := "/admin/tools/cleanup"
			if apply {
				path += "?apply=true"
			}
			return printResult(client.post(cmd.Context(), path, struct{}{}))
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&apply, "apply", false, "remove the orphans instead of only listing them")
	return cmd
}
