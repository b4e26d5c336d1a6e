package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tesserahq/toolgate/pkg/models"
)

// adminFlags are shared by every command that talks to a running
// gateway.
type adminFlags struct {
	configPath string
	serverAddr string
	token      string
}

func (f *adminFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the configuration file")
	cmd.Flags().StringVarP(&f.serverAddr, "server", "s", "", "gateway address (host:port or URL)")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token sent with the request")
}

func (f *adminFlags) client() (*apiClient, error) {
	baseURL, err := resolveBaseURL(resolveConfigPath(f.configPath), f.serverAddr)
	if err != nil {
		return nil, err
	}
	return newAPIClient(baseURL, f.token), nil
}

// buildSourceCmd creates the "source" command group.
func buildSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage tool sources",
		Long: `Manage the registered tool sources.

A source is one upstream system tools are discovered from: an OpenAPI
document, an MCP plugin server, or the built-in catalogue. Commands
talk to a running gateway.`,
	}
	cmd.AddCommand(
		buildSourceListCmd(),
		buildSourceRegisterCmd(),
		buildSourceUpdateCmd(),
		buildSourceDeleteCmd(),
		buildSourceRefreshCmd(),
	)
	return cmd
}

func buildSourceListCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return printResult(client.get(cmd.Context(), "/admin/sources"))
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSourceRegisterCmd() *cobra.Command {
	var (
		flags      adminFlags
		id         string
		name       string
		url        string
		specURL    string
		sourceType string
		authMode   string
		audience   string
		scopes     []string
		mcpURL     string
		mcpCommand string
		mcpArgs    []string
		singleton  bool
		noRefresh  bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new source",
		Long: `Register a source and run the initial inventory ingest.

OpenAPI sources need --url (and --spec-url when the document lives at a
different address). MCP sources need either --mcp-url for a remote
server or --mcp-command for a local plugin process.`,
		Example: `  # An OpenAPI backend using token exchange
  toolgate source register --name orders --type openapi \
    --url https://orders.internal --auth token_exchange \
    --audience https://orders.internal

  # A local MCP plugin
  toolgate source register --name fs-tools --type mcp \
    --url stdio://fs-tools --mcp-command ./fs-tools-server --singleton`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			payload := map[string]any{
				"id":          id,
				"name":        name,
				"url":         url,
				"source_type": sourceType,
			}
			if specURL != "" {
				payload["spec_url"] = specURL
			}
			if authMode != "" {
				payload["auth_mode"] = authMode
			}
			if audience != "" {
				payload["default_audience"] = audience
			}
			if len(scopes) > 0 {
				payload["required_scopes"] = scopes
			}
			if mcpURL != "" || mcpCommand != "" {
				mcp := &models.MCPConfig{
					ServerURL: mcpURL,
					Command:   mcpCommand,
					Args:      mcpArgs,
				}
				if singleton {
					mcp.Lifecycle = models.LifecycleSingleton
				}
				payload["mcp"] = mcp
			}
			if noRefresh {
				payload["skip_refresh"] = true
			}
			return printResult(client.post(cmd.Context(), "/admin/sources", payload))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "explicit source id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "human-readable source name")
	cmd.Flags().StringVar(&url, "url", "", "upstream base URL")
	cmd.Flags().StringVar(&specURL, "spec-url", "", "OpenAPI document URL when it differs from --url")
	cmd.Flags().StringVar(&sourceType, "type", "openapi", "source type: openapi, mcp, or builtin")
	cmd.Flags().StringVar(&authMode, "auth", "", "auth mode: none, api_key, http_basic, client_credentials, token_exchange")
	cmd.Flags().StringVar(&audience, "audience", "", "default token-exchange audience")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "required scope (repeatable)")
	cmd.Flags().StringVar(&mcpURL, "mcp-url", "", "remote MCP server URL")
	cmd.Flags().StringVar(&mcpCommand, "mcp-command", "", "local MCP plugin command")
	cmd.Flags().StringSliceVar(&mcpArgs, "mcp-arg", nil, "argument for the MCP plugin command (repeatable)")
	cmd.Flags().BoolVar(&singleton, "singleton", false, "keep one shared MCP connection instead of per-call processes")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "skip the initial inventory ingest")
	_ = cmd.MarkFlagRequired("name") //nolint:errcheck
	_ = cmd.MarkFlagRequired("url")  //nolint:errcheck
	return cmd
}

func buildSourceUpdateCmd() *cobra.Command {
	var (
		flags         adminFlags
		name          string
		url           string
		specURL       string
		clearSpecURL  bool
		authMode      string
		audience      string
		clearAudience bool
		scopes        []string
		refresh       bool
	)
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a source",
		Long: `Apply a partial update to a source. Only the flags given change;
use the clear flags to unset optional fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			payload := map[string]any{}
			set := func(flag, key, value string) {
				if cmd.Flags().Changed(flag) {
					payload[key] = value
				}
			}
			set("name", "name", name)
			set("url", "url", url)
			set("spec-url", "spec_url", specURL)
			set("auth", "auth_mode", authMode)
			set("audience", "default_audience", audience)
			if cmd.Flags().Changed("scope") {
				payload["required_scopes"] = scopes
			}
			if clearSpecURL {
				payload["clear_spec_url"] = true
			}
			if clearAudience {
				payload["clear_default_audience"] = true
			}
			if refresh {
				payload["refresh"] = true
			}
			if len(payload) == 0 {
				return fmt.Errorf("nothing to update: pass at least one field flag")
			}
			return printResult(client.post(cmd.Context(), "/admin/sources/"+args[0], payload))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "new source name")
	cmd.Flags().StringVar(&url, "url", "", "new upstream base URL")
	cmd.Flags().StringVar(&specURL, "spec-url", "", "new OpenAPI document URL")
	cmd.Flags().BoolVar(&clearSpecURL, "clear-spec-url", false, "unset the OpenAPI document URL")
	cmd.Flags().StringVar(&authMode, "auth", "", "new auth mode")
	cmd.Flags().StringVar(&audience, "audience", "", "new default token-exchange audience")
	cmd.Flags().BoolVar(&clearAudience, "clear-audience", false, "unset the default audience")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "replacement required scopes (repeatable)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a re-ingest after the update")
	return cmd
}

func buildSourceDeleteCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a source",
		Long: `Delete a source. Its tools are deprecated first so in-flight
conversations see tombstones instead of dangling references.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			return printResult(client.delete(cmd.Context(), "/admin/sources/"+args[0]))
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSourceRefreshCmd() *cobra.Command {
	var (
		flags adminFlags
		force bool
	)
	cmd := &cobra.Command{
		Use:   "refresh [id]",
		Short: "Re-ingest a source's inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			path := "/admin/sources/" + args[0] + "/refresh"
			if force {
				path += "?force=true"
			}
			return printResult(client.post(cmd.Context(), path, struct{}{}))
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "run the full diff even when the inventory hash is unchanged")
	return cmd
}
