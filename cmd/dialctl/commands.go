package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// buildCallCmd creates the "call" command that places one call.
func buildCallCmd(opts *globalOptions) *cobra.Command {
	var (
		kind    string
		agentID string
	)
	cmd := &cobra.Command{
		Use:   "call <target-id>",
		Short: "Place a single call to a patient or lead",
		Example: `  # Call a patient with the default agent
  dialctl call 42

  # Call a lead with a specific agent
  dialctl call 7 --kind lead --agent agent_abc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"target_id": args[0], "target_kind": kind}
			if agentID != "" {
				body["agent_id"] = agentID
			}
			var out map[string]any
			if err := opts.client().postJSON(cmd.Context(), "/v1/calls", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "patient", "Target kind: patient or lead")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id (defaults to the server's configured agent)")
	return cmd
}

func buildStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a call session and its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().getJSON(cmd.Context(), "/v1/calls/"+url.PathEscape(args[0]), &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func buildRefreshCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <session-id>",
		Short: "Reconcile a call session from the provider when webhooks were missed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			path := "/v1/calls/" + url.PathEscape(args[0]) + "/refresh"
			if err := opts.client().postJSON(cmd.Context(), path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// buildBulkCmd creates the "bulk" command group for campaigns.
func buildBulkCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Start and control bulk campaigns over uncalled leads",
	}

	var agentID string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a campaign over every lead not yet called",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if agentID != "" {
				body["agent_id"] = agentID
			}
			var out map[string]any
			if err := opts.client().postJSON(cmd.Context(), "/v1/bulk-calls", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	start.Flags().StringVar(&agentID, "agent", "", "Agent id for every call in the campaign")

	cmd.AddCommand(
		start,
		bulkActionCmd(opts, "status", "Show campaign progress and results", http.MethodGet, ""),
		bulkActionCmd(opts, "report", "Show aggregated call outcomes for a campaign", http.MethodGet, "/report"),
		bulkActionCmd(opts, "pause", "Stop placing further calls", http.MethodPost, "/pause"),
		bulkActionCmd(opts, "resume", "Resume a paused campaign", http.MethodPost, "/resume"),
	)
	return cmd
}

// bulkActionCmd builds a subcommand addressing one campaign.
func bulkActionCmd(opts *globalOptions, use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bulk-session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/bulk-calls/" + url.PathEscape(args[0]) + suffix
			var out map[string]any
			if err := opts.client().do(cmd.Context(), method, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// buildTokenCmd requests a token pair from a non-production server.
func buildTokenCmd(opts *globalOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				AccessToken string `json:"access_token"`
			}
			body := map[string]string{"user_id": args[0], "role": role}
			if err := opts.client().postJSON(cmd.Context(), "/v1/auth/token", body, &out); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out.AccessToken)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "operator", "Role claim: admin, operator or viewer")
	return cmd
}
