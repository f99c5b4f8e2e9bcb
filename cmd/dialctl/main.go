// Command dialctl drives the dialer API from a terminal: place single calls,
// start and steer bulk campaigns, and inspect call sessions.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"outbound-dialer/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envServer = "DIALER_SERVER"
	envToken  = "DIALER_TOKEN"
)

type globalOptions struct {
	server string
	token  string
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(logger.New(os.Getenv("APP_ENV")))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:          "dialctl",
		Short:        "Control the outbound dialer API",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr(envServer, "http://localhost:8080"),
		"Dialer API base URL (or set "+envServer+")")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken),
		"Bearer access token (or set "+envToken+")")

	rootCmd.AddCommand(
		buildCallCmd(opts),
		buildStatusCmd(opts),
		buildRefreshCmd(opts),
		buildBulkCmd(opts),
		buildTokenCmd(opts),
	)
	return rootCmd
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(o.server, o.token)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
