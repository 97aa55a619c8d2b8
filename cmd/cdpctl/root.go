package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultServer = "http://127.0.0.1:8420"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	server    string
	token     string
	tokenFile string
	jsonOut   bool
	quiet     bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cdpctl",
		Short: "Control the cdp block-device control plane",
		Long: `cdpctl talks to a running cdpd over its HTTP API. It creates, removes,
opens and closes devices, shows their status, and issues raw control
commands.

Authenticate once with "cdpctl login"; the token is cached in the token
file and reused until it expires.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr("CDP_SERVER", defaultServer), "cdpd API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("CDP_TOKEN"), "Bearer token (overrides the token file)")
	flags.StringVar(&opts.tokenFile, "token-file", defaultTokenFile(), "Where login stores the token")
	flags.BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress all output except errors")

	rootCmd.AddCommand(
		newLoginCmd(opts),
		newHashKeyCmd(opts),
		newVersionCmd(opts),
		newCreateCmd(opts),
		newRemoveCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newOpenCmd(opts),
		newCloseCmd(opts),
		newAuditCmd(opts),
	)
	return rootCmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Helper functions for output

// printInfo prints a message unless --quiet is set.
func (o *globalOptions) printInfo(w io.Writer, format string, args ...any) {
	if !o.quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs v as indented JSON.
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultTokenFile is $XDG_CONFIG_HOME/cdp/token, or empty if no config
// directory can be determined.
func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cdp", "token")
}
