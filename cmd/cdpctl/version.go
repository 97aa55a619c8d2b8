package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newVersionCmd(opts *globalOptions) *cobra.Command {
	var clientOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := map[string]string{
				"client":  version,
				"commit":  commit,
				"built":   date,
				"server":  "",
				"control": "",
			}
			if !clientOnly {
				var health struct {
					Version string `json:"version"`
				}
				c := opts.newClient()
				if err := c.doJSON(cmd.Context(), http.MethodGet, "/api/v1/health", nil, &health); err != nil {
					return err
				}
				out["server"] = health.Version

				// The control interface version needs a token; report it when
				// one is available.
				if c.token != "" {
					var res struct {
						Version string `json:"version"`
					}
					if err := c.control(cmd.Context(), "VERSION", nil, &res); err == nil {
						out["control"] = res.Version
					}
				}
			}

			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Client:  %s (commit %s, built %s)\n", version, commit, date)
			if out["server"] != "" {
				fmt.Fprintf(w, "Server:  %s\n", out["server"])
			}
			if out["control"] != "" {
				fmt.Fprintf(w, "Control: %s\n", out["control"])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clientOnly, "client", false, "Only print the client version")
	return cmd
}
