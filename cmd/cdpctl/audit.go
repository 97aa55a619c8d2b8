package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cdp-core/internal/audit"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var (
		command string
		caller  string
		target  string
		failed  bool
		limit   int
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the control command audit log",
		Long: `The audit command lists recorded control dispatches, newest first.
Requires an admin token.

Example:
  cdpctl audit --failed --limit 20
  cdpctl audit --command DEV_REMOVE --target vol0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if command != "" {
				q.Set("command", command)
			}
			if caller != "" {
				q.Set("caller", caller)
			}
			if target != "" {
				q.Set("target", target)
			}
			if failed {
				q.Set("failed", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/api/v1/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var res audit.ListResult
			if err := opts.newClient().doJSON(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}

			w := cmd.OutOrStdout()
			if len(res.Logs) == 0 {
				opts.printInfo(w, "No audit entries\n")
				return nil
			}
			fmt.Fprintf(w, "%-19s %-12s %-16s %-20s %-10s\n", "TIME", "COMMAND", "CALLER", "TARGET", "RESULT")
			for _, l := range res.Logs {
				result := "ok"
				if l.Errno != 0 {
					result = l.Error
				}
				fmt.Fprintf(w, "%-19s %-12s %-16s %-20s %-10s\n",
					l.CreatedAt.Format("2006-01-02 15:04:05"), l.Command, l.CallerID, l.Target, result)
			}
			opts.printInfo(w, "Showing %d of %d\n", len(res.Logs), res.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Filter by command (e.g. DEV_CREATE)")
	cmd.Flags().StringVar(&caller, "caller", "", "Filter by caller ID")
	cmd.Flags().StringVar(&target, "target", "", "Filter by device name")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only show dispatches that failed")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (server default 50)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}
