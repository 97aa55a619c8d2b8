package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cdp-core/internal/control"
	"github.com/nerrad567/cdp-core/internal/device"
)

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var host, repository, metadata string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a device",
		Long: `The create command registers a new device backed by three block devices,
each given as major:minor.

Example:
  cdpctl create vol0 --host 8:16 --repository 8:32 --metadata 8:48`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for flag, value := range map[string]string{
				"host":       host,
				"repository": repository,
				"metadata":   metadata,
			} {
				if _, err := device.ParseDevNum(value); err != nil {
					return fmt.Errorf("--%s: %w", flag, err)
				}
			}

			var info device.Info
			body := map[string]string{
				"name":       args[0],
				"host":       host,
				"repository": repository,
				"metadata":   metadata,
			}
			if err := opts.newClient().doJSON(cmd.Context(), http.MethodPost, "/api/v1/devices", body, &info); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			opts.printInfo(cmd.OutOrStdout(), "Created %s (minor %d)\n", info.Name, info.Minor)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Host block device (major:minor)")
	cmd.Flags().StringVar(&repository, "repository", "", "Repository block device (major:minor)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata block device (major:minor)")
	for _, name := range []string{"host", "repository", "metadata"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flag is defined above
	}
	return cmd
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a device",
		Long: `The remove command unregisters a device. It fails with EBUSY while the
device is open.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info device.Info
			if err := opts.newClient().doJSON(cmd.Context(), http.MethodDelete, devicePath(args[0]), nil, &info); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			opts.printInfo(cmd.OutOrStdout(), "Removed %s (minor %d)\n", info.Name, info.Minor)
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show the status of a device",
		Long: `The status command shows one device. Without a name it issues DEV_STATUS
with an empty record, which resolves the only device when cdpd runs the
single-device policy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()
			var info device.Info
			if len(args) == 1 {
				if err := c.doJSON(cmd.Context(), http.MethodGet, devicePath(args[0]), nil, &info); err != nil {
					return err
				}
			} else {
				raw, err := control.Record{}.MarshalBinary()
				if err != nil {
					return err
				}
				var res control.Result
				if err := c.control(cmd.Context(), "DEV_STATUS", raw, &res); err != nil {
					return err
				}
				if res.Device == nil {
					return errors.New("DEV_STATUS returned no device")
				}
				info = *res.Device
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			printDevice(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Devices []device.Info `json:"devices"`
				Count   int           `json:"count"`
			}
			if err := opts.newClient().doJSON(cmd.Context(), http.MethodGet, "/api/v1/devices", nil, &resp); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp.Devices)
			}

			w := cmd.OutOrStdout()
			if len(resp.Devices) == 0 {
				opts.printInfo(w, "No devices\n")
				return nil
			}
			fmt.Fprintf(w, "%-20s %6s %-8s %5s %-10s %-10s %-10s\n",
				"NAME", "MINOR", "STATE", "OPEN", "HOST", "REPO", "META")
			for _, d := range resp.Devices {
				fmt.Fprintf(w, "%-20s %6d %-8s %5d %-10s %-10s %-10s\n",
					d.Name, d.Minor, d.State, d.OpenCount, d.Host, d.Repository, d.Metadata)
			}
			return nil
		},
	}
}

func newOpenCmd(opts *globalOptions) *cobra.Command {
	return openCloseCmd(opts, "open", "Record an open of a device", "Opened")
}

func newCloseCmd(opts *globalOptions) *cobra.Command {
	return openCloseCmd(opts, "close", "Record a close of a device", "Closed")
}

func openCloseCmd(opts *globalOptions, verb, short, past string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info device.Info
			if err := opts.newClient().doJSON(cmd.Context(), http.MethodPost, devicePath(args[0])+"/"+verb, nil, &info); err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			opts.printInfo(cmd.OutOrStdout(), "%s %s (open count %d)\n", past, info.Name, info.OpenCount)
			return nil
		},
	}
}

func devicePath(name string) string {
	return "/api/v1/devices/" + url.PathEscape(name)
}

func printDevice(w io.Writer, d device.Info) {
	fmt.Fprintf(w, "Name:        %s\n", d.Name)
	fmt.Fprintf(w, "Minor:       %d\n", d.Minor)
	fmt.Fprintf(w, "Generation:  %d\n", d.Generation)
	fmt.Fprintf(w, "State:       %s\n", d.State)
	fmt.Fprintf(w, "Open count:  %d\n", d.OpenCount)
	fmt.Fprintf(w, "Holders:     %d\n", d.Holders)
	fmt.Fprintf(w, "Host:        %s\n", d.Host)
	fmt.Fprintf(w, "Repository:  %s\n", d.Repository)
	fmt.Fprintf(w, "Metadata:    %s\n", d.Metadata)
	if d.Backing.Kind != "" {
		fmt.Fprintf(w, "Backing:     %s queue %d (%s)\n", d.Backing.Kind, d.Backing.Queue, d.Backing.Disk)
	}
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:     %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
