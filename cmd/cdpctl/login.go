package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cdp-core/internal/auth"
)

// tokenFilePermissions keeps the cached token private to the user.
const tokenFilePermissions = 0600

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var (
		subject string
		keyFile string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange an access key for a token",
		Long: `The login command exchanges an admin or operator access key for a bearer
token and stores it in the token file.

The key is read from --key-file, or from standard input.

Example:
  cdpctl login --subject alice < ~/.cdp/admin.key
  cdpctl login --subject ci --key-file /run/secrets/cdp-operator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd.InOrStdin(), keyFile)
			if err != nil {
				return err
			}
			return runLogin(cmd, opts, subject, key)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", envOr("USER", "cdpctl"), "Identity recorded in the audit log")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the access key")
	return cmd
}

func runLogin(cmd *cobra.Command, opts *globalOptions, subject, key string) error {
	if opts.tokenFile == "" {
		return errors.New("no token file: pass --token-file")
	}

	var token auth.Token
	c := opts.newClient()
	c.token = ""
	if err := c.doJSON(cmd.Context(), http.MethodPost, tokenPath,
		map[string]string{"subject": subject, "key": key}, &token); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.tokenFile), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(opts.tokenFile, []byte(token.AccessToken+"\n"), tokenFilePermissions); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	if opts.jsonOut {
		return printJSON(cmd.OutOrStdout(), token)
	}
	opts.printInfo(cmd.OutOrStdout(), "Logged in as %s (%s), token valid for %ds\n", subject, token.Role, token.ExpiresIn)
	return nil
}

// readKey returns the first line of keyFile, or of in when keyFile is empty.
func readKey(in io.Reader, keyFile string) (string, error) {
	if keyFile != "" {
		f, err := os.Open(keyFile)
		if err != nil {
			return "", fmt.Errorf("opening key file: %w", err)
		}
		defer f.Close()
		in = f
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", errors.New("empty access key")
	}
	return key, nil
}

func newHashKeyCmd(opts *globalOptions) *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Print the Argon2id hash of an access key",
		Long: `The hash-key command hashes an access key for security.keys.admin_hash or
security.keys.operator_hash in the cdpd config. The key itself never
needs to be stored on the server.

Example:
  head -c 32 /dev/urandom | base64 | tee admin.key | cdpctl hash-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd.InOrStdin(), keyFile)
			if err != nil {
				return err
			}
			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"hash": hash})
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "File holding the access key")
	return cmd
}
