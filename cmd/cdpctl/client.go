package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	requestTimeout = 60 * time.Second

	// headerCommand carries the command of a raw control request.
	headerCommand = "X-CDP-Command"

	tokenPath = "/api/v1/auth/token"
)

// errNotLoggedIn is returned when no token is available for a protected call.
var errNotLoggedIn = errors.New("not logged in: run \"cdpctl login\" or set CDP_TOKEN")

// apiError is the structured error body returned by cdpd.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Errno   string `json:"errno,omitempty"`
}

func (e *apiError) Error() string {
	if e.Errno != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Errno)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// client is a thin JSON client for the cdpd API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// newClient builds a client from the global flags. Protected calls need
// a token from --token, CDP_TOKEN or the token file.
func (o *globalOptions) newClient() *client {
	token := o.token
	if token == "" && o.tokenFile != "" {
		if b, err := os.ReadFile(o.tokenFile); err == nil {
			token = strings.TrimSpace(string(b))
		}
	}
	return &client{
		base:  strings.TrimSuffix(o.server, "/"),
		token: token,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// doJSON sends body as JSON (if non-nil) and decodes the response into out
// (if non-nil).
func (c *client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	header := http.Header{}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, method, path, header, reader, out)
}

// control sends one raw command with its encoded parameter record.
func (c *client) control(ctx context.Context, command string, raw []byte, out any) error {
	header := http.Header{}
	header.Set(headerCommand, command)
	header.Set("Content-Type", "application/octet-stream")
	return c.do(ctx, http.MethodPost, "/api/v1/control", header, bytes.NewReader(raw), out)
}

func (c *client) do(ctx context.Context, method, path string, header http.Header, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized && c.token == "" && path != tokenPath {
			return errNotLoggedIn
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
