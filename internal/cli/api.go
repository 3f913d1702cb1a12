// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultAPI = "http://localhost:8080"

type remoteOptions struct {
	api   string
	token string
}

// bindRemote registers --api and --token, defaulting from RANKCTL_API and
// RANKCTL_TOKEN.
func bindRemote(fs *flag.FlagSet) *remoteOptions {
	opts := &remoteOptions{}
	api := os.Getenv("RANKCTL_API")
	if api == "" {
		api = defaultAPI
	}
	fs.StringVar(&opts.api, "api", api, "Server base URL")
	fs.StringVar(&opts.token, "token", os.Getenv("RANKCTL_TOKEN"), "Admin token")
	return opts
}

func (o *remoteOptions) client() *apiClient {
	return &apiClient{
		base:  strings.TrimRight(o.api, "/"),
		token: o.token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Context string `json:"context"`
}

func (e *apiError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Message, e.Context, e.Status)
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
