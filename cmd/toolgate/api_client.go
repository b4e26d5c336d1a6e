package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tesserahq/toolgate/internal/commands"
)

// apiClient talks to a running gateway's admin surface. Every response
// body is a commands.OperationResult; the CLI prints what the bus
// returned.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any) (commands.OperationResult, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return commands.OperationResult{}, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return commands.OperationResult{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return commands.OperationResult{}, fmt.Errorf("request %s failed: %w (is the gateway running?)", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var result commands.OperationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&result); err != nil {
		return commands.OperationResult{}, fmt.Errorf("decode %s: %s (%w)", path, resp.Status, err)
	}
	return result, nil
}

func (c *apiClient) get(ctx context.Context, path string) (commands.OperationResult, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, payload any) (commands.OperationResult, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

func (c *apiClient) delete(ctx context.Context, path string) (commands.OperationResult, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// resolveBaseURL picks the gateway address: the --server flag when
// set, otherwise the configured listen address.
func resolveBaseURL(configPath, serverAddr string) (string, error) {
	addr := strings.TrimSpace(serverAddr)
	if addr == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/"), nil
}

// printResult renders an OperationResult for the terminal: the payload
// as indented JSON on success, the detail on failure.
func printResult(result commands.OperationResult, err error) error {
	if err != nil {
		return err
	}
	if !result.OK() {
		if result.Detail != "" {
			return fmt.Errorf("%s: %s", result.Status, result.Detail)
		}
		return fmt.Errorf("command failed with status %s", result.Status)
	}
	raw, merr := json.MarshalIndent(result.Data, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Println(string(raw))
	return nil
}
