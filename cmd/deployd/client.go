package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/deployd/internal/http"
	"github.com/fyrsmithlabs/deployd/internal/retry"
)

// clientPolicy retries transient failures when querying a server.
var clientPolicy = retry.Policy{
	MaxAttempts:    3,
	BaseDelay:      200 * time.Millisecond,
	MaxDelay:       2 * time.Second,
	Multiplier:     2,
	AttemptTimeout: 5 * time.Second,
}

var rawJSON bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the deployment status of a task",
		Long: `Show the latest round of a task and its history.

Examples:
  deployd status captcha-solver
  deployd status captcha-solver --json --server http://deployer:8000`,
		Args: cobra.ExactArgs(1),
		RunE: runStatus,
	}
	cmd.Flags().BoolVar(&rawJSON, "json", false, "print the raw JSON response")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check deployd server health",
		Long: `Check the health status of a deployd server and its collaborators.

Examples:
  deployd health
  deployd health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: runHealth,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := fetch(cmd.Context(), "/status/"+url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rawJSON {
		_, err := out.Write(append(body, '\n'))
		return err
	}

	var resp httpserver.StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	latest := resp.Latest
	fmt.Fprintf(out, "Task:      %s\n", resp.TaskID)
	fmt.Fprintf(out, "Round:     %d (nonce %s)\n", latest.Round, latest.Nonce)
	fmt.Fprintf(out, "Status:    %s\n", latest.Status)
	if latest.RepoURL != "" {
		fmt.Fprintf(out, "Repo:      %s\n", latest.RepoURL)
	}
	if latest.PagesURL != "" {
		fmt.Fprintf(out, "Pages:     %s\n", latest.PagesURL)
	}
	if latest.Revision != "" {
		fmt.Fprintf(out, "Revision:  %s\n", latest.Revision)
	}
	if latest.Error != nil {
		fmt.Fprintf(out, "Error:     %s: %s\n", latest.Error.Kind, latest.Error.Message)
	}
	for _, w := range latest.Warnings {
		fmt.Fprintf(out, "Warning:   %s: %s\n", w.Kind, w.Message)
	}
	fmt.Fprintf(out, "History:   %d round(s)\n", len(resp.History))
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := fetch(cmd.Context(), "/health")
	if err != nil {
		return err
	}

	var resp httpserver.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	if resp.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", resp.Version)
	}
	names := make([]string, 0, len(resp.Components))
	for name := range resp.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, resp.Components[name])
	}
	fmt.Fprintf(out, "In flight: %d/%d\n", resp.Orchestrator.InFlight, resp.Orchestrator.MaxConcurrent)
	return nil
}

// fetch GETs path from the server, retrying transport errors and 5xx
// responses.
func fetch(ctx context.Context, path string) ([]byte, error) {
	target := strings.TrimRight(serverURL, "/") + path
	client := &http.Client{}

	body, _, err := retry.Do(ctx, clientPolicy, func(ctx context.Context, attempt int) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", serverURL, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return body, nil
	}, retry.WithClassifier(retry.HTTPClassifier))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	return body, nil
}
