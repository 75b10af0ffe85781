// Package main implements menderctl, the CLI for the mender HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/mender/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client carries the flags shared by every command.
type client struct {
	serverURL string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:   "menderctl",
		Short: "CLI for mender HTTP server operations",
		Long: `menderctl is a command-line interface for the mender HTTP server.
It reports errors, previews signatures and reviews learned patterns.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:9190", "mender server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		c.healthCmd(),
		c.reportCmd(),
		c.signatureCmd(),
		c.statsCmd(),
		c.patternsCmd(),
		c.attachCmd(),
		c.outcomeCmd(),
	)
	return root
}

func (c *client) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check mender server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.HealthResponse
			if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			if resp.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Server Version: %s\n", resp.Version)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", c.serverURL)
			return nil
		},
	}
}

func (c *client) reportCmd() *cobra.Command {
	var (
		req  api.ReportRequest
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "report <message>",
		Short: "Report an error",
		Long: `Report an error to mender. The error is logged, learned and, with
--auto-fix, remediated when a proven remediation exists.

Examples:
  menderctl report --source payment "charge 401 declined for user 7"
  menderctl report --source db --severity critical --auto-fix "connection reset"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = args[0]
			md, err := parsePairs(meta)
			if err != nil {
				return err
			}
			if len(md) > 0 {
				req.Metadata = md
			}
			var res json.RawMessage
			if err := c.do(http.MethodPost, "/api/v1/errors", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.Source, "source", "", "component that reported the error")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "debug, info, warning, error or critical")
	cmd.Flags().BoolVar(&req.AttemptAutoFix, "auto-fix", false, "apply a proven remediation")
	cmd.Flags().BoolVar(&req.Silent, "silent", false, "suppress server console output")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value (repeatable)")
	return cmd
}

func (c *client) signatureCmd() *cobra.Command {
	var req api.SignatureRequest
	cmd := &cobra.Command{
		Use:   "signature <message>",
		Short: "Preview the signature of an error message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = args[0]
			var resp api.SignatureResponse
			if err := c.do(http.MethodPost, "/api/v1/signatures", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signature:  %s\n", resp.Signature)
			fmt.Fprintf(cmd.OutOrStdout(), "Pattern ID: %s\n", resp.PatternID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Source, "source", "", "component that reported the error")
	return cmd
}

func (c *client) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pattern statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res json.RawMessage
			if err := c.do(http.MethodGet, "/api/v1/patterns/stats", nil, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func (c *client) patternsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "patterns [signature]",
		Short: "Show one pattern or list recently seen patterns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(args) == 1 {
				q.Set("signature", args[0])
			} else {
				q.Set("limit", strconv.Itoa(limit))
			}
			var res json.RawMessage
			if err := c.do(http.MethodGet, "/api/v1/patterns?"+q.Encode(), nil, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of patterns to list")
	return cmd
}

func (c *client) attachCmd() *cobra.Command {
	var (
		req    api.AttachRequest
		params []string
	)
	cmd := &cobra.Command{
		Use:   "attach <pattern-id>",
		Short: "Attach a reviewed remediation to a pattern",
		Long: `Attach a remediation action to a learned pattern.

Examples:
  menderctl attach 6f1c... --action restart-payments --by oncall
  menderctl attach 6f1c... --action notify --param channel=ops --trusted`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePairs(params)
			if err != nil {
				return err
			}
			if len(p) > 0 {
				req.Params = p
			}
			var res json.RawMessage
			if err := c.do(http.MethodPut, "/api/v1/patterns/"+url.PathEscape(args[0])+"/remediation", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.Action, "action", "", "registered action name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "action parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&req.TrustedOnFirstUse, "trusted", false, "apply before enough evidence exists")
	cmd.Flags().StringVar(&req.AttachedBy, "by", os.Getenv("USER"), "reviewer name")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func (c *client) outcomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "outcome <pattern-id> <success|failure>",
		Short:     "Record the outcome of a manually applied remediation",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"success", "failure"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var res json.RawMessage
			req := api.OutcomeRequest{Outcome: args[1]}
			if err := c.do(http.MethodPost, "/api/v1/patterns/"+url.PathEscape(args[0])+"/outcomes", req, &res); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// do sends body as JSON and decodes a 200 response into out.
func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	target := strings.TrimRight(c.serverURL, "/") + path
	httpReq, err := http.NewRequest(method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: c.timeout}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// parsePairs parses key=value flags.
func parsePairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}
