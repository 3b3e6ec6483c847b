package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// controlClient is the thin HTTP client the control subcommands use
// against a live `mdap run --serve` process.
type controlClient struct {
	addr string
	http *http.Client
}

func newControlClient(addr string) *controlClient {
	return &controlClient{addr: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *controlClient) call(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable at %s: %w", c.addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control API returned %d: %s", resp.StatusCode, raw)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline state and progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newControlClient(flags.addr).call(http.MethodGet, "/api/v1/status", nil)
		},
	}
}

func newPauseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running pipeline at its next checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newControlClient(flags.addr).call(http.MethodPost, "/api/v1/pause", nil)
		},
	}
}

func newResumeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newControlClient(flags.addr).call(http.MethodPost, "/api/v1/resume", nil)
		},
	}
}

func newCancelCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running pipeline cooperatively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newControlClient(flags.addr).call(http.MethodPost, "/api/v1/cancel", nil)
		},
	}
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history [n]",
		Short: "Show the last n decisions (all when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/history"
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("n must be a non-negative integer, got %q", args[0])
				}
				path += "?n=" + args[0]
			}
			return newControlClient(flags.addr).call(http.MethodGet, path, nil)
		},
	}
}

func newExplainCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "explain [step-id]",
		Short: "Explain one decision (the most recent when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newControlClient(flags.addr)
			if len(args) == 1 {
				return client.call(http.MethodGet, "/api/v1/explain/"+args[0], nil)
			}
			return client.call(http.MethodGet, "/api/v1/history?n=1", nil)
		},
	}
}

func newResourcesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Show token, call, cost, and time counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newControlClient(flags.addr).call(http.MethodGet, "/api/v1/resources", nil)
		},
	}
}

func newBudgetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "budget <kind> <value>",
		Short: "Set a hard budget (kind: tokens, cost, or time)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("value must be numeric, got %q", args[1])
			}
			return newControlClient(flags.addr).call(http.MethodPost, "/api/v1/budget",
				map[string]any{"kind": args[0], "value": value})
		},
	}
}
