package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/rungov/internal/orchestrator"
	"github.com/user/rungov/internal/safety"
	"github.com/user/rungov/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("mode", "", "machine mode (required)")
	runCmd.Flags().String("tool-id", "", "tool identifier (required)")
	runCmd.Flags().String("context", "", "request context as a JSON object")
	runCmd.Flags().String("context-file", "", "read the request context from a JSON file")
	runCmd.Flags().String("correlation-id", "", "caller correlation id")
	runCmd.Flags().StringToString("meta", nil, "artifact metadata key=value pairs")
	runCmd.Flags().String("override-actor", "", "actor requesting a RED override")
	runCmd.Flags().String("override-reason", "", "reason for a RED override")
	runCmd.Flags().Bool("retry", false, "re-submit the whole request on transient store failures")
	_ = runCmd.MarkFlagRequired("mode")
	_ = runCmd.MarkFlagRequired("tool-id")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one governed request and record its artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		var outcome *orchestrator.Outcome
		if retry, _ := cmd.Flags().GetBool("retry"); retry {
			outcome, err = a.orch.RunWithRetry(ctx, orchestrator.DefaultRetryPolicy(), req)
		} else {
			outcome, err = a.orch.Run(ctx, req)
		}
		if outcome != nil {
			printJSON(map[string]any{
				"run_id":   outcome.RunID,
				"status":   outcome.Status,
				"decision": outcome.Decision,
				"outputs":  outcome.Outputs,
			})
		}
		return err
	},
}

func requestFromFlags(cmd *cobra.Command) (orchestrator.Request, error) {
	mode, _ := cmd.Flags().GetString("mode")
	toolID, _ := cmd.Flags().GetString("tool-id")
	inline, _ := cmd.Flags().GetString("context")
	file, _ := cmd.Flags().GetString("context-file")
	correlationID, _ := cmd.Flags().GetString("correlation-id")
	meta, _ := cmd.Flags().GetStringToString("meta")
	actor, _ := cmd.Flags().GetString("override-actor")
	reason, _ := cmd.Flags().GetString("override-reason")

	req := orchestrator.Request{
		Mode:          mode,
		ToolID:        toolID,
		CorrelationID: correlationID,
		Meta:          meta,
	}

	raw := []byte(inline)
	switch {
	case inline != "" && file != "":
		return req, &types.ValidationError{Field: "context", Reason: "use --context or --context-file, not both"}
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return req, fmt.Errorf("read context file: %w", err)
		}
		raw = data
	}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &req.Context); err != nil {
			return req, &types.ValidationError{Field: "context", Reason: "not a JSON object: " + err.Error()}
		}
	}

	if actor != "" || reason != "" {
		req.Override = &safety.OverrideRequest{Actor: actor, Reason: reason}
	}
	return req, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
	}
}

