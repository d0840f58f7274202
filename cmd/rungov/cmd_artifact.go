package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/rungov/internal/advisory"
	"github.com/user/rungov/internal/digest"
	"github.com/user/rungov/internal/scheduler"
	"github.com/user/rungov/internal/state"
	"github.com/user/rungov/internal/types"
)

func init() {
	rootCmd.AddCommand(artifactCmd)
	artifactCmd.AddCommand(artifactGetCmd, artifactQueryCmd, artifactVerifyCmd, artifactSweepCmd, artifactAdviseCmd, artifactAdvisoriesCmd)

	artifactQueryCmd.Flags().String("mode", "", "filter by mode")
	artifactQueryCmd.Flags().String("tool-id", "", "filter by tool id")
	artifactQueryCmd.Flags().String("status", "", "filter by status (OK, BLOCKED, ERROR)")
	artifactQueryCmd.Flags().String("from", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
	artifactQueryCmd.Flags().String("to", "", "created before (RFC 3339 or YYYY-MM-DD)")
	artifactQueryCmd.Flags().StringToString("meta", nil, "metadata key=value filters")
	artifactQueryCmd.Flags().Int("limit", 100, "maximum number of artifacts")

	artifactSweepCmd.Flags().Int("days", 0, "days to sweep (defaults to integrity_sweep.days)")

	artifactAdviseCmd.Flags().String("author", os.Getenv("USER"), "advisory author")
	artifactAdviseCmd.Flags().String("kind", "note", "advisory kind")
	artifactAdviseCmd.Flags().String("body", "", "advisory text")
	artifactAdviseCmd.Flags().String("file", "", "read the advisory text from a file")
	artifactAdviseCmd.Flags().String("url", "", "fetch the advisory from a URL")
	artifactAdviseCmd.Flags().Bool("html", false, "treat --body or --file as HTML")
}

func artifactStore() *state.ArtifactStore {
	return state.NewArtifactStore(loadConfig().DataDir)
}

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Inspect run artifacts",
}

var artifactGetCmd = &cobra.Command{
	Use:   "get <run_id>",
	Short: "Print the stored artifact bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, found, err := artifactStore().GetRaw(context.Background(), types.RunID(args[0]))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("run %s: %w", args[0], types.ErrNotFound)
		}
		_, err = os.Stdout.Write(raw)
		return err
	},
}

var artifactQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List artifacts matching filters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tCREATED\tMODE\tTOOL\tSTATUS\tRISK")
		n := 0
		for art, err := range artifactStore().Query(context.Background(), filter) {
			if err != nil {
				w.Flush()
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				art.RunID, art.CreatedAt.Format(time.RFC3339), art.Mode, art.ToolID, art.Status, art.Decision.RiskLevel)
			n++
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("No artifacts found.")
		}
		return nil
	},
}

func filterFromFlags(cmd *cobra.Command) (types.ArtifactFilter, error) {
	mode, _ := cmd.Flags().GetString("mode")
	toolID, _ := cmd.Flags().GetString("tool-id")
	status, _ := cmd.Flags().GetString("status")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	meta, _ := cmd.Flags().GetStringToString("meta")
	limit, _ := cmd.Flags().GetInt("limit")

	f := types.ArtifactFilter{Mode: mode, ToolID: toolID, Meta: meta, Limit: limit}
	if status != "" {
		st, ok := types.ParseRunStatus(strings.ToUpper(status))
		if !ok {
			return f, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
		f.Status = st
	}
	var err error
	if f.From, err = parseFlagTime("from", from); err != nil {
		return f, err
	}
	if f.To, err = parseFlagTime("to", to); err != nil {
		return f, err
	}
	return f, nil
}

func parseFlagTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(types.PartitionLayout, v); err == nil {
		return t, nil
	}
	return time.Time{}, &types.ValidationError{Field: field, Reason: "expected RFC 3339 time or YYYY-MM-DD"}
}

var artifactVerifyCmd = &cobra.Command{
	Use:   "verify <run_id>",
	Short: "Re-hash an artifact and compare with its recorded hashes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.RunID(args[0])
		art, found, err := artifactStore().Get(context.Background(), id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("run %s: %w", id, types.ErrNotFound)
		}
		if err := digest.VerifyArtifact(art); err != nil {
			return &types.StoreIntegrityError{RunID: id, Reason: "verification failed", Err: err}
		}
		fmt.Fprintf(os.Stdout, "Run %s verified (feasibility %s).\n", id, art.Hashes.Feasibility)
		return nil
	},
}

var artifactSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Verify every artifact in recent partitions now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.IntegritySweep.Days
		}

		ctx := context.Background()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		report, err := scheduler.New(a.artifacts, a.alerts, scheduler.Config{Days: days}).Sweep(ctx)
		if report != nil {
			printJSON(report)
		}
		if err != nil {
			return err
		}
		if len(report.Mismatches) > 0 {
			return fmt.Errorf("%d artifacts failed verification", len(report.Mismatches))
		}
		return nil
	},
}

var artifactAdviseCmd = &cobra.Command{
	Use:   "advise <run_id>",
	Short: "Attach an advisory note to an existing artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		author, _ := cmd.Flags().GetString("author")
		kind, _ := cmd.Flags().GetString("kind")
		body, _ := cmd.Flags().GetString("body")
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		html, _ := cmd.Flags().GetBool("html")
		ctx := context.Background()

		var text string
		var err error
		switch {
		case url != "":
			text, err = advisory.NewFetcher().Fetch(ctx, url)
		default:
			if file != "" {
				data, rerr := os.ReadFile(file)
				if rerr != nil {
					return fmt.Errorf("read advisory file: %w", rerr)
				}
				body = string(data)
			}
			contentType := "text/plain"
			if html {
				contentType = "text/html"
			}
			text, err = advisory.Normalize(contentType, body)
		}
		if err != nil {
			return err
		}

		link := &types.AdvisoryLink{Author: author, Kind: kind, Body: text}
		if err := artifactStore().AppendAdvisoryLink(ctx, types.RunID(args[0]), link); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Advisory %s attached to run %s (%s).\n", link.AdvisoryID, link.RunID, link.BodyHash)
		return nil
	},
}

var artifactAdvisoriesCmd = &cobra.Command{
	Use:   "advisories <run_id>",
	Short: "List advisory notes of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := artifactStore().Advisories(context.Background(), types.RunID(args[0]))
		if err != nil {
			return err
		}
		if len(links) == 0 {
			fmt.Println("No advisories.")
			return nil
		}
		for _, l := range links {
			fmt.Fprintf(os.Stdout, "--- %s  %s  %s  %s\n%s\n", l.AdvisoryID, l.CreatedAt.Format(time.RFC3339), l.Kind, l.Author, l.Body)
		}
		return nil
	},
}
