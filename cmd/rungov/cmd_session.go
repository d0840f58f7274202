package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/internal/workflow"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionShowCmd, sessionAdvanceCmd)

	sessionAdvanceCmd.Flags().String("run-id", "", "artifact run id (feasibility_ready, toolpaths_ready)")
	sessionAdvanceCmd.Flags().String("context-ref", "", "context reference (set_context)")
	sessionAdvanceCmd.Flags().String("actor", os.Getenv("USER"), "who performs the action")
	sessionAdvanceCmd.Flags().String("note", "", "free-form note recorded in history")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage workflow sessions",
}

func withSessions(fn func(ctx context.Context, m *workflow.Manager) error) error {
	cfg := loadConfig()
	setupLogging(cfg)
	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a.sessions)
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <design_ref>",
	Short: "Create a session in DRAFT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, m *workflow.Manager) error {
			sess, err := m.Create(ctx, args[0])
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, m *workflow.Manager) error {
			list, err := m.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(list) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tDESIGN\tVERSION\tCREATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID(),
					s.State(),
					s.DesignRef(),
					s.Version(),
					s.Record().CreatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(func(ctx context.Context, m *workflow.Manager) error {
			sess, err := m.Get(ctx, types.SessionID(args[0]))
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		})
	},
}

var sessionAdvanceCmd = &cobra.Command{
	Use:   "advance <id> <action>",
	Short: "Apply a workflow action to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, ok := workflow.ParseAction(args[1])
		if !ok {
			return &types.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q (allowed: %v)", args[1], workflow.Actions())}
		}
		runID, _ := cmd.Flags().GetString("run-id")
		contextRef, _ := cmd.Flags().GetString("context-ref")
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")

		return withSessions(func(ctx context.Context, m *workflow.Manager) error {
			sess, err := m.Advance(ctx, types.SessionID(args[0]), workflow.Transition{
				Action:     action,
				RunID:      types.RunID(runID),
				ContextRef: contextRef,
				Actor:      actor,
				Note:       note,
			})
			if err != nil {
				return err
			}
			printSession(sess)
			return nil
		})
	},
}

func printSession(s *workflow.Session) {
	rec := s.Record()
	fmt.Printf("Session %s\n", rec.SessionID)
	fmt.Printf("  state:       %s (version %d)\n", rec.State, rec.Version)
	fmt.Printf("  design:      %s\n", rec.DesignRef)
	if rec.ContextRef != "" {
		fmt.Printf("  context:     %s\n", rec.ContextRef)
	}
	if rec.FeasibilityRunID != "" {
		fmt.Printf("  feasibility: %s\n", rec.FeasibilityRunID)
	}
	if rec.ToolpathsRunID != "" {
		fmt.Printf("  toolpaths:   %s\n", rec.ToolpathsRunID)
	}
	fmt.Printf("  allowed:     %v\n", workflow.Allowed(s.State()))
	for _, h := range rec.History {
		fmt.Printf("  %s  %s -> %s  %s", h.At.Format("2006-01-02 15:04:05"), h.From, h.To, h.Action)
		if h.Actor != "" {
			fmt.Printf(" by %s", h.Actor)
		}
		if h.Note != "" {
			fmt.Printf(": %s", h.Note)
		}
		fmt.Println()
	}
}
