package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/session"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the pending change specs in apply order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		printPending(sess.Preview())
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply all pending changes in one transaction",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		report, err := sess.ApplyPending(context.Background())
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Drop one pending change spec by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		ok, err := sess.Discard(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			warnColor.Printf("no pending change with id %s\n", args[0])
			return nil
		}
		okColor.Printf("discarded %s\n", args[0])
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge pending changes that agree on overlapping paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		merged, err := sess.ConsolidateNow(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("merged %d change spec(s)\n", merged)
		printPending(sess.Preview())
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending change spec",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		if err := sess.ClearPending(context.Background()); err != nil {
			return err
		}
		okColor.Println("pending changes cleared")
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Regenerate stale file and dependency summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		if err := sess.RefreshSummaries(context.Background()); err != nil {
			return err
		}
		okColor.Println("summaries refreshed")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil)
		if err != nil {
			return err
		}
		defer sess.Close()
		st, err := sess.Status(context.Background())
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

func printPending(specs []domain.ChangeSpec) {
	if len(specs) == 0 {
		fmt.Println("no pending changes")
		return
	}
	headingColor.Printf("Pending changes (%d):\n", len(specs))
	for _, spec := range specs {
		fmt.Printf("  %s  %s\n", spec.ID, spec.Title)
		for _, it := range spec.Items {
			fmt.Printf("    [%s] %s - %s\n", it.ChangeType, it.Path, it.SummaryOfChange)
		}
	}
}

func printReport(report domain.ApplyReport) {
	if report.Mode == domain.ModeIncompatible {
		errorColor.Println("Model reported incompatibility:")
		for _, issue := range report.Issues {
			fmt.Printf("  - %s: %v\n", issue.Reason, issue.Paths)
		}
		fmt.Printf("Explanation: %s\n", report.Explanation)
		return
	}
	okColor.Printf("Applied %d file(s) at state version %d\n", len(report.Written), report.StateVersion)
	for _, p := range report.Written {
		fmt.Printf("  %s\n", p)
	}
	if report.Explanation != "" {
		fmt.Printf("Explanation: %s\n", report.Explanation)
	}
	for _, issue := range report.Issues {
		warnColor.Printf("  issue: %s %v\n", issue.Reason, issue.Paths)
	}
	if report.Splits > 0 {
		warnColor.Printf("queued %d split follow-up(s) for oversized files\n", report.Splits)
	}
}

func printStatus(st session.Status) {
	headingColor.Println("Session status:")
	fmt.Printf("  pending specs:   %d (batches since consolidation: %d)\n", st.Pending, st.Batches)
	fmt.Printf("  state version:   %d (engine %s)\n", st.StateVersion, st.Phase)
	fmt.Printf("  live messages:   %d\n", st.LiveMessages)
	fmt.Printf("  commits:         %d\n", st.Commits)
	fmt.Printf("  tokens:          %d prompt / %d completion\n", st.PromptTokens, st.CompletionTokens)
	for _, issue := range st.Conflicts {
		warnColor.Printf("  conflict: %s\n", issue.Reason)
	}
	if len(st.RecentCommits) > 0 {
		headingColor.Println("Recent commits:")
		for _, rec := range st.RecentCommits {
			fmt.Printf("  %s  %s  %v\n", rec.ID, time.Unix(rec.CreatedAt, 0).Format(time.DateTime), rec.Paths)
		}
	}
}
