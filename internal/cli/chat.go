package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive editing session",
	Long: `Start the interactive REPL. Free text is a conversation turn; commands
start with a colon:

  :preview          show pending changes
  :apply            apply all pending changes
  :discard <id>     drop one pending change
  :consolidate      merge agreeing overlapping changes
  :clear            drop all pending changes
  :refresh          regenerate stale summaries
  :status           show session status
  :help             show this list
  :quit             leave`,
	Args: cobra.NoArgs,
}

func init() {
	chatCmd.RunE = func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		ask := func(ctx context.Context, question string) (string, error) {
			warnColor.Printf("model asks: %s\n> ", question)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}

		sess, err := openSession(ask)
		if err != nil {
			return err
		}
		defer sess.Close()

		headingColor.Println("quill - type :help for commands, :quit to leave")
		ctx := context.Background()
		for {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Println()
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, ":") {
				if quit := runReplCommand(ctx, sess, text); quit {
					return nil
				}
				continue
			}

			reply, err := sess.Chat(ctx, text)
			if err != nil {
				errorColor.Printf("chat failed: %v\n", err)
				continue
			}
			fmt.Println(reply)
			if n := len(sess.Preview()); n > 0 {
				warnColor.Printf("(%d pending change spec(s); :preview to inspect, :apply to run)\n", n)
			}
		}
	}
}

type replSession interface {
	Preview() []domain.ChangeSpec
	ApplyPending(ctx context.Context) (domain.ApplyReport, error)
	Discard(ctx context.Context, id string) (bool, error)
	ConsolidateNow(ctx context.Context) (int, error)
	ClearPending(ctx context.Context) error
	RefreshSummaries(ctx context.Context) error
	Status(ctx context.Context) (session.Status, error)
}

// runReplCommand dispatches one colon command; it reports whether the
// REPL should exit.
func runReplCommand(ctx context.Context, sess replSession, text string) bool {
	parts := strings.Fields(text)
	switch parts[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Println(chatCmd.Long)
	case ":preview":
		printPending(sess.Preview())
	case ":apply":
		report, err := sess.ApplyPending(ctx)
		if err != nil {
			errorColor.Printf("apply failed: %v\n", err)
			return false
		}
		printReport(report)
	case ":discard":
		if len(parts) < 2 {
			errorColor.Println("usage: :discard <id>")
			return false
		}
		ok, err := sess.Discard(ctx, parts[1])
		if err != nil {
			errorColor.Printf("discard failed: %v\n", err)
		} else if !ok {
			warnColor.Printf("no pending change with id %s\n", parts[1])
		} else {
			okColor.Printf("discarded %s\n", parts[1])
		}
	case ":consolidate":
		merged, err := sess.ConsolidateNow(ctx)
		if err != nil {
			errorColor.Printf("consolidate failed: %v\n", err)
			return false
		}
		fmt.Printf("merged %d change spec(s)\n", merged)
	case ":clear":
		if err := sess.ClearPending(ctx); err != nil {
			errorColor.Printf("clear failed: %v\n", err)
			return false
		}
		okColor.Println("pending changes cleared")
	case ":refresh":
		if err := sess.RefreshSummaries(ctx); err != nil {
			errorColor.Printf("refresh failed: %v\n", err)
			return false
		}
		okColor.Println("summaries refreshed")
	case ":status":
		st, err := sess.Status(ctx)
		if err != nil {
			errorColor.Printf("status failed: %v\n", err)
			return false
		}
		printStatus(st)
	default:
		errorColor.Printf("unknown command %s (:help for the list)\n", parts[0])
	}
	return false
}
