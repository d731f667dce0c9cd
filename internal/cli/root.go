// Package cli implements the quill command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/llm"
	"github.com/quillworks/quill/internal/session"
)

var (
	// Global flags
	configPath string
	verbose    bool

	headingColor = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// rootCmd is the root command for quill.
var rootCmd = &cobra.Command{
	Use:     "quill",
	Version: "dev",
	Short:   "Conversational repository editor",
	Long: `quill is an LLM-backed repository editor.

Converse about changes, accumulate them as named pending change specs,
preview and consolidate them, and apply them in one validated transaction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openSession loads configuration and builds the session. ask may be nil
// for one-shot subcommands; the model then runs without the ask_user tool.
func openSession(ask llm.AskFunc) (*session.Session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return session.New(cfg, newLogger(), ask)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the quill version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(os.Stdout, rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statusCmd)
}
