// Package cli implements vidversectl, a command line client for the VidVerse API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Options are the global flags.
type Options struct {
	Server   string
	Token    string
	LogLevel string
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interruption signals
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		cancel()
	}()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	rootCmd := &cobra.Command{
		Use:           "vidversectl",
		Short:         "Publish and browse VidVerse videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var level slog.Level
			if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("VIDVERSE_URL", "http://localhost:8080"), "VidVerse API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("VIDVERSE_TOKEN"), "Bearer token for write commands")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Add commands
	rootCmd.AddCommand(
		newPublishCommand(opts),
		newEditCommand(opts),
		newLikeCommand(opts),
		newCommentCommand(opts),
		newShowCommand(opts),
		newCommentsCommand(opts),
		newListCommand(opts),
		newTransactionsCommand(opts),
		newTokenCommand(),
	)
	return rootCmd
}

func (o *Options) client() *Client {
	return NewClient(o.Server, o.Token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printJSON writes data indented to w.
func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
