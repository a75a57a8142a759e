// Package cmd defines the CLI of the grammar crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes returned by Execute.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitCancelled = 130
)

var errCancelled = errors.New("interrupted")

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "jlpt-grammar-crawler",
		Short: "Harvests JLPT grammar lessons from jlptsensei.com",
		Long: `jlpt-grammar-crawler lists every grammar pattern of a JLPT level,
enriches each one from its lesson page with a pool of workers and writes
the result to grammar-n<level>.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, args []string, stderr io.Writer) int {
	root := newRootCmd(stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errCancelled):
		_, _ = fmt.Fprintln(stderr, "crawl cancelled, nothing further written")
		return ExitCancelled
	default:
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return ExitFailure
	}
}
