package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jlpt-grammar-crawler/internal/app"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/config"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/crawler"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/grammar"
	"github.com/JakeFAU/jlpt-grammar-crawler/internal/logging"
)

type crawlOptions struct {
	levels  []string
	all     bool
	outDir  string
	workers int
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one or more JLPT levels",
		Example: `  jlpt-grammar-crawler crawl --level 5
  jlpt-grammar-crawler crawl --level n3 --level n2 --out ./data
  jlpt-grammar-crawler crawl --all --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), root, opts, cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&opts.levels, "level", "l", nil, "JLPT level to crawl (1-5 or n1-n5); repeatable")
	f.BoolVar(&opts.all, "all", false, "crawl every level from N1 to N5")
	f.StringVarP(&opts.outDir, "out", "o", "", "output directory (overrides output.dir)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "enrichment workers per level (overrides crawler.workers)")
	cmd.MarkFlagsMutuallyExclusive("level", "all")
	cmd.MarkFlagsOneRequired("level", "all")
	return cmd
}

func (o *crawlOptions) resolveLevels() ([]grammar.Level, error) {
	if o.all {
		return grammar.AllLevels(), nil
	}
	seen := make(map[grammar.Level]bool, len(o.levels))
	out := make([]grammar.Level, 0, len(o.levels))
	for _, raw := range o.levels {
		level, err := grammar.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrInvalidLevel, err)
		}
		if seen[level] {
			continue
		}
		seen[level] = true
		out = append(out, level)
	}
	return out, nil
}

func runCrawl(ctx context.Context, root *rootOptions, opts *crawlOptions, stderr io.Writer) error {
	levels, err := opts.resolveLevels()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if opts.workers < 0 {
		return fmt.Errorf("--workers must be >= 0")
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			_, _ = fmt.Fprintf(stderr, "received %s, stopping workers...\n", sig)
			a.Stop()
		case <-done:
		}
	}()

	outcomes, err := a.Run(ctx, levels, cfg.Output.Dir, opts.workers)
	for _, o := range outcomes {
		logger.Info("level saved",
			zap.String("level", o.Level.String()),
			zap.Int("items", o.Items),
			zap.String("artifact", o.Artifact),
		)
	}
	if errors.Is(err, crawler.ErrCancelled) {
		return fmt.Errorf("%w: %w", errCancelled, err)
	}
	return err
}
