package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/verdantlabs/menusync/internal/artifact"
	"github.com/verdantlabs/menusync/internal/config"
	"github.com/verdantlabs/menusync/internal/flag"
	"github.com/verdantlabs/menusync/internal/metric"
	"github.com/verdantlabs/menusync/internal/persist"
	"github.com/verdantlabs/menusync/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Source     string
	ConfigPath string
	CreatePath string
	UpdatePath string
}

// BatchReport is the run command's result payload.
type BatchReport struct {
	SourceID  string             `json:"source_id"`
	Env       string             `json:"env"`
	Items     int                `json:"items"`
	Counts    map[string]int     `json:"counts"`
	ElapsedMS int64              `json:"elapsed_ms"`
	Outcomes  []pipeline.Outcome `json:"outcomes"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <items.json>",
		Short: "Ingest one batch of raw items",
		Long: `Ingest one batch of raw item payloads through the pipeline.

The items file holds a JSON array of raw payload objects, the shape the
source's webhook would deliver. The batch context is frozen up front (one
clock reading, one flag snapshot, one lookup preload), every item runs the
full stage sequence, and each processed item writes a replay pack to the
artifact store.

Configuration comes from --config, MENUSYNC_* environment variables and
defaults, in that precedence.

Exit codes:
  0 - Batch processed (per-item rejections are outcomes, not errors)
  2 - Batch could not start (bad config, unknown source, unreadable input)

Examples:
  menusync run --source treez items.json
  MENUSYNC_DATABASE_URL=sqlite:///var/lib/menusync.db menusync run --source treez items.json
  menusync run --source treez --create rulesets/create.yaml items.json --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source the batch arrives under (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&opts.CreatePath, "create", "", "ruleset document for the create path")
	cmd.Flags().StringVar(&opts.UpdatePath, "update", "", "ruleset document for the update path")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runBatch(opts *RunOptions, itemsPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	payloads, err := readItems(itemsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read items file", err)
	}

	create, update, err := canonicalRulesets(opts.CreatePath, opts.UpdatePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rulesets", err)
	}

	logger.Info("opening store", "database_url", cfg.DatabaseURL)
	store, err := persist.Open(cfg.DatabaseURL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	packs, err := artifact.NewFS(cfg.ArtifactDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open artifact store", err)
	}

	pipe := pipeline.New(store, store, packs,
		pipeline.WithEnv(cfg.Env),
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithRulesets(create, update),
		pipeline.WithFlags(flag.StaticProvider(cfg.Flags), flag.DefaultManifest),
		pipeline.WithObserver(metric.NewPrometheus(prometheus.NewRegistry())),
		pipeline.WithLogger(logger),
		pipeline.WithVersionInfo(Version, GitSHA),
	)

	// Setup signal handling: cancellation stops dispatching further items,
	// items already picked up run to completion so their packs still land.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping dispatch", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("batch starting", "source_id", opts.Source, "items", len(payloads), "env", cfg.Env)
	result, err := pipe.Run(ctx, opts.Source, payloads)
	if err != nil {
		if result != nil && errors.Is(err, context.Canceled) {
			// Graceful shutdown: report what ran before cancellation.
			logger.Info("batch cancelled", "processed", len(result.Outcomes))
			return outputBatchReport(opts, cmd, buildReport(opts.Source, cfg.Env, result))
		}
		return WrapExitError(ExitCommandError, "batch could not start", err)
	}

	return outputBatchReport(opts, cmd, buildReport(opts.Source, cfg.Env, result))
}

// readItems parses the batch input: a JSON array of raw payload objects.
func readItems(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payloads []map[string]any
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("items file must be a JSON array of objects: %w", err)
	}
	return payloads, nil
}

func buildReport(sourceID, env string, result *pipeline.Result) BatchReport {
	return BatchReport{
		SourceID:  sourceID,
		Env:       env,
		Items:     len(result.Outcomes),
		Counts:    result.Counts,
		ElapsedMS: result.Elapsed.Milliseconds(),
		Outcomes:  result.Outcomes,
	}
}

func outputBatchReport(opts *RunOptions, cmd *cobra.Command, report BatchReport) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Batch complete: %d item(s) in %s\n", report.Items, time.Duration(report.ElapsedMS)*time.Millisecond)

	statuses := make([]string, 0, len(report.Counts))
	for status := range report.Counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %s: %d\n", status, report.Counts[status])
	}

	fmt.Fprintln(w)
	for _, o := range report.Outcomes {
		mark := "✓"
		if o.Status == "rejected" {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, o.ExternalID, o.Status)
		for _, field := range sortedViolationFields(o.Violations) {
			for _, msg := range o.Violations[field] {
				fmt.Fprintf(w, "    %s: %s\n", field, msg)
			}
		}
	}

	return nil
}

func sortedViolationFields(violations map[string][]string) []string {
	fields := make([]string, 0, len(violations))
	for f := range violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
