package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verdantlabs/menusync/internal/replay"
	"github.com/verdantlabs/menusync/internal/source"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	CreatePath string
	UpdatePath string
}

// PackReplay is the replay report for one pack.
type PackReplay struct {
	File        string              `json:"file"`
	IngestID    string              `json:"ingest_id"`
	ExternalID  string              `json:"external_id"`
	SourceID    string              `json:"source_id"`
	Status      string              `json:"status"`
	Action      string              `json:"action,omitempty"`
	Skipped     bool                `json:"skipped,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Failure     string              `json:"failure,omitempty"`
	Diverged    bool                `json:"diverged"`
	Divergences []replay.Divergence `json:"divergences,omitempty"`
}

// ReplayResult is the overall replay result.
type ReplayResult struct {
	Packs    []PackReplay `json:"packs"`
	Replayed int          `json:"replayed"`
	Skipped  int          `json:"skipped"`
	Diverged int          `json:"diverged"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <pack-or-dir> [more...]",
		Short: "Re-execute replay packs and diff against the recorded run",
		Long: `Re-execute replay packs offline and diff against the recorded run.

Each pack embeds every input its item's evaluation consumed: the normalized
payload, the consulted lookup entries, the flag values and the frozen rule
order. Replay rebuilds the evaluation context from those recorded inputs
alone, re-runs the transformer and canonical rulesets, and reports any
divergence field by field.

Arguments are pack files or directories; directories are walked for
*.json.gz and *.json packs. The rulesets must match the configuration the
packs were recorded under; pass --create/--update for configured rulesets,
otherwise the built-in canonical set is used.

Exit codes:
  0 - Every pack re-executed identically
  1 - One or more packs diverged
  2 - Unreadable or undecodable pack

Examples:
  menusync replay packs/
  menusync replay packs/env=production/date=2026-03-14/
  menusync replay pack.json.gz --create rulesets/create.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CreatePath, "create", "", "ruleset document for the create path")
	cmd.Flags().StringVar(&opts.UpdatePath, "update", "", "ruleset document for the update path")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files, err := collectPackFiles(args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to collect packs", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no packs found")
	}

	create, update, err := canonicalRulesets(opts.CreatePath, opts.UpdatePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rulesets", err)
	}

	// One runner per source; the transformer comes from the registry.
	registry := source.Builtin()
	runners := map[string]*replay.Runner{}

	result := ReplayResult{Packs: make([]PackReplay, 0, len(files))}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("read pack %s", file), err)
		}
		pack, err := replay.Decode(data)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("decode pack %s", file), err)
		}

		runner, ok := runners[pack.SourceID]
		if !ok {
			def, err := registry.Lookup(pack.SourceID)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("pack %s", file), err)
			}
			runner = replay.NewRunner(replay.Rulesets{
				Transformer: def.Transformer,
				Create:      create,
				Update:      update,
			})
			runners[pack.SourceID] = runner
		}

		report, err := runner.Run(pack)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("replay pack %s", file), err)
		}

		pr := PackReplay{
			File:        file,
			IngestID:    pack.IngestID,
			ExternalID:  pack.ExternalID,
			SourceID:    pack.SourceID,
			Status:      pack.Status,
			Action:      report.Action,
			Skipped:     report.Skipped,
			Reason:      report.Reason,
			Failure:     report.Failure,
			Diverged:    report.Diverged(),
			Divergences: report.Divergences,
		}
		result.Packs = append(result.Packs, pr)

		switch {
		case pr.Skipped:
			result.Skipped++
		case pr.Diverged:
			result.Diverged++
			result.Replayed++
		default:
			result.Replayed++
		}
	}

	if formatter.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// collectPackFiles expands the arguments into pack files. Directories are
// walked; files are taken as-is.
func collectPackFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.HasSuffix(path, ".json.gz") || strings.HasSuffix(path, ".json") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	status := "ok"
	var cliErr *CLIError
	if result.Diverged > 0 {
		status = "error"
		cliErr = &CLIError{
			Code:    "E_DIVERGED",
			Message: fmt.Sprintf("%d pack(s) diverged", result.Diverged),
		}
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
		Error:  cliErr,
	}

	encoder := json.NewEncoder(formatter.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Diverged > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d pack(s) diverged", result.Diverged))
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	for _, pr := range result.Packs {
		switch {
		case pr.Skipped:
			fmt.Fprintf(w, "- %s %s %s (skipped: %s)\n", pr.IngestID, pr.ExternalID, pr.Status, pr.Reason)
		case pr.Diverged:
			fmt.Fprintf(w, "✗ %s %s %s: %d divergence(s)\n", pr.IngestID, pr.ExternalID, pr.Status, len(pr.Divergences))
			for _, d := range pr.Divergences {
				fmt.Fprintf(w, "    %s: recorded %v, replayed %v\n", d.Field, d.Recorded, d.Replayed)
			}
		default:
			fmt.Fprintf(w, "✓ %s %s %s\n", pr.IngestID, pr.ExternalID, pr.Status)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Replay summary: %d replayed, %d skipped, %d diverged\n",
		result.Replayed, result.Skipped, result.Diverged)

	if result.Diverged > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d pack(s) diverged", result.Diverged))
	}

	fmt.Fprintln(w, "✓ All packs re-executed identically")
	return nil
}
