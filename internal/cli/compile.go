package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdantlabs/menusync/internal/ruleset"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledRuleset is the compile report for one document.
type CompiledRuleset struct {
	File        string              `json:"file"`
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	Policy      string              `json:"policy"`
	Fingerprint string              `json:"fingerprint"`
	Plan        []ruleset.PlanEntry `json:"plan"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <ruleset.yaml> [more...]",
		Short: "Compile ruleset documents to frozen plans",
		Long: `Compile ruleset YAML documents into frozen execution plans.

Each document is vetted against the ruleset schema, its rule classes are
instantiated from the built-in registry, ordering edges are synthesized and
checked for write conflicts and cycles, and the frozen plan is reported
together with its fingerprint.

Exit codes:
  0 - All documents compiled
  2 - Schema violation, unknown rule class, write conflict or cycle

Examples:
  menusync compile rulesets/canonical.yaml
  menusync compile rulesets/create.yaml rulesets/update.yaml --format json
  menusync compile rulesets/canonical.yaml --output plan.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled plans to a JSON file")

	return cmd
}

func runCompile(opts *CompileOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Collect-all mode: every broken document reports, not just the first.
	compiled := make([]CompiledRuleset, 0, len(paths))
	var failures []error

	for _, path := range paths {
		formatter.VerboseLog("Compiling %s", path)
		rs, err := loadRulesetFile(path)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		compiled = append(compiled, CompiledRuleset{
			File:        path,
			Name:        rs.Name(),
			Version:     rs.Version(),
			Policy:      string(rs.Policy()),
			Fingerprint: rs.Fingerprint(),
			Plan:        rs.Plan(),
		})
	}

	if len(failures) > 0 {
		return outputCompileErrors(formatter, failures)
	}

	if opts.Output != "" {
		if err := writePlans(compiled, opts.Output); err != nil {
			_ = formatter.Error("E_WRITE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	return outputCompileSuccess(formatter, compiled, opts.Output)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, compiled []CompiledRuleset, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(compiled)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d ruleset(s)\n\n", len(compiled))

	for _, rs := range compiled {
		fmt.Fprintf(formatter.Writer, "%s %s (%s) fingerprint %s\n",
			rs.Name, rs.Version, rs.Policy, rs.Fingerprint)
		for i, entry := range rs.Plan {
			fmt.Fprintf(formatter.Writer, "  %d. %s (priority %d)\n", i+1, entry.Name, entry.Priority)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote compiled plans to %s\n", outputFile)
	}

	return nil
}

// outputCompileErrors outputs compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			cliErrors[i] = CLIError{
				Code:    "E_COMPILE",
				Message: err.Error(),
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %v\n\n", err)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writePlans writes the compile reports to a file as indented JSON.
func writePlans(compiled []CompiledRuleset, filename string) error {
	data, err := json.MarshalIndent(compiled, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plans: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
