package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdantlabs/menusync/internal/rule"
	"github.com/verdantlabs/menusync/internal/ruleset"
)

// ValidationIssue is one problem found in a ruleset document.
type ValidationIssue struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <ruleset.yaml> [more...]",
		Short: "Validate ruleset documents without compiling plans",
		Long: `Validate ruleset YAML documents without compiling the execution plan.

Vets each document against the ruleset schema and instantiates its rule
classes from the built-in registry, so schema violations, unknown classes
and bad params report without the graph analysis compile performs. Faster
feedback while editing rulesets.

Exit codes:
  0 - All documents valid
  1 - One or more documents invalid
  2 - Unreadable file

Examples:
  menusync validate rulesets/canonical.yaml
  menusync validate rulesets/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	registry := rule.Builtin()
	var issues []ValidationIssue

	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)

		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "read ruleset file", err)
		}

		doc, err := ruleset.Parse(path, data)
		if err != nil {
			issues = append(issues, ValidationIssue{File: path, Message: err.Error()})
			continue
		}

		// Instantiate every enabled rule so unknown classes and bad params
		// surface here, not on the first run.
		for i, entry := range doc.Rules {
			if entry.Enabled != nil && !*entry.Enabled {
				continue
			}
			if _, err := registry.New(entry.Class, entry.Params); err != nil {
				issues = append(issues, ValidationIssue{
					File:    path,
					Message: fmt.Sprintf("rules[%d]: %v", i, err),
				})
			}
		}
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}

	return outputValidateSuccess(formatter, len(paths))
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, count int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d document(s) valid\n", count)
	return nil
}

// outputValidationErrors outputs validation failures.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Errors: issues,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    "E_VALIDATE",
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		fmt.Fprintf(formatter.Writer, "%s\n  %s\n\n", issue.File, issue.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
