package commands

import (
	"fmt"
	"io"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/internal/pattern"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PatternSummary is one row of the patterns list.
type PatternSummary struct {
	Name string `json:"name" yaml:"name"`
	Verb string `json:"verb" yaml:"verb"`
	Path string `json:"path" yaml:"path"`
	File string `json:"file" yaml:"file"`
}

// NewPatternsCommand creates the patterns command group
func NewPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Inspect query patterns",
		Long:    "List and explain the query patterns loaded from the configured pattern files",
	}

	cmd.AddCommand(newPatternsListCommand())
	cmd.AddCommand(newPatternsExplainCommand())

	return cmd
}

func newPatternsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List query patterns",
		Long:  "List every query pattern defined in the configured pattern files",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat()
			if err != nil {
				return err
			}

			summaries, err := listPatterns(viper.GetStringSlice("pattern_files"))
			if err != nil {
				return err
			}

			return printPatterns(cmd.OutOrStdout(), format, summaries)
		},
	}
}

func newPatternsExplainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "explain NAME",
		Short: "Explain a query pattern",
		Long:  "Show the compiled form of a query pattern: its path, params, headers and body templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(viper.GetStringSlice("pattern_files"))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), registry.Explain(args[0]))

			return err
		},
	}
}

func listPatterns(files []string) ([]PatternSummary, error) {
	if len(files) == 0 {
		return nil, constants.ErrNoPatternsFile
	}

	var summaries []PatternSummary

	for _, path := range files {
		file, err := cloudapi.LoadPatternFile(path)
		if err != nil {
			return nil, err
		}

		for _, definition := range file.Patterns {
			summaries = append(summaries, PatternSummary{
				Name: definition.Name,
				Verb: definition.Verb,
				Path: definition.Path,
				File: path,
			})
		}
	}

	return summaries, nil
}

// loadRegistry compiles the pattern files. Later files shadow earlier ones.
func loadRegistry(files []string) (*pattern.Registry, error) {
	if len(files) == 0 {
		return nil, constants.ErrNoPatternsFile
	}

	registry := pattern.NewRegistry(nil)

	for _, path := range files {
		file, err := cloudapi.LoadPatternFile(path)
		if err != nil {
			return nil, err
		}

		patterns, err := file.QueryPatterns()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		for _, p := range patterns {
			if _, err := registry.Register(p); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	return registry, nil
}

func printPatterns(out io.Writer, format string, summaries []PatternSummary) error {
	if format != constants.FormatTable {
		return encode(out, format, summaries)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Name", "Verb", "Path", "File")

	for _, summary := range summaries {
		_ = table.Append(summary.Name, summary.Verb, summary.Path, summary.File)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
