package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func isOutputFormat(format string) bool {
	switch format {
	case constants.FormatTable, constants.FormatJSON, constants.FormatYAML:
		return true
	default:
		return false
	}
}

// outputFormat returns the configured format. Without one, tables are used
// on a terminal and JSON everywhere else.
func outputFormat() (string, error) {
	format := viper.GetString("output")
	if format == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return constants.FormatTable, nil
		}

		return constants.FormatJSON, nil
	}

	if !isOutputFormat(format) {
		return "", fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, format)
	}

	return format, nil
}

func encode(out io.Writer, format string, value any) error {
	switch format {
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(out)

		err := encoder.Encode(value)
		if err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}

		return encoder.Close()
	default:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(value)
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}

		return nil
	}
}

func printResult(out io.Writer, format string, result *cloudapi.Result) error {
	if format != constants.FormatTable {
		return encode(out, format, result)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	_ = table.Append([]string{"Code", strconv.Itoa(result.Metadata.Code)})

	if cache := result.Metadata.Cache; cache != nil {
		_ = table.Append([]string{"Cache Key", cache.Key})
		_ = table.Append([]string{"Cache MD5", cache.Record.MD5})
	}

	_ = table.Append([]string{"Headers", formatHeaders(result.Metadata.Headers)})
	_ = table.Append([]string{"Body", formatBody(result.Body)})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func printCacheHit(out io.Writer, format string, hit *cloudapi.CacheHitError) error {
	if format != constants.FormatTable {
		return encode(out, format, map[string]any{
			"cache_hit": true,
			"key":       hit.Key,
			"record":    hit.Record,
		})
	}

	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	_ = table.Append([]string{"Cache Hit", hit.Key})
	_ = table.Append([]string{"MD5", hit.Record.MD5})
	_ = table.Append([]string{"Hits", strconv.Itoa(hit.Record.Hits)})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func printStat(out io.Writer, stat *cloudapi.Stat) error {
	if stat == nil {
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Pass", "Routine", "Time")

	for i, session := range stat.Sessions {
		for _, routine := range session {
			_ = table.Append([]string{strconv.Itoa(i + 1), routine.Name, routine.TimeTaken.String()})
		}
	}

	_ = table.Append([]string{"", "Total", stat.TimeTaken.String()})

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render stat table: %w", err)
	}

	return nil
}

func formatHeaders(headers cloudapi.Headers) string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}

	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+": "+strings.Join(headers[name], ", "))
	}

	return strings.Join(lines, "\n")
}

func formatBody(body any) string {
	switch typed := body.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		data, err := json.MarshalIndent(typed, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}

		return string(data)
	}
}
