package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudclient"
	"github.com/spf13/cobra"
)

type callFlags struct {
	headers []string
	body    string
	raw     bool
	stats   bool
}

// NewCallCommand creates the call command
func NewCallCommand() *cobra.Command {
	flags := &callFlags{}

	cmd := &cobra.Command{
		Use:   "call NAME [KEY=VALUE...]",
		Short: "Call a query pattern",
		Long: `Render the named query pattern with the given params and send it through
the request pipeline. A key given twice is sent as a list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := flags.callArgs(args[1:])
			if err != nil {
				return err
			}

			return runCall(cmd.Context(), cmd.OutOrStdout(), flags, func(ctx context.Context, client *cloudclient.Client) (*cloudapi.Result, error) {
				return client.Call(ctx, args[0], callArgs)
			})
		},
	}

	addCallFlags(cmd, flags)

	return cmd
}

// NewRequestCommand creates the request command
func NewRequestCommand() *cobra.Command {
	flags := &callFlags{}

	cmd := &cobra.Command{
		Use:   "request VERB PATH [KEY=VALUE...]",
		Short: "Send a request without a pattern",
		Long: `Send VERB PATH relative to the configured endpoint. Params are added to the
query string and error and cache patterns still apply.`,
		Args: cobra.MinimumNArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := flags.callArgs(args[2:])
			if err != nil {
				return err
			}

			verb := strings.ToUpper(args[0])

			return runCall(cmd.Context(), cmd.OutOrStdout(), flags, func(ctx context.Context, client *cloudclient.Client) (*cloudapi.Result, error) {
				return client.Process(ctx, verb, args[1], callArgs)
			})
		},
	}

	addCallFlags(cmd, flags)

	return cmd
}

func addCallFlags(cmd *cobra.Command, flags *callFlags) {
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, "request header as 'Name: value'")
	cmd.Flags().StringVarP(&flags.body, "body", "d", "", "request body as JSON, or @FILE")
	cmd.Flags().BoolVar(&flags.raw, "raw", false, "do not parse the response body")
	cmd.Flags().BoolVar(&flags.stats, "stats", false, "print routine timings")
}

func (f *callFlags) callArgs(pairs []string) (cloudapi.CallArgs, error) {
	params, err := parseKeyValues(pairs)
	if err != nil {
		return cloudapi.CallArgs{}, err
	}

	headers, err := parseHeaders(f.headers)
	if err != nil {
		return cloudapi.CallArgs{}, err
	}

	args := cloudapi.CallArgs{Params: params, Headers: headers}

	if f.body != "" {
		body, err := readBody(f.body)
		if err != nil {
			return cloudapi.CallArgs{}, err
		}

		if _, ok := body.([]byte); ok {
			args.Headers.SetIfBlank("content-type", "application/json")
		}

		args.Body = body
	}

	if f.raw {
		args.Options = append(args.Options, cloudapi.WithRawResponse(true))
	}

	return args, nil
}

// readBody decodes a JSON object body so patterns can merge into it. Other
// JSON values are returned as raw bytes and anything else as a string.
func readBody(value string) (any, error) {
	data := []byte(value)

	if path, ok := strings.CutPrefix(value, "@"); ok {
		content, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}

		data = content
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return string(data), nil
	}

	if object, ok := body.(map[string]any); ok {
		return object, nil
	}

	return data, nil
}

func runCall(ctx context.Context, out io.Writer, flags *callFlags,
	send func(context.Context, *cloudclient.Client) (*cloudapi.Result, error),
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	client, err := createClient()
	if err != nil {
		return err
	}

	defer func() { _ = client.Close() }()

	result, err := send(ctx, client)

	var hit *cloudapi.CacheHitError

	switch {
	case errors.As(err, &hit):
		err = printCacheHit(out, format, hit)
	case err != nil:
		return err
	default:
		err = printResult(out, format, result)
	}

	if err != nil {
		return err
	}

	if flags.stats {
		return printStat(out, client.Stat(ctx))
	}

	return nil
}
