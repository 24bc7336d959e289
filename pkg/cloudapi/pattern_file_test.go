package cloudapi_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePatterns = `
patterns:
  - name: DescribeInstance
    verb: get
    path: "instances/{:InstanceId}"
    params:
      Filter: ":Filter"
      Tags: [":Tag", "static"]
    headers:
      x-token: __MUST_BE_SET__
    defaults:
      Filter: __NONE__
error_patterns:
  - action: retry
    code: "/5\\d\\d/"
    response!: "/Fatal/"
cache_patterns:
  - key: instances
    verb: get
    path: "/instances/"
`

func TestParsePatternFile(t *testing.T) { //nolint:funlen
	t.Parallel()

	file, err := cloudapi.ParsePatternFile([]byte(samplePatterns))
	require.NoError(t, err)

	patterns, err := file.QueryPatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	pattern := patterns[0]
	assert.Equal(t, "DescribeInstance", pattern.Name)
	assert.Equal(t, "instances/{:InstanceId}", pattern.Path)
	assert.Equal(t, cloudapi.Placeholder("Filter"), pattern.Params["Filter"])
	assert.Equal(t, []any{cloudapi.Placeholder("Tag"), "static"}, pattern.Params["Tags"])
	assert.Equal(t, cloudapi.MustBeSet, pattern.Headers["x-token"])
	assert.Equal(t, cloudapi.None, pattern.Defaults["Filter"])
	assert.Nil(t, pattern.Body)

	errorPatterns, err := file.ErrorPatternList()
	require.NoError(t, err)
	require.Len(t, errorPatterns, 1)
	assert.Equal(t, cloudapi.ActionRetry, errorPatterns[0].Action)
	assert.True(t, errorPatterns[0].Matches(cloudapi.MatchInput{
		Verb:     "get",
		Response: &cloudapi.Response{Code: 503, Body: []byte("busy")},
	}))
	assert.False(t, errorPatterns[0].Matches(cloudapi.MatchInput{
		Verb:     "get",
		Response: &cloudapi.Response{Code: 503, Body: []byte("Fatal")},
	}))

	cachePatterns, err := file.CachePatternList()
	require.NoError(t, err)
	require.Len(t, cachePatterns, 1)
	assert.Equal(t, "instances", cachePatterns[0].Key)
}

func TestParsePatternFile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		convert func(*cloudapi.PatternFile) error
		wantErr error
	}{
		{
			name:    "unknown key",
			yaml:    "patterns:\n  - name: A\n    verb: get\n    colour: red\n",
			wantErr: cloudapi.ErrUnsupportedPatternKeys,
		},
		{
			name: "missing name",
			yaml: "patterns:\n  - verb: get\n    path: items\n",
			convert: func(f *cloudapi.PatternFile) error {
				_, err := f.QueryPatterns()

				return err
			},
			wantErr: cloudapi.ErrPatternNameRequired,
		},
		{
			name: "unknown verb",
			yaml: "patterns:\n  - name: A\n    verb: fetch\n",
			convert: func(f *cloudapi.PatternFile) error {
				_, err := f.QueryPatterns()

				return err
			},
			wantErr: cloudapi.ErrUnknownVerb,
		},
		{
			name: "unknown action",
			yaml: "error_patterns:\n  - action: explode\n    code: \"500\"\n",
			convert: func(f *cloudapi.PatternFile) error {
				_, err := f.ErrorPatternList()

				return err
			},
			wantErr: cloudapi.ErrUnsupportedAction,
		},
		{
			name: "cache pattern without key",
			yaml: "cache_patterns:\n  - verb: get\n",
			convert: func(f *cloudapi.PatternFile) error {
				_, err := f.CachePatternList()

				return err
			},
			wantErr: cloudapi.ErrCacheKeyRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			file, err := cloudapi.ParsePatternFile([]byte(tt.yaml))
			if tt.convert != nil {
				require.NoError(t, err)
				err = tt.convert(file)
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, cloudapi.IsConfigurationError(err))
		})
	}
}

func TestLoadPatternFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patterns.yml")
	require.NoError(t, os.WriteFile(path, []byte(samplePatterns), 0o600))

	file, err := cloudapi.LoadPatternFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Patterns, 1)

	_, err = cloudapi.LoadPatternFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	empty, err := cloudapi.ParsePatternFile(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Patterns)
}
