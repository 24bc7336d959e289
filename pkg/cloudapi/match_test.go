package cloudapi_test

import (
	"regexp"
	"testing"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	t.Parallel()

	condition, err := cloudapi.ParseCondition(`/5\d\d/`)
	require.NoError(t, err)
	assert.True(t, condition.Match("503"))
	assert.False(t, condition.Match("404"))

	condition, err = cloudapi.ParseCondition("GET")
	require.NoError(t, err)
	assert.True(t, condition.Match("get"))
	assert.False(t, condition.Match("post"))

	condition, err = cloudapi.ParseCondition("/")
	require.NoError(t, err)
	assert.True(t, condition.Match("/"))

	_, err = cloudapi.ParseCondition("/[/")
	require.Error(t, err)
}

func TestPatternMatches(t *testing.T) { //nolint:funlen
	t.Parallel()

	in := cloudapi.MatchInput{
		Verb:     "GET",
		Request:  &cloudapi.Request{Path: "/v1/items?Id=1"},
		Response: &cloudapi.Response{Code: 503, Body: []byte("Throttling: slow down")},
	}

	tests := []struct {
		name      string
		match     cloudapi.Conditions
		not       cloudapi.Conditions
		predicate func(cloudapi.MatchInput) bool
		expected  bool
	}{
		{name: "empty matches", expected: true},
		{
			name:     "all positive",
			match:    cloudapi.Conditions{Verb: cloudapi.Equals("get"), Code: cloudapi.MustRegexp(`^5`)},
			expected: true,
		},
		{
			name:     "positive miss",
			match:    cloudapi.Conditions{Path: cloudapi.MustRegexp(`/orders`)},
			expected: false,
		},
		{
			name:     "negation wins",
			match:    cloudapi.Conditions{Code: cloudapi.MustRegexp(`^5`)},
			not:      cloudapi.Conditions{Response: cloudapi.Regexp(regexp.MustCompile(`Throttling`))},
			expected: false,
		},
		{
			name:      "predicate rejects",
			match:     cloudapi.Conditions{Verb: cloudapi.Equals("GET")},
			predicate: func(cloudapi.MatchInput) bool { return false },
			expected:  false,
		},
		{
			name:     "condition func",
			match:    cloudapi.Conditions{Request: cloudapi.ConditionFunc(func(string) bool { return true })},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, cloudapi.PatternMatches(tt.match, tt.not, tt.predicate, in))
		})
	}
}

func TestErrorPattern_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern *cloudapi.ErrorPattern
		wantErr error
	}{
		{
			name:    "valid retry",
			pattern: &cloudapi.ErrorPattern{Action: cloudapi.ActionRetry, Match: cloudapi.Conditions{Code: cloudapi.Equals("500")}},
		},
		{
			name:    "unknown action",
			pattern: &cloudapi.ErrorPattern{Action: "explode", Match: cloudapi.Conditions{Code: cloudapi.Equals("500")}},
			wantErr: cloudapi.ErrUnsupportedAction,
		},
		{
			name:    "no conditions",
			pattern: &cloudapi.ErrorPattern{Action: cloudapi.ActionAbort},
			wantErr: cloudapi.ErrEmptyPattern,
		},
		{
			name: "request action with response fields",
			pattern: &cloudapi.ErrorPattern{
				Action: cloudapi.ActionAbortOnTimeout,
				Match:  cloudapi.Conditions{Path: cloudapi.Equals("/slow"), Code: cloudapi.Equals("500")},
			},
			wantErr: cloudapi.ErrUnsupportedPatternKeys,
		},
		{
			name: "request action with request fields",
			pattern: &cloudapi.ErrorPattern{
				Action: cloudapi.ActionAbortOnTimeout,
				Match:  cloudapi.Conditions{Path: cloudapi.Equals("/slow")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.pattern.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, cloudapi.IsConfigurationError(err))
		})
	}
}

func TestCachePattern_BuildKey(t *testing.T) {
	t.Parallel()

	in := cloudapi.MatchInput{
		Verb:     "get",
		Response: &cloudapi.Response{Code: 200, Body: []byte(`{"items":[]}`)},
		Params:   map[string]any{"Region": "eu"},
	}

	pattern := &cloudapi.CachePattern{Key: "items"}
	require.NoError(t, pattern.Validate())

	key, text, err := pattern.BuildKey(in)
	require.NoError(t, err)
	assert.Equal(t, "items", key)
	assert.JSONEq(t, `{"items":[]}`, text)

	pattern = &cloudapi.CachePattern{
		KeyFunc: func(in cloudapi.MatchInput) string { return "items-" + cloudapi.Stringify(in.Params["Region"]) },
		Sign:    func(cloudapi.MatchInput) (string, bool) { return "signed", true },
	}

	key, text, err = pattern.BuildKey(in)
	require.NoError(t, err)
	assert.Equal(t, "items-eu", key)
	assert.Equal(t, "signed", text)
	assert.Equal(t, "key=<func> {}", pattern.String())

	pattern = &cloudapi.CachePattern{Key: "items", Sign: func(cloudapi.MatchInput) (string, bool) { return "", false }}
	_, _, err = pattern.BuildKey(in)
	require.ErrorIs(t, err, cloudapi.ErrNothingToSign)

	pattern = &cloudapi.CachePattern{KeyFunc: func(cloudapi.MatchInput) string { return "" }}
	_, _, err = pattern.BuildKey(in)
	require.ErrorIs(t, err, cloudapi.ErrCannotBuildCacheKey)

	require.ErrorIs(t, (&cloudapi.CachePattern{}).Validate(), cloudapi.ErrCacheKeyRequired)
}

func TestErrorPattern_String(t *testing.T) {
	t.Parallel()

	pattern := &cloudapi.ErrorPattern{
		Action: cloudapi.ActionRetry,
		Match:  cloudapi.Conditions{Code: cloudapi.MustRegexp(`5\d\d`)},
		Not:    cloudapi.Conditions{Verb: cloudapi.Equals("post")},
	}

	assert.Equal(t, `retry {code=/5\d\d/ verb!="post"}`, pattern.String())
}
