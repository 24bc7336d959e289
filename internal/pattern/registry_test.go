package pattern_test

import (
	"testing"

	"github.com/fivetwenty-io/cloudapi/internal/pattern"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupPrefersLocal(t *testing.T) {
	t.Parallel()

	parent := pattern.NewRegistry(nil)
	child := pattern.NewRegistry(parent)

	_, err := parent.Register(cloudapi.QueryPattern{Name: "List", Verb: "get", Path: "parent"})
	require.NoError(t, err)
	_, err = parent.Register(cloudapi.QueryPattern{Name: "Describe", Verb: "get", Path: "describe"})
	require.NoError(t, err)
	_, err = child.Register(cloudapi.QueryPattern{Name: "List", Verb: "get", Path: "child"})
	require.NoError(t, err)

	compiled, err := child.Lookup("List")
	require.NoError(t, err)
	assert.Equal(t, "child", compiled.Pattern.Path)

	compiled, err = child.Lookup("Describe")
	require.NoError(t, err)
	assert.Equal(t, "describe", compiled.Pattern.Path)

	compiled, err = parent.Lookup("List")
	require.NoError(t, err)
	assert.Equal(t, "parent", compiled.Pattern.Path)

	assert.Equal(t, []string{"Describe", "List"}, child.Names())
}

func TestRegistry_NotFound(t *testing.T) {
	t.Parallel()

	registry := pattern.NewRegistry(nil)

	_, err := registry.Lookup("Missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudapi.ErrPatternNotFound)
	assert.Equal(t, "Missing: does not exist", registry.Explain("Missing"))
}

func TestRegistry_Explain(t *testing.T) {
	t.Parallel()

	registry := pattern.NewRegistry(nil)

	_, err := registry.Register(cloudapi.QueryPattern{
		Name:    "GetResourceWithHardcodedData",
		Verb:    "get",
		Path:    "resource/1",
		Params:  map[string]any{"p1": 1, "p2": 2},
		Headers: map[string]any{"x-text-header": "my-test-value"},
		Body:    "MyTestStringBody",
		After:   func(*cloudapi.PatternRequest) {},
	})
	require.NoError(t, err)

	expected := "GetResourceWithHardcodedData: GET 'resource/1'" +
		"\n  - params  :  map[p1:1 p2:2]" +
		"\n  - headers :  map[x-text-header:my-test-value]" +
		"\n  - body    :  MyTestStringBody" +
		"\n  - after   :  <func>"
	assert.Equal(t, expected, registry.Explain("GetResourceWithHardcodedData"))
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	t.Parallel()

	registry := pattern.NewRegistry(nil)

	_, err := registry.Register(cloudapi.QueryPattern{Name: "Bad", Verb: "connect"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudapi.ErrUnknownVerb)
	assert.Empty(t, registry.Names())
}
