package paramsubst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteResolvesAllReferences(t *testing.T) {
	e := New()
	out, err := e.Substitute("host=${host}, port=${port}", map[string]string{"host": "localhost", "port": "8080"}, true)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost, port=8080", out)
}

func TestSubstituteRoundTrip(t *testing.T) {
	// After substitution the value must equal the map value exactly.
	e := New()
	out, err := e.Substitute("${name}", map[string]string{"name": "widget"}, true)
	require.NoError(t, err)
	assert.Equal(t, "widget", out)
}

func TestSubstituteRequiredMissingFails(t *testing.T) {
	e := New()
	_, err := e.Substitute("${missing}", map[string]string{}, true)
	assert.ErrorContains(t, err, "configuration_invalid")
}

func TestSubstituteOptionalMissingLeavesPlaceholder(t *testing.T) {
	e := New()
	out, err := e.Substitute("${missing}", map[string]string{}, false)
	require.NoError(t, err)
	assert.Equal(t, "${missing}", out)
}

func TestReferencesExtractsNamesInOrder(t *testing.T) {
	refs := References("${a} and ${b} and ${a} again")
	assert.Equal(t, []string{"a", "b"}, refs)
}

func TestFuncMapHasSprigFunctions(t *testing.T) {
	e := New()
	_, ok := e.Func("trim")
	assert.True(t, ok)
	assert.NotEmpty(t, e.FuncMap())
}
