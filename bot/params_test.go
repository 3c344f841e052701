package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindScalars(t *testing.T) {
	params := []Param{
		StringParam("name"),
		IntParam("count"),
		BoolParam("verbose"),
	}
	bound, err := bind(params, "greet", "alice 3 true")
	require.NoError(t, err)
	assert.Equal(t, "alice", bound.String("name"))
	assert.Equal(t, int64(3), bound.Int("count"))
	assert.True(t, bound.Bool("verbose"))
}

func TestBindScalarParseFailureZeroesAndLeavesTokenUnconsumed(t *testing.T) {
	params := []Param{
		IntParam("count"),
		RestParam("rest"),
	}
	bound, err := bind(params, "cmd", "notanumber leftover words")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bound.Int("count"))
	assert.Equal(t, "notanumber leftover words", bound.Rest())
}

func TestBindArrayStopsOnFirstParseFailure(t *testing.T) {
	params := []Param{
		ArrayParam("nums", KindInt),
	}
	bound, err := bind(params, "sum", "1 2 3 x 4")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, bound.Array("nums"))
}

func TestBindRequiredValidatorFails(t *testing.T) {
	params := []Param{
		StringParam("name", Required()),
	}
	_, err := bind(params, "cmd", "")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Param)
}

func TestBindRangeValidator(t *testing.T) {
	params := []Param{
		IntParam("level", Range(1, 5)),
	}
	_, err := bind(params, "cmd", "9")
	require.Error(t, err)

	bound, err := bind(params, "cmd", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), bound.Int("level"))
}

func TestBindRestPreservesSpacingFromFirstUnconsumedToken(t *testing.T) {
	params := []Param{
		StringParam("first"),
		RestParam("message"),
	}
	bound, err := bind(params, "say", "x   hello   world")
	require.NoError(t, err)
	assert.Equal(t, "x", bound.String("first"))
	assert.Equal(t, "hello   world", bound.Rest())
}
