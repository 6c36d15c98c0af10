package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSortsKeys(t *testing.T) {
	data, err := JSON(map[string]any{
		"zebra": 1,
		"alpha": "x",
		"mid":   []string{"b", "a"},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"alpha":"x","mid":["b","a"],"zebra":1}`, string(data))
}

func TestHashJSONDeterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "nested": map[string]any{"y": nil, "x": "v"}}

	first, err := HashJSON(v)
	require.NoError(t, err)
	second, err := HashJSON(v)
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)

	changed, err := HashJSON(map[string]any{"b": 2, "a": 1, "nested": map[string]any{"y": nil, "x": "w"}})
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestSHA256Hex(t *testing.T) {
	// Known digest of the empty input.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SHA256Hex(nil))
	assert.Len(t, SHA256(nil), 32)
}
