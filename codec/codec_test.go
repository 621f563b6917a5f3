package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	c := JSON{}

	b, err := c.Marshal(map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, float64(30), got["age"])
	assert.Equal(t, "json", c.Name())
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("cbor")
	assert.False(t, ok)
}

func TestMustMarshalPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustMarshal(nil, make(chan int))
	})
	assert.Equal(t, []byte(`true`), MustMarshal(nil, true))
}
