package staking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBalance(t *testing.T) {

	v, err := ParseBalance("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", FormatBalance(v))

	// zero-padded u128 hex, as rendered by state readers
	v, err = ParseBalance("0x0000000000000000000000e8d4a51000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000", FormatBalance(v))

	v, err = ParseBalance("0x0")
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = ParseBalance("-5")
	require.Error(t, err)

	_, err = ParseBalance("")
	require.Error(t, err)
}

func TestAmountJSON(t *testing.T) {

	var out struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "0x10", "c": "7"}`), &out))

	assert.Equal(t, "42", out.A.String())
	assert.Equal(t, "16", out.B.String())
	assert.Equal(t, "7", out.C.String())

	encoded, err := json.Marshal(out.B)
	require.NoError(t, err)
	assert.Equal(t, `"16"`, string(encoded))
}

func TestAbsDiff(t *testing.T) {

	d, neg := AbsDiff(NewBalance(3), NewBalance(10))
	assert.True(t, neg)
	assert.Equal(t, NewBalance(7), d)

	d, neg = AbsDiff(NewBalance(10), NewBalance(3))
	assert.False(t, neg)
	assert.Equal(t, NewBalance(7), d)

	assert.True(t, SaturatingSub(NewBalance(1), NewBalance(2)).IsZero())
}
