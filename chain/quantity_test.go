package chain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/chain"
)

func TestQuantityDecodes(t *testing.T) {

	cases := map[string]uint64{
		`42`:       42,
		`"42"`:     42,
		`"0x2a"`:   42,
		`"1,800"`:  1800,
		`null`:     0,
		`"0x0000"`: 0,
	}

	for in, want := range cases {
		var q chain.Quantity
		require.NoError(t, json.Unmarshal([]byte(in), &q), in)
		assert.Equal(t, want, q.Uint64(), in)
	}

	var q chain.Quantity
	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &q))
}

func TestEventIs(t *testing.T) {

	e := chain.Event{Pallet: "parachainStaking", Method: "Rewarded"}
	assert.True(t, e.Is(chain.PALLET_STAKING, "Rewarded"))
	assert.False(t, e.Is(chain.PALLET_STAKING, "Compounded"))
	assert.True(t, chain.IsEmpty(nil))
	assert.True(t, chain.IsEmpty(json.RawMessage(" null ")))
}
