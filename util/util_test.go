package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {

	a, err := DigestHex([]byte(`{"round":10}`))
	require.NoError(t, err)
	b, err := DigestHex([]byte(`{"round":10}`))
	require.NoError(t, err)
	c, err := DigestHex([]byte(`{"round":11}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 2+64)
}

func TestNetworks(t *testing.T) {

	assert.True(t, IsValidNetwork(NETWORK_MOONBEAM))
	assert.False(t, IsValidNetwork("granadanet"))
	assert.Equal(t, "local,moonbase,moonbeam,moonriver", AvailableNetworks())

	_, err := GetNetworkConstants("nope")
	assert.Error(t, err)
}
