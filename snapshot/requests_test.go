package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardaudit/chain"
	"rewardaudit/chain/chaintest"
	"rewardaudit/snapshot"
	"rewardaudit/staking"
)

func TestLoadRevocationsCurrentShape(t *testing.T) {

	fake := chaintest.New(50)
	fake.SetEntries(40, chain.DelegationScheduledRequests, []chain.Entry{
		chaintest.NewEntry([]map[string]interface{}{
			{"delegator": delegatorA, "whenExecutable": 12, "action": map[string]string{"Revoke": "3000"}},
			{"delegator": delegatorB, "whenExecutable": 12, "action": map[string]string{"Decrease": "10"}},
		}, collatorA),
	})

	loader := snapshot.NewLoader(fake, snapshot.Options{})
	runtime := staking.Runtime{SpecVersion: 2200}

	before, err := loader.LoadRevocations(context.Background(), 39, runtime)
	require.NoError(t, err)
	assert.Empty(t, before)

	revokes, err := loader.LoadRevocations(context.Background(), 45, runtime)
	require.NoError(t, err)
	assert.True(t, revokes.Has(collatorA, delegatorA))
	assert.False(t, revokes.Has(collatorA, delegatorB))

	requests, err := loader.LoadRequests(context.Background(), 45, runtime)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, staking.ActionRevoke, requests[0].Action)
	assert.Equal(t, uint64(3000), requests[0].Amount.Uint64())
	assert.Equal(t, staking.ActionDecrease, requests[1].Action)
}

func TestLoadRevocationsLegacyShape(t *testing.T) {

	fake := chaintest.New(50)
	fake.SetEntries(0, chain.DelegatorState, []chain.Entry{
		chaintest.NewEntry(map[string]interface{}{
			"id": delegatorA,
			"requests": map[string]interface{}{
				"revocationsCount": 1,
				"requests": map[string]interface{}{
					collatorA.Hex(): map[string]interface{}{
						"collator": collatorA, "amount": "3000", "whenExecutable": 12, "action": "Revoke",
					},
					collatorB.Hex(): map[string]interface{}{
						"collator": collatorB, "amount": "5", "whenExecutable": 12, "action": "Decrease",
					},
				},
				"lessTotal": "3005",
			},
		}, delegatorA),
	})

	loader := snapshot.NewLoader(fake, snapshot.Options{})
	runtime := staking.Runtime{SpecVersion: staking.SCHEDULED_REQUESTS_VERSION - 1}

	revokes, err := loader.LoadRevocations(context.Background(), 10, runtime)
	require.NoError(t, err)
	assert.True(t, revokes.Has(collatorA, delegatorA))
	assert.False(t, revokes.Has(collatorB, delegatorA))

	requests, err := loader.LoadRequests(context.Background(), 10, runtime)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, collatorA, requests[0].Candidate)
	assert.Equal(t, delegatorA, requests[0].Delegator)
}

func TestLoadRevocationsRejectsUnknownAction(t *testing.T) {

	fake := chaintest.New(50)
	fake.SetEntries(0, chain.DelegationScheduledRequests, []chain.Entry{
		chaintest.NewEntry([]map[string]interface{}{
			{"delegator": delegatorA, "whenExecutable": 12, "action": map[string]string{"Teleport": "1"}},
		}, collatorA),
	})

	_, err := snapshot.NewLoader(fake, snapshot.Options{}).LoadRevocations(context.Background(), 10, staking.Runtime{SpecVersion: 2200})
	assert.Error(t, err)
}
