package staking

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyRequestsTranslate(t *testing.T) {

	collatorB := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	legacy := LegacyRequests{
		Delegator:        delegatorA,
		RevocationsCount: 1,
		Requests: map[AccountID]LegacyRequest{
			collatorB: {Collator: collatorB, Amount: NewBalance(10), WhenExecutable: 9, Action: ActionDecrease},
			collatorA: {Collator: collatorA, Amount: NewBalance(50), WhenExecutable: 8, Action: ActionRevoke},
		},
	}

	var shape RequestShape = legacy
	reqs := shape.Canonical()
	require.Len(t, reqs, 2)

	// sorted by candidate
	assert.Equal(t, collatorA, reqs[0].Candidate)
	assert.Equal(t, ActionRevoke, reqs[0].Action)
	assert.Equal(t, delegatorA, reqs[0].Delegator)
	assert.Equal(t, collatorB, reqs[1].Candidate)

	revokes := RevocationsFrom(reqs)
	assert.True(t, revokes.Has(collatorA, delegatorA))
	assert.False(t, revokes.Has(collatorB, delegatorA))
}

func TestCurrentRequestsTranslate(t *testing.T) {

	current := CurrentRequests{
		Candidate: collatorA,
		Requests: []CurrentRequest{
			{Delegator: delegatorA, Action: ActionDecrease, Amount: NewBalance(5)},
			{Delegator: delegatorB, Action: ActionRevoke, Amount: NewBalance(7)},
		},
	}

	revokes := RevocationsFrom(current.Canonical())
	assert.False(t, revokes.Has(collatorA, delegatorA))
	assert.True(t, revokes.Has(collatorA, delegatorB))
}
