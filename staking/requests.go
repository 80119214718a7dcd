package staking

import (
	"sort"

	"github.com/holiman/uint256"
)

// RequestAction is the pending change a delegator scheduled on a delegation.
type RequestAction int

const (
	ActionDecrease RequestAction = iota
	ActionRevoke
)

func (a RequestAction) String() string {
	if a == ActionRevoke {
		return "revoke"
	}
	return "decrease"
}

// ScheduledRequest is the canonical shape of a pending decrease or revoke.
type ScheduledRequest struct {
	Delegator      AccountID
	Candidate      AccountID
	WhenExecutable uint32
	Action         RequestAction
	Amount         *uint256.Int
}

// RequestShape is a version-specific storage rendering of pending requests.
// The loader resolves every shape into ScheduledRequests exactly once.
type RequestShape interface {
	Canonical() []ScheduledRequest
}

// CurrentRequests is the per-candidate request list stored since scheduled
// requests moved to their own storage item.
type CurrentRequests struct {
	Candidate AccountID
	Requests  []CurrentRequest
}

type CurrentRequest struct {
	Delegator      AccountID
	WhenExecutable uint32
	Action         RequestAction
	Amount         *uint256.Int
}

func (c CurrentRequests) Canonical() []ScheduledRequest {

	out := make([]ScheduledRequest, 0, len(c.Requests))
	for _, r := range c.Requests {
		out = append(out, ScheduledRequest{
			Delegator:      r.Delegator,
			Candidate:      c.Candidate,
			WhenExecutable: r.WhenExecutable,
			Action:         r.Action,
			Amount:         r.Amount,
		})
	}

	return out
}

// LegacyRequests is the older per-delegator bookkeeping kept inside the
// delegator state: at most one request per collator.
type LegacyRequests struct {
	Delegator        AccountID
	RevocationsCount uint32
	Requests         map[AccountID]LegacyRequest
	LessTotal        *uint256.Int
}

type LegacyRequest struct {
	Collator       AccountID
	Amount         *uint256.Int
	WhenExecutable uint32
	Action         RequestAction
}

func (l LegacyRequests) Canonical() []ScheduledRequest {

	out := make([]ScheduledRequest, 0, len(l.Requests))
	for collator, r := range l.Requests {
		candidate := r.Collator
		if candidate == (AccountID{}) {
			candidate = collator
		}
		out = append(out, ScheduledRequest{
			Delegator:      l.Delegator,
			Candidate:      candidate,
			WhenExecutable: r.WhenExecutable,
			Action:         r.Action,
			Amount:         r.Amount,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return AccountLess(out[i].Candidate, out[j].Candidate)
	})

	return out
}

// Revocations indexes outstanding revokes as candidate -> delegators.
type Revocations map[AccountID]map[AccountID]struct{}

// RevocationsFrom keeps only revoke requests.
func RevocationsFrom(requests []ScheduledRequest) Revocations {

	r := make(Revocations)
	for _, req := range requests {
		if req.Action != ActionRevoke {
			continue
		}
		set, ok := r[req.Candidate]
		if !ok {
			set = make(map[AccountID]struct{})
			r[req.Candidate] = set
		}
		set[req.Delegator] = struct{}{}
	}

	return r
}

// Has reports whether delegator has an outstanding revoke against candidate.
func (r Revocations) Has(candidate, delegator AccountID) bool {
	set, ok := r[candidate]
	if !ok {
		return false
	}
	_, ok = set[delegator]
	return ok
}
