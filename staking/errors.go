package staking

import (
	"fmt"
)

// InvariantViolation is decoded state that contradicts a stated invariant.
// It is always surfaced and never downgraded.
type InvariantViolation struct {
	Round    uint32
	Collator AccountID
	Detail   string
	Expected string
	Actual   string
}

func (e *InvariantViolation) Error() string {

	who := ""
	if e.Collator != (AccountID{}) {
		who = " collator " + e.Collator.Hex()
	}

	return fmt.Sprintf("invariant violation in round %d%s: %s (expected %s, actual %s)",
		e.Round, who, e.Detail, e.Expected, e.Actual)
}
