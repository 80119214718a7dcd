package snapshot

import (
	"fmt"

	"github.com/pkg/errors"

	"rewardaudit/staking"
)

var (
	// ErrRoundUnderflow is the cause of an UnavailableError when walking back
	// to a round would query before genesis.
	ErrRoundUnderflow = errors.New("round start underflows genesis")

	// ErrRoundNotPaid is the cause when the round's payout window is not
	// complete at the anchor block.
	ErrRoundNotPaid = errors.New("round not yet paid")
)

// InvariantViolation is decoded state contradicting a stated invariant.
type InvariantViolation = staking.InvariantViolation

// UnavailableError means the snapshot for a round could not be read. No
// partial snapshot accompanies it.
type UnavailableError struct {
	Round uint32
	Op    string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("snapshot for round %d unavailable: %s: %v", e.Round, e.Op, e.Err)
}

func (e *UnavailableError) Cause() error {
	return e.Err
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(round uint32, op string, err error) error {

	var inv *InvariantViolation
	if errors.As(err, &inv) {
		return err
	}

	var u *UnavailableError
	if errors.As(err, &u) {
		return err
	}

	return &UnavailableError{Round: round, Op: op, Err: err}
}

func undecodable(round uint32, collator staking.AccountID, what string, err error) error {
	return &InvariantViolation{
		Round:    round,
		Collator: collator,
		Detail:   "undecodable " + what,
		Expected: "well-formed value",
		Actual:   err.Error(),
	}
}

// Classify turns an error from reading round's state into an InvariantViolation
// when the state could not be decoded, and an UnavailableError otherwise.
func Classify(round uint32, op string, err error) error {
	return classify(round, staking.AccountID{}, op, err)
}

func classify(round uint32, collator staking.AccountID, op string, err error) error {

	var de *decodeError
	if errors.As(err, &de) {
		return undecodable(round, collator, de.key.String(), de.err)
	}

	return unavailable(round, op, err)
}
