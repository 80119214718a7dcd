package staking

import (
	"encoding/json"
	"strconv"

	"github.com/holiman/uint256"
)

// BILLION is the Perbill denominator.
const BILLION = 1_000_000_000

var billion = uint256.NewInt(BILLION)

// Perbill is a fixed-point fraction in parts per billion. All proportional
// reward splits use it, multiplying first and truncating on the division.
type Perbill struct {
	parts uint64
}

// PerbillFromParts builds a Perbill from raw parts per billion.
func PerbillFromParts(parts uint64) Perbill {
	return Perbill{parts: parts}
}

// PerbillFromRational returns floor(num * 1e9 / den). A zero denominator yields zero.
func PerbillFromRational(num, den *uint256.Int) Perbill {

	if den == nil || den.IsZero() || num == nil {
		return Perbill{}
	}

	v := new(uint256.Int).Mul(num, billion)
	v.Div(v, den)

	return Perbill{parts: v.Uint64()}
}

// Parts returns the raw parts per billion.
func (p Perbill) Parts() uint64 {
	return p.parts
}

func (p Perbill) IsZero() bool {
	return p.parts == 0
}

// Of returns floor(v * p / 1e9).
func (p Perbill) Of(v *uint256.Int) *uint256.Int {

	r := new(uint256.Int)
	if v == nil || p.parts == 0 {
		return r
	}

	r.Mul(v, uint256.NewInt(p.parts))
	return r.Div(r, billion)
}

// Complement returns 1 - p, saturating at zero.
func (p Perbill) Complement() Perbill {
	if p.parts >= BILLION {
		return Perbill{}
	}
	return Perbill{parts: BILLION - p.parts}
}

// Add sums two shares without clamping, so that accumulated shares can be
// compared against a whole.
func (p Perbill) Add(o Perbill) Perbill {
	return Perbill{parts: p.parts + o.parts}
}

func (p Perbill) String() string {
	return strconv.FormatUint(p.parts, 10) + "ppb"
}

func (p Perbill) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.parts)
}

func (p *Perbill) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.parts)
}
