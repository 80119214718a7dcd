package staking

import (
	"encoding/json"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var hundred = uint256.NewInt(100)

// Percent is a whole-number percentage in [0, 100], used for auto-compound
// preferences and the parachain bond reserve.
type Percent struct {
	value uint8
}

// NewPercent returns an error when v exceeds 100.
func NewPercent(v uint64) (Percent, error) {
	if v > 100 {
		return Percent{}, errors.Errorf("percent %d out of range", v)
	}
	return Percent{value: uint8(v)}, nil
}

// MustPercent is NewPercent for literals.
func MustPercent(v uint64) Percent {
	p, err := NewPercent(v)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Percent) Value() uint8 {
	return p.value
}

func (p Percent) IsZero() bool {
	return p.value == 0
}

// Of returns floor(v * p / 100).
func (p Percent) Of(v *uint256.Int) *uint256.Int {

	r := new(uint256.Int)
	if v == nil || p.value == 0 {
		return r
	}

	r.Mul(v, uint256.NewInt(uint64(p.value)))
	return r.Div(r, hundred)
}

// OfCeil returns ceil(v * p / 100). Auto-compounded amounts round up.
func (p Percent) OfCeil(v *uint256.Int) *uint256.Int {

	r := new(uint256.Int)
	if v == nil || p.value == 0 {
		return r
	}

	r.Mul(v, uint256.NewInt(uint64(p.value)))
	r.AddUint64(r, 99)
	return r.Div(r, hundred)
}

func (p Percent) String() string {
	return strconv.Itoa(int(p.value)) + "%"
}

func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.value)
}

func (p *Percent) UnmarshalJSON(data []byte) error {

	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "Unable to decode percent")
	}

	np, err := NewPercent(v)
	if err != nil {
		return err
	}
	*p = np

	return nil
}
