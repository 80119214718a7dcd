package staking

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// NewBalance returns v as a balance.
func NewBalance(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// ParseBalance accepts a decimal string or a 0x-prefixed big-endian hex string.
// Hex values may be zero-padded, as state readers render u128 that way.
func ParseBalance(s string) (*uint256.Int, error) {

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty balance")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		raw, err := hex.DecodeString(digits)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to decode hex balance %q", s)
		}
		if len(raw) > 32 {
			return nil, errors.Errorf("hex balance %q overflows 256 bits", s)
		}
		return new(uint256.Int).SetBytes(raw), nil
	}

	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, errors.Errorf("invalid decimal balance %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Errorf("decimal balance %q overflows 256 bits", s)
	}

	return v, nil
}

// FormatBalance renders a balance as a decimal string; nil renders as "0".
func FormatBalance(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

// Amount is the JSON form of a balance. It decodes numbers, decimal strings and
// 0x-prefixed hex, and always encodes as a decimal string so reports stay stable.
type Amount struct {
	v uint256.Int
}

// AmountOf wraps a copy of v.
func AmountOf(v *uint256.Int) Amount {
	var a Amount
	if v != nil {
		a.v.Set(v)
	}
	return a
}

// Int returns a copy of the amount.
func (a Amount) Int() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

func (a Amount) String() string {
	return FormatBalance(&a.v)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {

	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.v.Clear()
		return nil
	}

	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "Unable to decode balance string")
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Wrap(err, "Unable to decode balance number")
		}
		s = n.String()
	}

	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	a.v.Set(v)

	return nil
}

// AbsDiff returns |a - b| along with whether a < b.
func AbsDiff(a, b *uint256.Int) (*uint256.Int, bool) {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a), true
	}
	return new(uint256.Int).Sub(a, b), false
}

// SaturatingSub returns max(a - b, 0).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
