package chain

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Quantity is an unsigned integer as gateways render it: a JSON number, a
// decimal string or a 0x-prefixed hex string.
type Quantity uint64

func (q Quantity) Uint64() uint64 {
	return uint64(q)
}

func (q *Quantity) UnmarshalJSON(data []byte) error {

	s := strings.TrimSpace(string(data))
	if s == "null" {
		*q = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}

	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(strings.ReplaceAll(s, ",", ""), 10, 64)
	}
	if err != nil {
		return errors.Wrapf(err, "Unable to parse quantity %s", s)
	}

	*q = Quantity(v)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(q), 10)), nil
}
