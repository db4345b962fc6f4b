package ir

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// ParseNumber converts JSON number text into a Value. Numbers with an
// integral value that fits int64 become Int, so "1.0", "1e0" and "1" are
// the same value. Everything else becomes a Decimal with trailing zeros
// removed, written in plain notation unless the exponent calls for
// d.ddde±n ("9.99", "1.2e-7", "1.5e+30").
func ParseNumber(s string) (Value, error) {
	if !isJSONNumber(s) {
		return nil, fmt.Errorf("invalid number: %q", s)
	}
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	d.Reduce(&d)
	if n, err := d.Int64(); err == nil {
		return Int(n), nil
	}
	return Decimal(d.Text('g')), nil
}

// isJSONNumber reports whether s is a bare JSON number.
func isJSONNumber(s string) bool {
	if s == "" || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return false
	}
	last := s[len(s)-1]
	return last >= '0' && last <= '9' && json.Valid([]byte(s))
}
