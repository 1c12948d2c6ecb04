package streaming

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a JSON value that may arrive as a number, a numeric string
// or null. Valid is false for null, empty or non-numeric input.
type Number struct {
	Value float64
	Valid bool
}

// Num returns a valid Number.
func Num(v float64) Number {
	return Number{Value: v, Valid: true}
}

// UnmarshalJSON never fails on a well-formed JSON scalar; unusable values
// decode as invalid.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n.Value, n.Valid = v, true
		return nil
	}
	if data[0] == 't' || data[0] == 'f' {
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		if b {
			n.Value = 1
		}
		n.Valid = true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		// objects and arrays are not numbers
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

// MarshalJSON writes null for invalid numbers.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid || math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Or returns the value when valid, otherwise def.
func (n Number) Or(def float64) float64 {
	if n.Valid {
		return n.Value
	}
	return def
}
