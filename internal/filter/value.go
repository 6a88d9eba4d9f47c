package filter

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

type valueKind int

const (
	valueNone valueKind = iota
	valueNumber
	valueString
	valueSet
)

// Value is a condition operand: a number, a string (date or single enum member)
// or a set of enum members. It encodes as the matching JSON scalar or array.
type Value struct {
	kind valueKind
	num  float64
	str  string
	set  []string
}

// Number returns a numeric value.
func Number(v float64) Value {
	return Value{kind: valueNumber, num: v}
}

// String returns a string value.
func String(v string) Value {
	return Value{kind: valueString, str: v}
}

// Strings returns a set value.
func Strings(values ...string) Value {
	return Value{kind: valueSet, set: append([]string(nil), values...)}
}

// Ints returns a set value of integer identifiers such as genre ids.
func Ints(values ...int) Value {
	set := make([]string, len(values))
	for i, v := range values {
		set[i] = strconv.Itoa(v)
	}
	return Value{kind: valueSet, set: set}
}

// IsZero reports whether the value is absent.
func (v Value) IsZero() bool {
	return v.kind == valueNone
}

// IsSet reports whether the value holds several members.
func (v Value) IsSet() bool {
	return v.kind == valueSet
}

// AsNumber returns the value as a number. Numeric strings are accepted.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case valueNumber:
		return v.num, true
	case valueString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	}
	return 0, false
}

// AsString returns a scalar value as text.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case valueString:
		return v.str, true
	case valueNumber:
		return formatNumber(v.num), true
	}
	return "", false
}

// Members returns the value as a list of enum members. A scalar yields one member.
func (v Value) Members() []string {
	switch v.kind {
	case valueSet:
		return v.set
	case valueString:
		return []string{v.str}
	case valueNumber:
		return []string{formatNumber(v.num)}
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case valueNumber:
		return formatNumber(v.num)
	case valueString:
		return v.str
	case valueSet:
		return fmt.Sprintf("%v", v.set)
	}
	return "<none>"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueNumber:
		return json.Marshal(v.num)
	case valueString:
		return json.Marshal(v.str)
	case valueSet:
		return json.Marshal(v.set)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Arrays may mix numbers and strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '[':
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		set := make([]string, 0, len(raw))
		for _, r := range raw {
			switch m := r.(type) {
			case string:
				set = append(set, m)
			case float64:
				set = append(set, formatNumber(m))
			default:
				return fmt.Errorf("unsupported set member %v", r)
			}
		}
		*v = Value{kind: valueSet, set: set}
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("unsupported filter value %s", data)
		}
		*v = Number(f)
	}
	return nil
}
