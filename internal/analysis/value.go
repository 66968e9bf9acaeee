package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Unavailable is what an unresolved field renders as.
const Unavailable = "—"

// Value is one resolved response field. The zero Value is unavailable.
type Value struct {
	raw     any
	present bool
}

// TextValue wraps a plain string.
func TextValue(s string) Value {
	return Value{raw: s, present: true}
}

// NumberValue wraps a numeric score.
func NumberValue(f float64) Value {
	return Value{raw: json.Number(strconv.FormatFloat(f, 'f', -1, 64)), present: true}
}

// Available reports whether the backend supplied this field.
func (v Value) Available() bool {
	return v.present
}

// String renders the value, or Unavailable.
func (v Value) String() string {
	if !v.present {
		return Unavailable
	}
	switch x := v.raw.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

// Float returns the numeric form of the value. Numeric strings such as "8"
// or "8/10" are accepted; the latter yields the numerator.
func (v Value) Float() (float64, bool) {
	if !v.present {
		return 0, false
	}
	switch x := v.raw.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if i := strings.IndexByte(s, '/'); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.raw)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = Value{raw: raw, present: raw != nil}
	return nil
}
