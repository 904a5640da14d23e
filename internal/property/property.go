// Package property defines the closed value type for event properties.
//
// Event properties accepted at the SDK surface are arbitrary Go values; this
// package converts them into a closed union of JSON shapes (string, number,
// bool, null, object, array) so that serialization is total and reversible.
// Numbers are carried as decimals rather than float64 so a value read back
// from the durable store marshals byte-for-byte the way it came in.
package property

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies which JSON shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one property value. The zero Value is JSON null.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	obj  Map
	arr  []Value
}

// Map is a set of named property values.
type Map map[string]Value

// Null returns the JSON null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Int returns a numeric value from an int64.
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }

// Float returns a numeric value from a float64.
func Float(f float64) Value { return Number(decimal.NewFromFloat(f)) }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Object returns an object value.
func Object(m Map) Value { return Value{kind: KindObject, obj: m} }

// Array returns an array value.
func Array(vs []Value) Value { return Value{kind: KindArray, arr: vs} }

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload if the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload if the value is a number.
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean payload if the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsObject returns the object payload if the value is an object.
func (v Value) AsObject() (Map, bool) { return v.obj, v.kind == KindObject }

// AsArray returns the array payload if the value is an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// FromAny converts an arbitrary Go value into a Value. Supported inputs are
// nil, strings, bools, Go numeric types, json.Number, decimal.Decimal,
// map[string]any, []any, and pre-built Value/Map types. Anything else is an
// error: the property type set is closed on purpose.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int8:
		return Int(int64(val)), nil
	case int16:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return Number(decimal.NewFromUint64(uint64(val))), nil
	case uint8:
		return Int(int64(val)), nil
	case uint16:
		return Int(int64(val)), nil
	case uint32:
		return Int(int64(val)), nil
	case uint64:
		return Number(decimal.NewFromUint64(val)), nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return Number(d), nil
	case decimal.Decimal:
		return Number(val), nil
	case Map:
		return Object(val), nil
	case map[string]any:
		m, err := MapFromAny(val)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case []Value:
		return Array(val), nil
	case []any:
		arr := make([]Value, 0, len(val))
		for i, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			arr = append(arr, pv)
		}
		return Array(arr), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", v)
	}
}

// MapFromAny converts a map of arbitrary Go values into a Map.
func MapFromAny(in map[string]any) (Map, error) {
	if in == nil {
		return nil, nil
	}
	m := make(Map, len(in))
	for k, v := range in {
		pv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		m[k] = pv
	}
	return m, nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		// decimal.Decimal marshals as a quoted string by default; emit the
		// bare numeric literal instead.
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	}
	return nil, fmt.Errorf("unknown property kind %d", int(v.kind))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode property value: %w", err)
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
