// Package value holds the typed scalars that move between source columns and
// merged output records.
//
// Source columns come in four numeric flavours (float32, int32, int8, int16).
// Output records only know two logical types: Float32 and Int32. A Carrier
// stages one source value per row; Widen turns it into a nullable Value of the
// logical type.
//
// The set of source types is closed. A column of any other native type is
// tagged Unsupported when a table is loaded and rejected with
// ErrUnsupportedType as soon as discovery tries to keep it, so no code path
// ever has to guess how to convert an unknown value.
//
// Missing values are explicit: a Value carries a validity bit and the legacy
// -999 marker only appears when a sink asks for it (WithSentinel).
package value

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel is the legacy marker written for missing values when a sink is
// asked to produce sentinel-filled output instead of nulls.
const Sentinel = -999

// ErrUnsupportedType is returned when a column's native type is outside the
// supported source types.
var ErrUnsupportedType = errors.New("value: unsupported source type")

// SourceType tags the native type of a source column.
type SourceType uint8

// Source types. The zero value is Unsupported.
const (
	Unsupported SourceType = iota
	SourceFloat32
	SourceInt32
	SourceInt8
	SourceInt16
)

// String returns the lower-case Go name of the type ("float32", ...).
func (t SourceType) String() string {
	switch t {
	case SourceFloat32:
		return "float32"
	case SourceInt32:
		return "int32"
	case SourceInt8:
		return "int8"
	case SourceInt16:
		return "int16"
	default:
		return "unsupported"
	}
}

// Logical maps the source type onto the output type it widens to: floats
// stay Float32, every integer flavour becomes Int32.
// Unsupported yields ErrUnsupportedType.
func (t SourceType) Logical() (LogicalType, error) {
	switch t {
	case SourceFloat32:
		return Float32, nil
	case SourceInt32, SourceInt8, SourceInt16:
		return Int32, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

// LogicalType is the type of an output field. It serializes by name
// ("Float32", "Int32") in JSON and YAML.
type LogicalType uint8

// Logical types. The zero value is invalid.
const (
	Float32 LogicalType = iota + 1
	Int32
)

// String returns the type name as it appears in persisted configurations.
func (t LogicalType) String() string {
	switch t {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "LogicalType(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseLogicalType accepts the names produced by String, case-sensitively.
func ParseLogicalType(s string) (LogicalType, error) {
	switch s {
	case "Float32":
		return Float32, nil
	case "Int32":
		return Int32, nil
	}
	return 0, fmt.Errorf("value: unknown logical type %q", s)
}

// Value is a nullable scalar of one logical type. The zero Value has no type
// and is not valid; it marks a slot that was never written.
//
// Values are small and compared with ==, so records store them by value.
type Value struct {
	typ   LogicalType
	valid bool
	f     float32
	i     int32
}

// Float wraps a present Float32 value.
func Float(f float32) Value { return Value{typ: Float32, valid: true, f: f} }

// Int wraps a present Int32 value.
func Int(i int32) Value { return Value{typ: Int32, valid: true, i: i} }

// Null returns a missing value of type t.
func Null(t LogicalType) Value { return Value{typ: t} }

// Type returns the logical type, also for nulls.
func (v Value) Type() LogicalType { return v.typ }

// Valid reports whether the value is present.
func (v Value) Valid() bool { return v.valid }

// Float32 returns the float payload; zero for nulls and Int32 values.
func (v Value) Float32() float32 { return v.f }

// Int32 returns the int payload; zero for nulls and Float32 values.
func (v Value) Int32() int32 { return v.i }

// Any returns the payload as float32 or int32, or nil when the value is null.
func (v Value) Any() any {
	if !v.valid {
		return nil
	}
	if v.typ == Float32 {
		return v.f
	}
	return v.i
}

// WithSentinel returns the payload, substituting Sentinel for nulls.
func (v Value) WithSentinel() any {
	if v.valid {
		return v.Any()
	}
	if v.typ == Float32 {
		return float32(Sentinel)
	}
	return int32(Sentinel)
}

// String formats the payload, or "null".
func (v Value) String() string {
	if !v.valid {
		return "null"
	}
	if v.typ == Float32 {
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	}
	return strconv.FormatInt(int64(v.i), 10)
}

// MarshalText implements encoding.TextMarshaler.
func (t LogicalType) MarshalText() ([]byte, error) {
	switch t {
	case Float32, Int32:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("value: cannot marshal %s", t)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LogicalType) UnmarshalText(b []byte) error {
	lt, err := ParseLogicalType(string(b))
	if err != nil {
		return err
	}
	*t = lt
	return nil
}
