package value

// This file implements the Carrier: the per-column staging slot a table's row
// cursor writes into and the driver reads from. Carriers are allocated once
// per discovered column and rebound to every partition's tables, so moving
// from row to row never allocates.

// Carrier stages the current row's value of one source column in its native
// type. A fresh or reset carrier is unset.
type Carrier struct {
	typ SourceType
	set bool
	f32 float32
	i32 int32
	i8  int8
	i16 int16
}

// NewCarrier returns an unset carrier for the given source type.
func NewCarrier(t SourceType) *Carrier { return &Carrier{typ: t} }

// Type returns the source type the carrier accepts.
func (c *Carrier) Type() SourceType { return c.typ }

// IsSet reports whether a value is staged.
func (c *Carrier) IsSet() bool { return c.set }

// Unset marks the staged value as missing.
func (c *Carrier) Unset() { c.set = false }

// SetFloat32 and friends stage a value. The caller matches the setter to
// Type; table.Bind enforces that once per binding.
func (c *Carrier) SetFloat32(v float32) { c.f32, c.set = v, true }
func (c *Carrier) SetInt32(v int32)     { c.i32, c.set = v, true }
func (c *Carrier) SetInt8(v int8)       { c.i8, c.set = v, true }
func (c *Carrier) SetInt16(v int16)     { c.i16, c.set = v, true }

// Widen converts the staged value into its logical type. Narrow integers are
// sign-extended. An unset carrier yields a null of the logical type; an
// unsupported carrier yields an invalid zero Value.
func (c *Carrier) Widen() Value {
	lt, err := c.typ.Logical()
	if err != nil {
		return Value{}
	}
	if !c.set {
		return Null(lt)
	}
	switch c.typ {
	case SourceFloat32:
		return Float(c.f32)
	case SourceInt32:
		return Int(c.i32)
	case SourceInt8:
		return Int(int32(c.i8))
	default:
		return Int(int32(c.i16))
	}
}
