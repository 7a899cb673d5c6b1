package table

import (
	"math"
	"strconv"
)

// Kind is the storage type of a column.
type Kind uint8

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// Value is a single, possibly missing, cell.
//
// Only the field matching Kind is meaningful. A Null value still carries the
// Kind of its column so that fills can pick a typed replacement.
type Value struct {
	Kind Kind
	Null bool
	Num  float64
	Str  string
	Bool bool
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Null(k Kind) Value      { return Value{Kind: k, Null: true} }

// Finite reports whether v is a non-missing number that is neither NaN nor ±Inf.
func (v Value) Finite() bool {
	return v.Kind == KindNumber && !v.Null && !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)
}

// String renders the value the way it is written to CSV. Missing values render
// as the empty string.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// As converts v to kind k. Conversions that cannot be represented yield a
// missing value of kind k.
func (v Value) As(k Kind) Value {
	if v.Kind == k {
		return v
	}
	if v.Null {
		return Null(k)
	}
	switch k {
	case KindString:
		return String(v.String())
	case KindNumber:
		switch v.Kind {
		case KindBool:
			if v.Bool {
				return Number(1)
			}
			return Number(0)
		case KindString:
			if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
				return Number(f)
			}
		}
	case KindBool:
		if v.Kind == KindNumber {
			return Bool(v.Num != 0)
		}
		if b, err := strconv.ParseBool(v.Str); err == nil {
			return Bool(b)
		}
	}
	return Null(k)
}

// Equal compares two values including their missing state. NaN equals NaN so
// that repeated runs over identical inputs compare equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Null != o.Null {
		return false
	}
	if v.Null {
		return true
	}
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Num) && math.IsNaN(o.Num) {
			return true
		}
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}
