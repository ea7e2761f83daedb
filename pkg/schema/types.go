package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Field errors.
var (
	ErrUnknownType   = errors.New("unknown field type")
	ErrTypeMismatch  = errors.New("value has wrong type")
	ErrOutOfRange    = errors.New("value out of range")
	ErrArrayTooLong  = errors.New("array too long")
	ErrStringTooLong = errors.New("string too long")
)

// BaseType is the scalar type of a field.
type BaseType uint8

const (
	TypeUint8 BaseType = iota + 1
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeString
)

var baseTypeNames = map[string]BaseType{
	"uint8":   TypeUint8,
	"int8":    TypeInt8,
	"uint16":  TypeUint16,
	"int16":   TypeInt16,
	"uint32":  TypeUint32,
	"int32":   TypeInt32,
	"float32": TypeFloat32,
	"string":  TypeString,
}

// String returns the type name as written in definition files.
func (t BaseType) String() string {
	for name, bt := range baseTypeNames {
		if bt == t {
			return name
		}
	}
	return "unknown"
}

// bounds returns the inclusive integer range of t.
func (t BaseType) bounds() (lo, hi int64, ok bool) {
	switch t {
	case TypeUint8:
		return 0, math.MaxUint8, true
	case TypeInt8:
		return math.MinInt8, math.MaxInt8, true
	case TypeUint16:
		return 0, math.MaxUint16, true
	case TypeInt16:
		return math.MinInt16, math.MaxInt16, true
	case TypeUint32:
		return 0, math.MaxUint32, true
	case TypeInt32:
		return math.MinInt32, math.MaxInt32, true
	}
	return 0, 0, false
}

// FieldType describes the type of a message field.
type FieldType struct {
	// Base is the scalar type.
	Base BaseType

	// Count is the fixed array length, or 0 for a scalar.
	Count int

	// MaxLen bounds string fields.
	MaxLen int
}

// IsArray reports whether the field holds a fixed-length array.
func (ft FieldType) IsArray() bool {
	return ft.Count > 0
}

// String returns the type as written in definition files.
func (ft FieldType) String() string {
	if ft.IsArray() {
		return fmt.Sprintf("%s[%d]", ft.Base, ft.Count)
	}
	return ft.Base.String()
}

// ParseFieldType parses "uint8", "float32" or "uint16[10]".
func ParseFieldType(s string, maxLen int) (FieldType, error) {
	var ft FieldType

	name := strings.TrimSpace(s)
	if base, count, ok := strings.Cut(name, "["); ok {
		n, err := strconv.Atoi(strings.TrimSuffix(count, "]"))
		if err != nil || !strings.HasSuffix(count, "]") || n <= 0 {
			return ft, fmt.Errorf("%w: %q", ErrUnknownType, s)
		}
		name = base
		ft.Count = n
	}

	bt, ok := baseTypeNames[name]
	if !ok {
		return ft, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	ft.Base = bt

	if bt == TypeString {
		if ft.IsArray() {
			return ft, fmt.Errorf("%w: string arrays are not supported", ErrUnknownType)
		}
		if maxLen <= 0 {
			return ft, fmt.Errorf("%w: string field needs a positive len", ErrUnknownType)
		}
		ft.MaxLen = maxLen
	}

	return ft, nil
}

// Coerce converts v into the canonical Go representation of the field type.
// Numeric values of any Go type are accepted as long as they fit; arrays
// shorter than Count are padded with zeros.
func (ft FieldType) Coerce(v any) (any, error) {
	if !ft.IsArray() {
		return ft.coerceScalar(v)
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, ft, v)
	}
	if rv.Len() > ft.Count {
		return nil, fmt.Errorf("%w: %d > %d", ErrArrayTooLong, rv.Len(), ft.Count)
	}

	out := ft.zeroArray()
	ov := reflect.ValueOf(out)
	for i := 0; i < rv.Len(); i++ {
		elem, err := ft.coerceScalar(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		ov.Index(i).Set(reflect.ValueOf(elem))
	}
	return out, nil
}

// Zero returns the zero value of the field type.
func (ft FieldType) Zero() any {
	if ft.IsArray() {
		return ft.zeroArray()
	}
	switch ft.Base {
	case TypeUint8:
		return uint8(0)
	case TypeInt8:
		return int8(0)
	case TypeUint16:
		return uint16(0)
	case TypeInt16:
		return int16(0)
	case TypeUint32:
		return uint32(0)
	case TypeInt32:
		return int32(0)
	case TypeFloat32:
		return float32(0)
	default:
		return ""
	}
}

func (ft FieldType) zeroArray() any {
	switch ft.Base {
	case TypeUint8:
		return make([]uint8, ft.Count)
	case TypeInt8:
		return make([]int8, ft.Count)
	case TypeUint16:
		return make([]uint16, ft.Count)
	case TypeInt16:
		return make([]int16, ft.Count)
	case TypeUint32:
		return make([]uint32, ft.Count)
	case TypeInt32:
		return make([]int32, ft.Count)
	default:
		return make([]float32, ft.Count)
	}
}

func (ft FieldType) coerceScalar(v any) (any, error) {
	switch ft.Base {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrTypeMismatch, v)
		}
		if len(s) > ft.MaxLen {
			return nil, fmt.Errorf("%w: %d > %d", ErrStringTooLong, len(s), ft.MaxLen)
		}
		return s, nil

	case TypeFloat32:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrTypeMismatch, v)
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %g", ErrOutOfRange, f)
		}
		return float32(f), nil
	}

	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	lo, hi, _ := ft.Base.bounds()
	if n < lo || n > hi {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, n, lo, hi)
	}

	switch ft.Base {
	case TypeUint8:
		return uint8(n), nil
	case TypeInt8:
		return int8(n), nil
	case TypeUint16:
		return uint16(n), nil
	case TypeInt16:
		return int16(n), nil
	case TypeUint32:
		return uint32(n), nil
	default:
		return int32(n), nil
	}
}

// toInt64 converts integral values. Floats are truncated toward zero, the
// way integer telemetry fields are filled from float state.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: want integer, got %T", ErrTypeMismatch, v)
}

func uintToInt64(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, u)
	}
	return int64(u), nil
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %g", ErrOutOfRange, f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
