package page

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValueType tags a Value's on-wire shape, replacing the source's
// type-inheritance hierarchy with a tagged sum per spec §9 ("Polymorphism").
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeInt64
	TypeVarchar
	TypeDecimal
)

// Value is one column value: a type code, a null flag, and the value bytes,
// self-describing per spec §3 ("Each value is serializable to a
// self-describing byte string"). shopspring/decimal backs TypeDecimal so
// DECIMAL columns keep exact fixed-point semantics instead of drifting
// through float64.
type Value struct {
	Type    ValueType
	IsNull  bool
	Int64   int64
	Varchar string
	Decimal decimal.Decimal
}

func NullValue() Value { return Value{Type: TypeNull, IsNull: true} }
func IntValue(v int64) Value { return Value{Type: TypeInt64, Int64: v} }
func VarcharValue(v string) Value { return Value{Type: TypeVarchar, Varchar: v} }
func DecimalValue(v decimal.Decimal) Value { return Value{Type: TypeDecimal, Decimal: v} }

// Encode appends the value's self-describing byte string to dst:
// [type byte][null byte] and, when non-null, the value payload. Variable
// length payloads (Varchar, Decimal's string form) carry a 4-byte
// little-endian length prefix per spec §3.
func (v Value) Encode(dst []byte) []byte {
	dst = append(dst, byte(v.Type))
	if v.IsNull {
		return append(dst, 1)
	}
	dst = append(dst, 0)

	switch v.Type {
	case TypeNull:
		// no payload
	case TypeInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int64))
		dst = append(dst, b[:]...)
	case TypeVarchar:
		dst = appendLenPrefixed(dst, []byte(v.Varchar))
	case TypeDecimal:
		dst = appendLenPrefixed(dst, []byte(v.Decimal.String()))
	}
	return dst
}

func appendLenPrefixed(dst, payload []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, payload...)
}

// DecodeValue parses one self-describing value from src, returning the
// value and the number of bytes consumed.
func DecodeValue(src []byte) (Value, int, error) {
	if len(src) < 2 {
		return Value{}, 0, fmt.Errorf("%w: truncated value header", ErrBadPageBytes)
	}
	vtype := ValueType(src[0])
	isNull := src[1] != 0
	pos := 2

	if isNull {
		return Value{Type: vtype, IsNull: true}, pos, nil
	}

	switch vtype {
	case TypeNull:
		return Value{Type: TypeNull, IsNull: true}, pos, nil
	case TypeInt64:
		if len(src) < pos+8 {
			return Value{}, 0, fmt.Errorf("%w: truncated int64", ErrBadPageBytes)
		}
		n := int64(binary.LittleEndian.Uint64(src[pos:]))
		return Value{Type: TypeInt64, Int64: n}, pos + 8, nil
	case TypeVarchar:
		s, n, err := readLenPrefixed(src[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: TypeVarchar, Varchar: string(s)}, pos + n, nil
	case TypeDecimal:
		s, n, err := readLenPrefixed(src[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		d, err := decimal.NewFromString(string(s))
		if err != nil {
			return Value{}, 0, fmt.Errorf("%w: bad decimal %q: %v", ErrBadPageBytes, s, err)
		}
		return Value{Type: TypeDecimal, Decimal: d}, pos + n, nil
	default:
		return Value{}, 0, ErrUnknownVType
	}
}

func readLenPrefixed(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated length prefix", ErrBadPageBytes)
	}
	l := binary.LittleEndian.Uint32(src)
	if len(src) < 4+int(l) {
		return nil, 0, fmt.Errorf("%w: truncated payload", ErrBadPageBytes)
	}
	return src[4 : 4+l], 4 + int(l), nil
}
