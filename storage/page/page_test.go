package page

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertReadDeleteRow(t *testing.T) {
	p := New(1)

	slot, err := p.InsertRow([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0), slot)

	got, err := p.ReadRow(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, p.DeleteRow(slot))
	_, err = p.ReadRow(slot)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertRowNoSpace(t *testing.T) {
	p := New(1)
	capacity := Size - HeaderSize - SlotSize
	_, err := p.InsertRow(make([]byte, capacity))
	require.NoError(t, err, "a row exactly filling free space must insert")

	p2 := New(1)
	_, err = p2.InsertRow(make([]byte, capacity+1))
	assert.ErrorIs(t, err, ErrNoSpace, "one byte larger must be rejected")
}

func TestUpdateRowInPlaceRequiresShrinkOrEqual(t *testing.T) {
	p := New(1)
	slot, err := p.InsertRow([]byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, p.UpdateRowInPlace(slot, []byte("abc")))
	got, err := p.ReadRow(slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	err = p.UpdateRowInPlace(slot, []byte("abcdefgh"))
	assert.ErrorIs(t, err, ErrGrowInPlace)
}

func TestReorganizePreservesSlotNumbers(t *testing.T) {
	p := New(1)
	s0, _ := p.InsertRow([]byte("a"))
	s1, _ := p.InsertRow([]byte("bb"))
	s2, _ := p.InsertRow([]byte("ccc"))

	require.NoError(t, p.DeleteRow(s1))
	p.Reorganize()

	got0, err := p.ReadRow(s0)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got0)

	_, err = p.ReadRow(s1)
	assert.ErrorIs(t, err, ErrNotFound)

	got2, err := p.ReadRow(s2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ccc"), got2)
}

func TestPageSerializeRoundTrip(t *testing.T) {
	p := New(42)
	_, err := p.InsertRow([]byte("round trip"))
	require.NoError(t, err)
	p.StampChecksum()

	p2, err := FromBytes(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p.Bytes(), p2.Bytes())
	assert.True(t, p2.VerifyChecksum())
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := New(1)
	_, err := p.InsertRow([]byte("data"))
	require.NoError(t, err)
	p.StampChecksum()
	assert.True(t, p.VerifyChecksum())

	p.Bytes()[HeaderSize] ^= 0xFF
	assert.False(t, p.VerifyChecksum())
}

func TestValueRoundTripAllTypes(t *testing.T) {
	values := []Value{
		NullValue(),
		IntValue(0),
		IntValue(-12345),
		VarcharValue(""),
		VarcharValue("hello world"),
		DecimalValue(decimal.NewFromFloat(3.14)),
	}
	for _, v := range values {
		enc := v.Encode(nil)
		got, n, err := DecodeValue(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v.Type, got.Type)
		assert.Equal(t, v.IsNull, got.IsNull)
		if !v.IsNull {
			switch v.Type {
			case TypeInt64:
				assert.Equal(t, v.Int64, got.Int64)
			case TypeVarchar:
				assert.Equal(t, v.Varchar, got.Varchar)
			case TypeDecimal:
				assert.True(t, v.Decimal.Equal(got.Decimal))
			}
		}
	}
}

func TestRowRoundTrip(t *testing.T) {
	row := Row{IntValue(7), VarcharValue("abc"), NullValue(), DecimalValue(decimal.NewFromInt(100))}
	enc := row.Encode()
	got, err := DecodeRow(enc, len(row))
	require.NoError(t, err)
	require.Len(t, got, len(row))
	assert.Equal(t, row[0].Int64, got[0].Int64)
	assert.Equal(t, row[1].Varchar, got[1].Varchar)
	assert.True(t, got[2].IsNull)
	assert.True(t, row[3].Decimal.Equal(got[3].Decimal))
}
