/*
   This file handles the numeric type of a volume's voxel values and routines that
   read and write single values within a little-endian slice of bytes.
*/

package mipvol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// DataType is the numeric type of each voxel value, e.g., a uint8 or a float32.
type DataType uint8

const (
	T_uint8 DataType = iota + 1
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float32
	T_float64
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float32: "float32",
	T_float64: "float64",
}

// ParseDataType returns the DataType for a name like "uint8" or "float32".
func ParseDataType(name string) (DataType, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

// Bytes returns the number of bytes for one value of the type.
func (t DataType) Bytes() int {
	return typeBytes[t]
}

// Valid returns true for a known data type.
func (t DataType) Valid() bool {
	_, found := typeNames[t]
	return found
}

// IsFloat returns true for floating point types.
func (t DataType) IsFloat() bool {
	return t == T_float32 || t == T_float64
}

func (t DataType) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("unknown type %d", uint8(t))
}

// MarshalJSON implements the json.Marshaler interface.
func (t DataType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("can't marshal unknown data type %d", uint8(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *DataType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	dt, err := ParseDataType(name)
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// Float returns the value at byte offset i as a float64.
func (t DataType) Float(b []byte, i int) float64 {
	switch t {
	case T_uint8:
		return float64(b[i])
	case T_int8:
		return float64(int8(b[i]))
	case T_uint16:
		return float64(binary.LittleEndian.Uint16(b[i:]))
	case T_int16:
		return float64(int16(binary.LittleEndian.Uint16(b[i:])))
	case T_uint32:
		return float64(binary.LittleEndian.Uint32(b[i:]))
	case T_int32:
		return float64(int32(binary.LittleEndian.Uint32(b[i:])))
	case T_uint64:
		return float64(binary.LittleEndian.Uint64(b[i:]))
	case T_int64:
		return float64(int64(binary.LittleEndian.Uint64(b[i:])))
	case T_float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	case T_float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b[i:]))
	}
	return 0
}

// PutFloat stores v at byte offset i, rounding half away from zero and saturating
// for integer types.
func (t DataType) PutFloat(b []byte, i int, v float64) {
	if !t.IsFloat() {
		v = math.Round(v)
	}
	switch t {
	case T_uint8:
		b[i] = uint8(clamp(v, 0, math.MaxUint8))
	case T_int8:
		b[i] = uint8(int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case T_uint16:
		binary.LittleEndian.PutUint16(b[i:], uint16(clamp(v, 0, math.MaxUint16)))
	case T_int16:
		binary.LittleEndian.PutUint16(b[i:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case T_uint32:
		binary.LittleEndian.PutUint32(b[i:], uint32(clamp(v, 0, math.MaxUint32)))
	case T_int32:
		binary.LittleEndian.PutUint32(b[i:], uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case T_uint64:
		binary.LittleEndian.PutUint64(b[i:], uint64(clamp(v, 0, math.MaxUint64)))
	case T_int64:
		binary.LittleEndian.PutUint64(b[i:], uint64(int64(clamp(v, math.MinInt64, math.MaxInt64))))
	case T_float32:
		binary.LittleEndian.PutUint32(b[i:], math.Float32bits(float32(v)))
	case T_float64:
		binary.LittleEndian.PutUint64(b[i:], math.Float64bits(v))
	}
}

// Uint64 returns the raw bits of the value at byte offset i widened to 64 bits.
// Used for label (segmentation) values where float conversion would lose precision.
func (t DataType) Uint64(b []byte, i int) uint64 {
	switch t.Bytes() {
	case 1:
		return uint64(b[i])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b[i:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b[i:]))
	case 8:
		return binary.LittleEndian.Uint64(b[i:])
	}
	return 0
}

// PutUint64 stores the low bytes of v at byte offset i.
func (t DataType) PutUint64(b []byte, i int, v uint64) {
	switch t.Bytes() {
	case 1:
		b[i] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(b[i:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b[i:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b[i:], v)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
