package mipvol

import (
	"fmt"
	"math"
)

// Array is a dense, channel-first (C, Z, Y, X) block of little-endian values in
// C order, i.e., x varies fastest.
type Array struct {
	DataType DataType
	Shape    [4]int
	Data     []byte
}

// NewArray allocates a zeroed array.
func NewArray(dtype DataType, numChannels int, extent Point3d) *Array {
	shape := [4]int{numChannels, int(extent[0]), int(extent[1]), int(extent[2])}
	n := shape[0] * shape[1] * shape[2] * shape[3] * dtype.Bytes()
	return &Array{DataType: dtype, Shape: shape, Data: make([]byte, n)}
}

// NewArrayFromBytes wraps data, checking its length matches the shape.
func NewArrayFromBytes(dtype DataType, numChannels int, extent Point3d, data []byte) (*Array, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("unknown data type %d", uint8(dtype))
	}
	shape := [4]int{numChannels, int(extent[0]), int(extent[1]), int(extent[2])}
	expected := shape[0] * shape[1] * shape[2] * shape[3] * dtype.Bytes()
	if len(data) != expected {
		return nil, fmt.Errorf("%d bytes can't hold %d x %s %s values (%d bytes): %w",
			len(data), numChannels, extent, dtype, expected, ErrShapeMismatch)
	}
	return &Array{DataType: dtype, Shape: shape, Data: data}, nil
}

// NumChannels returns the size of the channel axis.
func (a *Array) NumChannels() int {
	return a.Shape[0]
}

// Extent returns the spatial (z, y, x) shape.
func (a *Array) Extent() Point3d {
	return Point3d{int32(a.Shape[1]), int32(a.Shape[2]), int32(a.Shape[3])}
}

// NumVoxels returns the number of spatial voxels.
func (a *Array) NumVoxels() int {
	return a.Shape[1] * a.Shape[2] * a.Shape[3]
}

// Offset returns the byte offset of the value at (c, z, y, x).
func (a *Array) Offset(c, z, y, x int) int {
	return (((c*a.Shape[1]+z)*a.Shape[2]+y)*a.Shape[3] + x) * a.DataType.Bytes()
}

// At returns the value at (c, z, y, x) as a float64.
func (a *Array) At(c, z, y, x int) float64 {
	return a.DataType.Float(a.Data, a.Offset(c, z, y, x))
}

// Set stores v at (c, z, y, x).
func (a *Array) Set(c, z, y, x int, v float64) {
	a.DataType.PutFloat(a.Data, a.Offset(c, z, y, x), v)
}

// Fill sets every value to v.
func (a *Array) Fill(v float64) {
	nbytes := a.DataType.Bytes()
	if len(a.Data) == 0 {
		return
	}
	if v == 0 && !math.Signbit(v) {
		for i := range a.Data {
			a.Data[i] = 0
		}
		return
	}
	a.DataType.PutFloat(a.Data, 0, v)
	for filled := nbytes; filled < len(a.Data); filled *= 2 {
		copy(a.Data[filled:], a.Data[:filled])
	}
}

// Equal returns true if both arrays have identical type, shape, and bytes.
func (a *Array) Equal(b *Array) bool {
	if a.DataType != b.DataType || a.Shape != b.Shape || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// AsType returns a copy of the array converted to the given data type.  Values are
// rounded and saturated when converting to an integer type.
func (a *Array) AsType(dtype DataType) *Array {
	out := NewArray(dtype, a.NumChannels(), a.Extent())
	if dtype == a.DataType {
		copy(out.Data, a.Data)
		return out
	}
	inBytes, outBytes := a.DataType.Bytes(), dtype.Bytes()
	n := len(a.Data) / inBytes
	for i := 0; i < n; i++ {
		dtype.PutFloat(out.Data, i*outBytes, a.DataType.Float(a.Data, i*inBytes))
	}
	return out
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array (%d,%d,%d,%d)", a.DataType, a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3])
}

// CopyBox copies the voxels within region from src, whose first voxel sits at
// srcOrigin, into dst, whose first voxel sits at dstOrigin.  The region must lie
// inside both arrays.
func CopyBox(dst *Array, dstOrigin Point3d, src *Array, srcOrigin Point3d, region Bbox) error {
	if region.Empty() {
		return nil
	}
	if dst.DataType != src.DataType || dst.NumChannels() != src.NumChannels() {
		return fmt.Errorf("can't copy %s into %s: %w", src, dst, ErrShapeMismatch)
	}
	srcBox := NewBbox(srcOrigin, src.Extent(), region.Level)
	dstBox := NewBbox(dstOrigin, dst.Extent(), region.Level)
	if !srcBox.Contains(region) || !dstBox.Contains(region) {
		return fmt.Errorf("region %s not inside source %s and destination %s: %w", region, srcBox, dstBox, ErrShapeMismatch)
	}
	size := region.Size()
	rowBytes := int(size[2]) * src.DataType.Bytes()
	s0 := region.Min.Sub(srcOrigin)
	d0 := region.Min.Sub(dstOrigin)
	for c := 0; c < src.NumChannels(); c++ {
		for z := 0; z < int(size[0]); z++ {
			for y := 0; y < int(size[1]); y++ {
				si := src.Offset(c, int(s0[0])+z, int(s0[1])+y, int(s0[2]))
				di := dst.Offset(c, int(d0[0])+z, int(d0[1])+y, int(d0[2]))
				copy(dst.Data[di:di+rowBytes], src.Data[si:si+rowBytes])
			}
		}
	}
	return nil
}

// Cutout is a dense array extracted for one box at one resolution level.
// Squeezed is set when the single channel axis has been dropped from Shape().
type Cutout struct {
	*Array
	Bbox     Bbox
	Level    int
	Squeezed bool
}

// Shape returns (C, Z, Y, X), or (Z, Y, X) for a squeezed cutout.
func (c *Cutout) Shape() []int {
	if c.Squeezed {
		return []int{c.Array.Shape[1], c.Array.Shape[2], c.Array.Shape[3]}
	}
	return c.Array.Shape[:]
}
