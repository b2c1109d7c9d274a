package mipvol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Axis indices into a Point3d.  All points are (z, y, x) ordered.
const (
	AxisZ = 0
	AxisY = 1
	AxisX = 2
)

var axisNames = [3]string{"z", "y", "x"}

// AxisName returns "z", "y", or "x" for an axis index.
func AxisName(axis int) string {
	if axis < 0 || axis > 2 {
		return fmt.Sprintf("axis %d", axis)
	}
	return axisNames[axis]
}

// Point3d is a (z, y, x) voxel coordinate or extent.
type Point3d [3]int32

// XYZ returns the point in neuroglancer (x, y, z) order.
func (p Point3d) XYZ() [3]int32 {
	return [3]int32{p[2], p[1], p[0]}
}

// PointFromXYZ returns a (z, y, x) point from an (x, y, z) triple.
func PointFromXYZ(xyz [3]int32) Point3d {
	return Point3d{xyz[2], xyz[1], xyz[0]}
}

// Add returns the addition of two points.
func (p Point3d) Add(p2 Point3d) Point3d {
	return Point3d{p[0] + p2[0], p[1] + p2[1], p[2] + p2[2]}
}

// Sub returns the subtraction of the passed point from the receiver.
func (p Point3d) Sub(p2 Point3d) Point3d {
	return Point3d{p[0] - p2[0], p[1] - p2[1], p[2] - p2[2]}
}

// Mult returns the element-wise multiplication of the receiver by the passed point.
func (p Point3d) Mult(p2 Point3d) Point3d {
	return Point3d{p[0] * p2[0], p[1] * p2[1], p[2] * p2[2]}
}

// AddScalar adds a scalar value to each element.
func (p Point3d) AddScalar(value int32) Point3d {
	return Point3d{p[0] + value, p[1] + value, p[2] + value}
}

// Max returns a Point where each of its elements are the maximum of two points' elements.
func (p Point3d) Max(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] > result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// Min returns a Point where each of its elements are the minimum of two points' elements.
func (p Point3d) Min(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] < result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// LessEq returns true if every element is <= the passed point's element.
func (p Point3d) LessEq(p2 Point3d) bool {
	return p[0] <= p2[0] && p[1] <= p2[1] && p[2] <= p2[2]
}

// Prod returns the product of the point elements.
func (p Point3d) Prod() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// FloorDiv divides element-wise, rounding toward negative infinity.
func (p Point3d) FloorDiv(size Point3d) Point3d {
	var c Point3d
	for i := 0; i < 3; i++ {
		c[i] = floorDiv(p[i], size[i])
	}
	return c
}

// CeilDiv divides element-wise, rounding toward positive infinity.
func (p Point3d) CeilDiv(size Point3d) Point3d {
	var c Point3d
	for i := 0; i < 3; i++ {
		c[i] = -floorDiv(-p[i], size[i])
	}
	return c
}

// Chunk returns the coordinate of the chunk containing the point in a chunk grid
// anchored at the given origin.
func (p Point3d) Chunk(origin, size Point3d) ChunkPoint3d {
	return ChunkPoint3d(p.Sub(origin).FloorDiv(size))
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// StringToPoint parses a string of the format "z,y,x" with the given separator.
func StringToPoint(str, separator string) (p Point3d, err error) {
	parts := strings.Split(str, separator)
	if len(parts) != 3 {
		err = fmt.Errorf("can't parse %q as a 3d point", str)
		return
	}
	for i, part := range parts {
		var n int64
		n, err = strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			err = fmt.Errorf("can't parse %q as a 3d point: %v", str, err)
			return
		}
		p[i] = int32(n)
	}
	return
}

// ChunkPoint3d is the (z, y, x) index of a chunk within a level's chunk grid.
type ChunkPoint3d [3]int32

var (
	MaxChunkPoint3d = ChunkPoint3d{math.MaxInt32, math.MaxInt32, math.MaxInt32}
	MinChunkPoint3d = ChunkPoint3d{math.MinInt32, math.MinInt32, math.MinInt32}
)

func (c ChunkPoint3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// MinPoint returns the smallest voxel coordinate of the chunk in a grid anchored
// at origin.
func (c ChunkPoint3d) MinPoint(origin, size Point3d) Point3d {
	return Point3d(c).Mult(size).Add(origin)
}

// MaxPoint returns the exclusive maximum voxel coordinate of the chunk.
func (c ChunkPoint3d) MaxPoint(origin, size Point3d) Point3d {
	return Point3d(c).AddScalar(1).Mult(size).Add(origin)
}

// Vector3d is a (z, y, x) triple of floats, used for voxel sizes.
type Vector3d [3]float64

// XYZ returns the vector in neuroglancer (x, y, z) order.
func (v Vector3d) XYZ() [3]float64 {
	return [3]float64{v[2], v[1], v[0]}
}

// VectorFromXYZ returns a (z, y, x) vector from an (x, y, z) triple.
func VectorFromXYZ(xyz [3]float64) Vector3d {
	return Vector3d{xyz[2], xyz[1], xyz[0]}
}

func (v Vector3d) String() string {
	return fmt.Sprintf("(%g,%g,%g)", v[0], v[1], v[2])
}

// StringToVector parses a string of the format "z,y,x" into floats.
func StringToVector(str, separator string) (v Vector3d, err error) {
	parts := strings.Split(str, separator)
	if len(parts) != 3 {
		err = fmt.Errorf("can't parse %q as a 3d vector", str)
		return
	}
	for i, part := range parts {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			err = fmt.Errorf("can't parse %q as a 3d vector: %v", str, err)
			return
		}
	}
	return
}
