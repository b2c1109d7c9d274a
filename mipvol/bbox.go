package mipvol

import "fmt"

// Bbox is an axis-aligned box [Min, Max) of voxel coordinates at a resolution level.
// Bboxes are values; every operation returns a new Bbox.
type Bbox struct {
	Min   Point3d
	Max   Point3d
	Level int
}

// NewBbox returns a Bbox given a min corner and a size.
func NewBbox(min, size Point3d, level int) Bbox {
	return Bbox{Min: min, Max: min.Add(size), Level: level}
}

func (b Bbox) String() string {
	return fmt.Sprintf("[%s,%s)@%d", b.Min, b.Max, b.Level)
}

// Size returns the extent along each axis.
func (b Bbox) Size() Point3d {
	return b.Max.Sub(b.Min)
}

// NumVoxels returns the number of voxels in the box.  A degenerate box has zero voxels.
func (b Bbox) NumVoxels() int64 {
	size := b.Size()
	if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		return 0
	}
	return size.Prod()
}

// Empty returns true if the box has zero volume.
func (b Bbox) Empty() bool {
	return b.NumVoxels() == 0
}

// Valid returns true if Min <= Max on every axis.
func (b Bbox) Valid() bool {
	return b.Min.LessEq(b.Max)
}

// Grow returns the box expanded by margin on every side.  Negative margins shrink.
func (b Bbox) Grow(margin Point3d) Bbox {
	return Bbox{Min: b.Min.Sub(margin), Max: b.Max.Add(margin), Level: b.Level}
}

// Translate returns the box shifted by delta.
func (b Bbox) Translate(delta Point3d) Bbox {
	return Bbox{Min: b.Min.Add(delta), Max: b.Max.Add(delta), Level: b.Level}
}

// Intersect returns the overlap of two boxes at the receiver's level.  Boxes that
// do not overlap give a zero-extent box anchored at the clipped min corner.
func (b Bbox) Intersect(b2 Bbox) Bbox {
	min := b.Min.Max(b2.Min)
	max := b.Max.Min(b2.Max)
	return Bbox{Min: min, Max: max.Max(min), Level: b.Level}
}

// Union returns the smallest box containing both boxes at the receiver's level.
func (b Bbox) Union(b2 Bbox) Bbox {
	return Bbox{Min: b.Min.Min(b2.Min), Max: b.Max.Max(b2.Max), Level: b.Level}
}

// Contains returns true if b2 lies entirely within b.  Levels must match.
func (b Bbox) Contains(b2 Bbox) bool {
	return b.Level == b2.Level && b.Min.LessEq(b2.Min) && b2.Max.LessEq(b.Max)
}

// ContainsPoint returns true if the voxel lies in the box.
func (b Bbox) ContainsPoint(p Point3d) bool {
	return b.Min.LessEq(p) && p[0] < b.Max[0] && p[1] < b.Max[1] && p[2] < b.Max[2]
}

// ChunkRange returns the inclusive range of chunk coordinates overlapped by the box
// in a chunk grid anchored at origin.  ok is false for an empty box.
func (b Bbox) ChunkRange(origin, chunkSize Point3d) (minChunk, maxChunk ChunkPoint3d, ok bool) {
	if b.Empty() {
		return
	}
	minChunk = b.Min.Chunk(origin, chunkSize)
	maxChunk = b.Max.AddScalar(-1).Chunk(origin, chunkSize)
	return minChunk, maxChunk, true
}

// ChunkAligned returns the smallest chunk-aligned box containing b.
func (b Bbox) ChunkAligned(origin, chunkSize Point3d) Bbox {
	minChunk, maxChunk, ok := b.ChunkRange(origin, chunkSize)
	if !ok {
		return b
	}
	return Bbox{
		Min:   minChunk.MinPoint(origin, chunkSize),
		Max:   maxChunk.MaxPoint(origin, chunkSize),
		Level: b.Level,
	}
}

// ForEachChunk calls f for every chunk overlapped by the box, in z, y, x order.
// Iteration stops at the first error returned by f.
func (b Bbox) ForEachChunk(origin, chunkSize Point3d, f func(ChunkPoint3d) error) error {
	minChunk, maxChunk, ok := b.ChunkRange(origin, chunkSize)
	if !ok {
		return nil
	}
	for z := minChunk[0]; z <= maxChunk[0]; z++ {
		for y := minChunk[1]; y <= maxChunk[1]; y++ {
			for x := minChunk[2]; x <= maxChunk[2]; x++ {
				if err := f(ChunkPoint3d{z, y, x}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Equals returns true if both boxes have the same corners and level.
func (b Bbox) Equals(b2 Bbox) bool {
	return b == b2
}
