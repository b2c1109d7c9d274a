package mipvol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Layout is the kind of data held in a volume.
type Layout string

const (
	LayoutImage        Layout = "image"
	LayoutSegmentation Layout = "segmentation"
)

// Valid returns true for a known layout.
func (l Layout) Valid() bool {
	return l == LayoutImage || l == LayoutSegmentation
}

// ResolutionLevel describes the geometry of one level of a resolution pyramid.
// Shape and Offset are in voxels of this level.
type ResolutionLevel struct {
	Level     int
	VoxelSize Vector3d
	Shape     Point3d
	Offset    Point3d
	ChunkSize Point3d

	// Key is the storage directory of the level.  Defaults to the voxel size in
	// neuroglancer x_y_z order, e.g., "4_4_40".
	Key string

	// Encoding is the chunk encoding name recorded in the info file.
	Encoding string
}

// Bounds returns the level's extent as a Bbox at this level.
func (r ResolutionLevel) Bounds() Bbox {
	return Bbox{Min: r.Offset, Max: r.Offset.Add(r.Shape), Level: r.Level}
}

// ChunkBbox returns the box covered by a chunk, clipped to the level bounds.
func (r ResolutionLevel) ChunkBbox(c ChunkPoint3d) Bbox {
	full := Bbox{
		Min:   c.MinPoint(r.Offset, r.ChunkSize),
		Max:   c.MaxPoint(r.Offset, r.ChunkSize),
		Level: r.Level,
	}
	return full.Intersect(r.Bounds())
}

// ChunkInBounds returns true if the chunk overlaps the level bounds.
func (r ResolutionLevel) ChunkInBounds(c ChunkPoint3d) bool {
	return !r.ChunkBbox(c).Empty()
}

// GridShape returns the number of chunks along each axis.
func (r ResolutionLevel) GridShape() Point3d {
	return r.Shape.CeilDiv(r.ChunkSize)
}

// DefaultKey returns the neuroglancer-style directory name "x_y_z" of the voxel size.
func (r ResolutionLevel) DefaultKey() string {
	xyz := r.VoxelSize.XYZ()
	parts := make([]string, 3)
	for i, v := range xyz {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, "_")
}

// VolumeInfo is the committed description of a volume: its pyramid plus the
// per-voxel layout.  Level 0 is the finest resolution.
type VolumeInfo struct {
	Levels      []ResolutionLevel
	NumChannels int
	DataType    DataType
	Layout      Layout
}

// NewVolumeInfo returns a single-level volume description.
func NewVolumeInfo(numChannels int, dtype DataType, layout Layout, voxelSize Vector3d, offset, shape, chunkSize Point3d) *VolumeInfo {
	base := ResolutionLevel{
		Level:     0,
		VoxelSize: voxelSize,
		Shape:     shape,
		Offset:    offset,
		ChunkSize: chunkSize,
		Encoding:  "raw",
	}
	base.Key = base.DefaultKey()
	return &VolumeInfo{
		Levels:      []ResolutionLevel{base},
		NumChannels: numChannels,
		DataType:    dtype,
		Layout:      layout,
	}
}

// NumLevels returns the number of resolution levels.
func (info *VolumeInfo) NumLevels() int {
	return len(info.Levels)
}

// Level returns the given resolution level or ErrInvalidLevel.
func (info *VolumeInfo) Level(level int) (ResolutionLevel, error) {
	if level < 0 || level >= len(info.Levels) {
		return ResolutionLevel{}, fmt.Errorf("level %d not in pyramid with %d levels: %w", level, len(info.Levels), ErrInvalidLevel)
	}
	return info.Levels[level], nil
}

// Bounds returns the extent of the given level.
func (info *VolumeInfo) Bounds(level int) (Bbox, error) {
	r, err := info.Level(level)
	if err != nil {
		return Bbox{}, err
	}
	return r.Bounds(), nil
}

// BytesPerVoxel returns the bytes across all channels of one voxel.
func (info *VolumeInfo) BytesPerVoxel() int {
	return info.NumChannels * info.DataType.Bytes()
}

// Copy returns a deep copy of the info.
func (info *VolumeInfo) Copy() *VolumeInfo {
	dup := *info
	dup.Levels = append([]ResolutionLevel(nil), info.Levels...)
	return &dup
}

// Validate checks the invariants of the pyramid.
func (info *VolumeInfo) Validate() error {
	if len(info.Levels) == 0 {
		return fmt.Errorf("volume has no resolution levels")
	}
	if info.NumChannels < 1 {
		return fmt.Errorf("volume must have at least one channel, not %d", info.NumChannels)
	}
	if !info.DataType.Valid() {
		return fmt.Errorf("volume has unknown data type %d", uint8(info.DataType))
	}
	if !info.Layout.Valid() {
		return fmt.Errorf("volume has unknown layout %q", info.Layout)
	}
	for i, r := range info.Levels {
		if r.Level != i {
			return fmt.Errorf("level %d is tagged as level %d", i, r.Level)
		}
		for axis := 0; axis < 3; axis++ {
			if r.VoxelSize[axis] <= 0 {
				return fmt.Errorf("level %d has non-positive %s voxel size %g", i, AxisName(axis), r.VoxelSize[axis])
			}
			if r.Shape[axis] <= 0 {
				return fmt.Errorf("level %d has non-positive %s shape %d", i, AxisName(axis), r.Shape[axis])
			}
			if r.ChunkSize[axis] <= 0 {
				return fmt.Errorf("level %d has non-positive %s chunk size %d", i, AxisName(axis), r.ChunkSize[axis])
			}
			if i > 0 && r.VoxelSize[axis] < info.Levels[i-1].VoxelSize[axis] {
				return fmt.Errorf("level %d %s voxel size %g is finer than level %d", i, AxisName(axis), r.VoxelSize[axis], i-1)
			}
		}
	}
	return nil
}

// ScaleFactor returns voxel_size(to) / voxel_size(from) per axis.
func (info *VolumeInfo) ScaleFactor(from, to int) (Vector3d, error) {
	fromLevel, err := info.Level(from)
	if err != nil {
		return Vector3d{}, err
	}
	toLevel, err := info.Level(to)
	if err != nil {
		return Vector3d{}, err
	}
	var scale Vector3d
	for axis := 0; axis < 3; axis++ {
		scale[axis] = toLevel.VoxelSize[axis] / fromLevel.VoxelSize[axis]
	}
	return scale, nil
}

// snapTolerance absorbs float error in voxel size ratios like 4/12 before rounding.
const snapTolerance = 1e-6

// Convert returns the box b, tagged at level from, expressed at level to.
//
// Coordinates are multiplied once by voxel_size(from)/voxel_size(to) per axis, then
// the min corner is floored and the max corner is ceiled, so the result always
// covers the input region.  Products within 1e-6 of an integer are snapped to it
// first.  Conversion between levels related by an integer scale is therefore exact
// in the finer direction and conservative in the coarser direction.
func (info *VolumeInfo) Convert(b Bbox, from, to int) (Bbox, error) {
	if _, err := info.Level(from); err != nil {
		return Bbox{}, err
	}
	if _, err := info.Level(to); err != nil {
		return Bbox{}, err
	}
	if b.Level != from {
		return Bbox{}, fmt.Errorf("bbox %s is tagged with level %d, not %d: %w", b, b.Level, from, ErrInvalidLevel)
	}
	if from == to {
		if !b.Valid() {
			return Bbox{}, fmt.Errorf("bbox %s has min > max: %w", b, ErrDegenerateBbox)
		}
		return b, nil
	}
	src := info.Levels[from].VoxelSize
	dst := info.Levels[to].VoxelSize
	result := Bbox{Level: to}
	for axis := 0; axis < 3; axis++ {
		ratio := src[axis] / dst[axis]
		result.Min[axis] = int32(math.Floor(snap(float64(b.Min[axis]) * ratio)))
		result.Max[axis] = int32(math.Ceil(snap(float64(b.Max[axis]) * ratio)))
	}
	if !result.Valid() {
		return Bbox{}, fmt.Errorf("converting %s from level %d to %d gave %s: %w", b, from, to, result, ErrDegenerateBbox)
	}
	return result, nil
}

func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < snapTolerance {
		return r
	}
	return v
}

// ---- neuroglancer precomputed info JSON ----

const precomputedType = "neuroglancer_multiscale_volume"

type ngScale struct {
	Key         string     `json:"key"`
	Size        [3]int32   `json:"size"`
	Resolution  [3]float64 `json:"resolution"`
	VoxelOffset [3]int32   `json:"voxel_offset"`
	ChunkSizes  [][3]int32 `json:"chunk_sizes"`
	Encoding    string     `json:"encoding"`
}

type ngInfo struct {
	StoreType   string    `json:"@type"`
	VolumeType  Layout    `json:"type"`
	DataType    DataType  `json:"data_type"`
	NumChannels int       `json:"num_channels"`
	Scales      []ngScale `json:"scales"`
}

// MarshalJSON writes the info in neuroglancer precomputed format, which is (x, y, z)
// ordered.
func (info VolumeInfo) MarshalJSON() ([]byte, error) {
	ng := ngInfo{
		StoreType:   precomputedType,
		VolumeType:  info.Layout,
		DataType:    info.DataType,
		NumChannels: info.NumChannels,
		Scales:      make([]ngScale, len(info.Levels)),
	}
	for i, r := range info.Levels {
		key := r.Key
		if key == "" {
			key = r.DefaultKey()
		}
		encoding := r.Encoding
		if encoding == "" {
			encoding = "raw"
		}
		ng.Scales[i] = ngScale{
			Key:         key,
			Size:        r.Shape.XYZ(),
			Resolution:  r.VoxelSize.XYZ(),
			VoxelOffset: r.Offset.XYZ(),
			ChunkSizes:  [][3]int32{r.ChunkSize.XYZ()},
			Encoding:    encoding,
		}
	}
	return json.Marshal(ng)
}

// UnmarshalJSON reads neuroglancer precomputed info JSON.
func (info *VolumeInfo) UnmarshalJSON(b []byte) error {
	var ng ngInfo
	if err := json.Unmarshal(b, &ng); err != nil {
		return err
	}
	if ng.StoreType != "" && ng.StoreType != precomputedType {
		return fmt.Errorf("info @type %q != %s", ng.StoreType, precomputedType)
	}
	levels := make([]ResolutionLevel, len(ng.Scales))
	for i, s := range ng.Scales {
		if len(s.ChunkSizes) == 0 {
			return fmt.Errorf("scale %d (%s) has no chunk sizes", i, s.Key)
		}
		levels[i] = ResolutionLevel{
			Level:     i,
			VoxelSize: VectorFromXYZ(s.Resolution),
			Shape:     PointFromXYZ(s.Size),
			Offset:    PointFromXYZ(s.VoxelOffset),
			ChunkSize: PointFromXYZ(s.ChunkSizes[0]),
			Key:       s.Key,
			Encoding:  s.Encoding,
		}
	}
	*info = VolumeInfo{
		Levels:      levels,
		NumChannels: ng.NumChannels,
		DataType:    ng.DataType,
		Layout:      ng.VolumeType,
	}
	return nil
}
