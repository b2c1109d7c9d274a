package downres

import (
	"context"
	"fmt"
	"math"

	"github.com/janelia-flyem/mipvol/cutout"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// DefaultMaxReadBytes caps the source data a single task may read.
const DefaultMaxReadBytes = 512 * mipvol.Mega

// Executor runs downsample tasks against a store.
type Executor struct {
	store        storage.Store
	reader       *cutout.Reader
	retry        storage.RetryPolicy
	maxReadBytes int64
}

// NewExecutor returns an executor reading source data with the given chunk fetch
// parallelism.  Absent source chunks count as zero.
func NewExecutor(store storage.Store, parallelism int, retry storage.RetryPolicy) *Executor {
	opts := cutout.Options{
		Parallelism: parallelism,
		FillMissing: true,
		Retry:       retry,
	}
	return &Executor{
		store:        store,
		reader:       cutout.NewReader(store, opts),
		retry:        retry,
		maxReadBytes: DefaultMaxReadBytes,
	}
}

// SetMaxReadBytes changes the cap on source bytes read per task.  Non-positive
// values restore the default.
func (e *Executor) SetMaxReadBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxReadBytes
	}
	e.maxReadBytes = n
}

// Execute computes and writes the task's chunk.  Image volumes are averaged and
// segmentation volumes take the most frequent label, the smallest on ties.
func (e *Executor) Execute(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	info, err := e.reader.GetInfo(ctx, t.Path)
	if err != nil {
		return err
	}
	target, err := info.Level(t.TargetLevel)
	if err != nil {
		return err
	}
	coord := t.ChunkBbox.Min.Chunk(target.Offset, target.ChunkSize)
	if target.ChunkBbox(coord) != t.ChunkBbox {
		return fmt.Errorf("%s: not a chunk of level %d: %w", t, t.TargetLevel, mipvol.ErrShapeMismatch)
	}
	factor, err := integerFactor(info, t.SourceLevel, t.TargetLevel)
	if err != nil {
		return err
	}
	source := info.Levels[t.SourceLevel]
	srcBox := mipvol.Bbox{
		Min:   t.ChunkBbox.Min.Mult(factor),
		Max:   t.ChunkBbox.Max.Mult(factor),
		Level: t.SourceLevel,
	}.Intersect(source.Bounds())
	readBytes := srcBox.NumVoxels() * int64(info.BytesPerVoxel())
	if readBytes > e.maxReadBytes {
		return fmt.Errorf("%s: source read of %d bytes exceeds limit of %d: %w", t, readBytes, e.maxReadBytes, mipvol.ErrReadLimit)
	}
	cut, err := e.reader.ReadWithInfo(ctx, t.Path, info, srcBox, t.SourceLevel, t.SourceLevel)
	if err != nil {
		return err
	}
	out := mipvol.NewArray(info.DataType, info.NumChannels, t.ChunkBbox.Size())
	if info.Layout == mipvol.LayoutSegmentation {
		downsampleMode(out, t.ChunkBbox.Min, cut.Array, srcBox.Min, factor)
	} else {
		downsampleMean(out, t.ChunkBbox.Min, cut.Array, srcBox.Min, factor)
	}
	return e.retry.Do(ctx, "write "+t.String(), func(ctx context.Context) error {
		return e.store.WriteChunk(ctx, t.Path, t.TargetLevel, coord, out.Data)
	})
}

// integerFactor returns the per-axis voxel size ratio between two levels, which
// must be integral.
func integerFactor(info *mipvol.VolumeInfo, from, to int) (mipvol.Point3d, error) {
	scale, err := info.ScaleFactor(from, to)
	if err != nil {
		return mipvol.Point3d{}, err
	}
	var factor mipvol.Point3d
	for axis := 0; axis < 3; axis++ {
		f := math.Round(scale[axis])
		if f < 1 || math.Abs(scale[axis]-f) > 1e-6 {
			return mipvol.Point3d{}, fmt.Errorf("level %d is not an integer downsampling of level %d along %s (%g): %w",
				to, from, mipvol.AxisName(axis), scale[axis], mipvol.ErrInvalidLevel)
		}
		factor[axis] = int32(f)
	}
	return factor, nil
}

// block returns the source voxel range, relative to src, under the output voxel at
// absolute position p.
func block(p, factor, srcMin mipvol.Point3d, src *mipvol.Array) (lo, hi mipvol.Point3d) {
	ext := src.Extent()
	for axis := 0; axis < 3; axis++ {
		lo[axis] = p[axis]*factor[axis] - srcMin[axis]
		hi[axis] = lo[axis] + factor[axis]
		if lo[axis] < 0 {
			lo[axis] = 0
		}
		if hi[axis] > ext[axis] {
			hi[axis] = ext[axis]
		}
	}
	return
}

func downsampleMean(out *mipvol.Array, outMin mipvol.Point3d, src *mipvol.Array, srcMin, factor mipvol.Point3d) {
	size := out.Extent()
	for c := 0; c < out.NumChannels(); c++ {
		for z := int32(0); z < size[0]; z++ {
			for y := int32(0); y < size[1]; y++ {
				for x := int32(0); x < size[2]; x++ {
					p := outMin.Add(mipvol.Point3d{z, y, x})
					lo, hi := block(p, factor, srcMin, src)
					var sum float64
					var n int
					for sz := lo[0]; sz < hi[0]; sz++ {
						for sy := lo[1]; sy < hi[1]; sy++ {
							for sx := lo[2]; sx < hi[2]; sx++ {
								sum += src.At(c, int(sz), int(sy), int(sx))
								n++
							}
						}
					}
					if n > 0 {
						out.Set(c, int(z), int(y), int(x), sum/float64(n))
					}
				}
			}
		}
	}
}

type labelCount struct {
	label uint64
	count int
}

func downsampleMode(out *mipvol.Array, outMin mipvol.Point3d, src *mipvol.Array, srcMin, factor mipvol.Point3d) {
	size := out.Extent()
	dtype := src.DataType
	counts := make([]labelCount, 0, factor.Prod())
	for c := 0; c < out.NumChannels(); c++ {
		for z := int32(0); z < size[0]; z++ {
			for y := int32(0); y < size[1]; y++ {
				for x := int32(0); x < size[2]; x++ {
					p := outMin.Add(mipvol.Point3d{z, y, x})
					lo, hi := block(p, factor, srcMin, src)
					counts = counts[:0]
					for sz := lo[0]; sz < hi[0]; sz++ {
						for sy := lo[1]; sy < hi[1]; sy++ {
							for sx := lo[2]; sx < hi[2]; sx++ {
								label := dtype.Uint64(src.Data, src.Offset(c, int(sz), int(sy), int(sx)))
								counts = addLabel(counts, label)
							}
						}
					}
					if len(counts) == 0 {
						continue
					}
					best := counts[0]
					for _, lc := range counts[1:] {
						if lc.count > best.count || (lc.count == best.count && lc.label < best.label) {
							best = lc
						}
					}
					dtype.PutUint64(out.Data, out.Offset(c, int(z), int(y), int(x)), best.label)
				}
			}
		}
	}
}

func addLabel(counts []labelCount, label uint64) []labelCount {
	for i := range counts {
		if counts[i].label == label {
			counts[i].count++
			return counts
		}
	}
	return append(counts, labelCount{label, 1})
}
