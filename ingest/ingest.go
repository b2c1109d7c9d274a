/*
	Package ingest writes produced arrays back into a chunked volume at the base
	resolution level.  The Writer is the only code that mutates a volume's
	committed info: ingests create or validate it, and CommitLevels appends the
	coarser levels a downsample run will populate.

	Ingests into the same volume path must be serialized by the caller.  A
	concurrent, incompatible change to the committed info is detected at commit
	time and reported as mipvol.ErrWriteConflict.
*/
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// DefaultChunkSize is the chunk size of volumes created by an ingest.
var DefaultChunkSize = mipvol.Point3d{64, 64, 64}

// Options control how patches are written.
type Options struct {
	// Parallelism bounds the number of concurrent chunk writes.
	Parallelism int

	Retry storage.RetryPolicy
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Parallelism: 16,
		Retry:       storage.DefaultRetryPolicy(),
	}
}

// Request describes where a produced patch belongs.
type Request struct {
	// Bbox is the region the model was given, tagged with a level of SourceInfo.
	Bbox mipvol.Bbox

	// SourceInfo is the pyramid Bbox is expressed in.  If nil, Bbox must already
	// be tagged with InputLevel.
	SourceInfo *mipvol.VolumeInfo

	// InputLevel is the source level the model read.  Its voxel grid becomes
	// level 0 of the destination.
	InputLevel int

	// Offset, if set, moves Bbox so its min corner is at Offset.
	Offset *mipvol.Point3d

	// PatchOffsetCorrection, if set, is the position of the patch within the
	// requested region.  Otherwise the patch is assumed centered.
	PatchOffsetCorrection *mipvol.Point3d

	// Path is the destination path template; Keywords fill a positional
	// template.  Center and Size, if set, name a coordinate-suffix path instead
	// of Bbox.
	Path     PathTemplate
	Keywords []string
	Center   *mipvol.Point3d
	Size     *mipvol.Point3d

	// Tag is appended to the resolved path to separate parallel outputs.
	Tag string

	// Geometry of a new destination.  A zero VoxelSize is taken from the input
	// level of SourceInfo, a zero ChunkSize is DefaultChunkSize and an empty
	// Layout is image.  For an existing destination any set field must match.
	VoxelSize mipvol.Vector3d
	ChunkSize mipvol.Point3d
	Layout    mipvol.Layout
}

// Committed is the result of a successful ingest.
type Committed struct {
	Path          string
	Info          *mipvol.VolumeInfo
	Bbox          mipvol.Bbox // written region at level 0 of the destination
	ChunksWritten int
	Created       bool
}

// Writer ingests patches into a store.
type Writer struct {
	store storage.Store
	opts  Options
}

// NewWriter returns a writer using the given options.
func NewWriter(store storage.Store, opts Options) *Writer {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Writer{store: store, opts: opts}
}

// Store returns the store written to.
func (w *Writer) Store() storage.Store {
	return w.store
}

// DestinationBbox returns the level 0 destination region of a patch with the
// given extent, after any offset override, level conversion, and patch-offset
// correction.
func DestinationBbox(req Request, patchExtent mipvol.Point3d) (mipvol.Bbox, error) {
	requested, err := requestedBbox(req)
	if err != nil {
		return mipvol.Bbox{}, err
	}
	size := requested.Size()
	diff := size.Sub(patchExtent)
	if !(mipvol.Point3d{}).LessEq(diff) {
		return mipvol.Bbox{}, fmt.Errorf("patch extent %s exceeds requested extent %s: %w", patchExtent, size, mipvol.ErrShapeMismatch)
	}
	var corr mipvol.Point3d
	if req.PatchOffsetCorrection != nil {
		corr = *req.PatchOffsetCorrection
		if !(mipvol.Point3d{}).LessEq(corr) || !corr.LessEq(diff) {
			return mipvol.Bbox{}, fmt.Errorf("patch offset %s places patch %s outside requested extent %s: %w",
				corr, patchExtent, size, mipvol.ErrShapeMismatch)
		}
	} else {
		for axis := 0; axis < 3; axis++ {
			if diff[axis]%2 != 0 {
				return mipvol.Bbox{}, fmt.Errorf("%s extent %d trimmed to %d by an odd amount: %w",
					mipvol.AxisName(axis), size[axis], patchExtent[axis], mipvol.ErrAmbiguousOffset)
			}
			corr[axis] = diff[axis] / 2
		}
	}
	return mipvol.NewBbox(requested.Min.Add(corr), patchExtent, 0), nil
}

// requestedBbox returns the requested region in the destination's level 0 frame.
func requestedBbox(req Request) (mipvol.Bbox, error) {
	box := req.Bbox
	if req.Offset != nil {
		box = box.Translate(req.Offset.Sub(box.Min))
	}
	if req.SourceInfo == nil {
		if box.Level != req.InputLevel {
			return mipvol.Bbox{}, fmt.Errorf("bbox %s is not at input level %d and no source pyramid given: %w",
				box, req.InputLevel, mipvol.ErrInvalidLevel)
		}
	} else {
		var err error
		if box, err = req.SourceInfo.Convert(box, box.Level, req.InputLevel); err != nil {
			return mipvol.Bbox{}, err
		}
	}
	if !box.Valid() {
		return mipvol.Bbox{}, fmt.Errorf("requested region %s: %w", box, mipvol.ErrDegenerateBbox)
	}
	box.Level = 0
	return box, nil
}

// DestinationPath resolves the request's path template and tag.  A
// coordinate-suffix path names the region the model was given, before any offset
// override moves it.
func DestinationPath(req Request) (string, error) {
	region := PathRegion{Bbox: req.Bbox, Center: req.Center, Size: req.Size}
	return ResolvePath(req.Path, req.Keywords, region, req.Tag)
}

// newInfo returns a single-level info enveloping dest.
func newInfo(patch *mipvol.Array, req Request, dest mipvol.Bbox) (*mipvol.VolumeInfo, error) {
	voxelSize := req.VoxelSize
	if voxelSize == (mipvol.Vector3d{}) {
		if req.SourceInfo == nil {
			return nil, fmt.Errorf("new volume needs a voxel size or source pyramid: %w", mipvol.ErrIncompatibleVolume)
		}
		r, err := req.SourceInfo.Level(req.InputLevel)
		if err != nil {
			return nil, err
		}
		voxelSize = r.VoxelSize
	}
	chunkSize := req.ChunkSize
	if chunkSize == (mipvol.Point3d{}) {
		chunkSize = DefaultChunkSize
	}
	layout := req.Layout
	if layout == "" {
		layout = mipvol.LayoutImage
	}
	info := mipvol.NewVolumeInfo(patch.NumChannels(), patch.DataType, layout, voxelSize, dest.Min, dest.Size(), chunkSize)
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("can't create volume for %s: %v: %w", dest, err, mipvol.ErrIncompatibleVolume)
	}
	return info, nil
}

// checkCompatible returns ErrIncompatibleVolume unless the patch and request fit
// the existing volume.
func checkCompatible(info *mipvol.VolumeInfo, patch *mipvol.Array, req Request, dest mipvol.Bbox) error {
	base := info.Levels[0]
	if patch.NumChannels() != info.NumChannels {
		return fmt.Errorf("patch has %d channels, volume has %d: %w", patch.NumChannels(), info.NumChannels, mipvol.ErrIncompatibleVolume)
	}
	if patch.DataType != info.DataType {
		return fmt.Errorf("patch is %s, volume is %s: %w", patch.DataType, info.DataType, mipvol.ErrIncompatibleVolume)
	}
	voxelSize := req.VoxelSize
	if voxelSize == (mipvol.Vector3d{}) && req.SourceInfo != nil {
		if r, err := req.SourceInfo.Level(req.InputLevel); err == nil {
			voxelSize = r.VoxelSize
		}
	}
	if voxelSize != (mipvol.Vector3d{}) && voxelSize != base.VoxelSize {
		return fmt.Errorf("patch voxel size %s, volume level 0 is %s: %w", voxelSize, base.VoxelSize, mipvol.ErrIncompatibleVolume)
	}
	if req.Layout != "" && req.Layout != info.Layout {
		return fmt.Errorf("patch layout %s, volume is %s: %w", req.Layout, info.Layout, mipvol.ErrIncompatibleVolume)
	}
	if !base.Bounds().Contains(dest) {
		return fmt.Errorf("region %s outside volume bounds %s: %w", dest, base.Bounds(), mipvol.ErrIncompatibleVolume)
	}
	return nil
}

// sameBase returns true if chunks written for one info are addressed identically
// in the other.
func sameBase(a, b *mipvol.VolumeInfo) bool {
	return a.NumChannels == b.NumChannels && a.DataType == b.DataType &&
		a.Layout == b.Layout && a.Levels[0] == b.Levels[0]
}

func (w *Writer) getInfo(ctx context.Context, path string) (info *mipvol.VolumeInfo, err error) {
	err = w.opts.Retry.Do(ctx, "get info "+path, func(ctx context.Context) error {
		var err error
		info, err = w.store.GetInfo(ctx, path)
		return err
	})
	return
}

// currentInfo returns the committed info at path or nil if there is none.
func (w *Writer) currentInfo(ctx context.Context, path string) (*mipvol.VolumeInfo, error) {
	info, err := w.getInfo(ctx, path)
	if errors.Is(err, storage.ErrNoVolume) {
		return nil, nil
	}
	return info, err
}

func (w *Writer) commitInfo(ctx context.Context, path string, info *mipvol.VolumeInfo) error {
	return w.opts.Retry.Do(ctx, "commit info "+path, func(ctx context.Context) error {
		return w.store.CommitInfo(ctx, path, info)
	})
}

// Ingest writes patch, a (C, Z, Y, X) array produced for req.Bbox, into level 0
// of the destination volume and commits the volume's info.  The info commit
// happens only after every chunk write succeeded.
func (w *Writer) Ingest(ctx context.Context, patch *mipvol.Array, req Request) (*Committed, error) {
	timedLog := mipvol.NewTimeLog()
	id := uuid.New()

	dest, err := DestinationBbox(req, patch.Extent())
	if err != nil {
		return nil, err
	}
	path, err := DestinationPath(req)
	if err != nil {
		return nil, err
	}
	existing, err := w.currentInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	info := existing
	if existing == nil {
		if info, err = newInfo(patch, req, dest); err != nil {
			return nil, err
		}
		w.store.StageInfo(path, info)
	} else if err = checkCompatible(existing, patch, req, dest); err != nil {
		return nil, fmt.Errorf("ingest into %q: %w", path, err)
	}

	numChunks, err := w.writeRegion(ctx, path, info, patch, dest)
	if err != nil {
		return nil, err
	}

	// Commit, unless the info changed under us.
	current, err := w.currentInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	switch {
	case current == nil && existing != nil:
		return nil, fmt.Errorf("volume %q was removed during ingest: %w", path, mipvol.ErrWriteConflict)
	case current != nil && !sameBase(current, info):
		return nil, fmt.Errorf("volume %q level 0 changed during ingest of %s: %w", path, dest, mipvol.ErrWriteConflict)
	case current != nil:
		info = current
	}
	if err := w.commitInfo(ctx, path, info); err != nil {
		return nil, err
	}
	nbytes := uint64(len(patch.Data))
	timedLog.Infof("Ingest %s: %s patch (%s) -> %s of %q, %d chunks", id, patch, humanize.Bytes(nbytes), dest, path, numChunks)
	return &Committed{
		Path:          path,
		Info:          info,
		Bbox:          dest,
		ChunksWritten: numChunks,
		Created:       current == nil,
	}, nil
}

// IngestOutputs ingests a named collection of model outputs, each under its own
// tag.  Outputs are written in name order and the first failure stops the run.
func (w *Writer) IngestOutputs(ctx context.Context, outputs map[string]*mipvol.Array, req Request) ([]*Committed, error) {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make([]*Committed, 0, len(names))
	for _, name := range names {
		r := req
		if req.Tag != "" {
			r.Tag = req.Tag + "/" + name
		} else {
			r.Tag = name
		}
		c, err := w.Ingest(ctx, outputs[name], r)
		if err != nil {
			return results, fmt.Errorf("output %q: %w", name, err)
		}
		results = append(results, c)
	}
	return results, nil
}

// writeRegion writes the patch covering dest into the level 0 chunks of path.
// Chunks only partly covered by dest are read, merged, and rewritten.
func (w *Writer) writeRegion(ctx context.Context, path string, info *mipvol.VolumeInfo, patch *mipvol.Array, dest mipvol.Bbox) (int, error) {
	base := info.Levels[0]
	var coords []mipvol.ChunkPoint3d
	dest.ForEachChunk(base.Offset, base.ChunkSize, func(c mipvol.ChunkPoint3d) error {
		coords = append(coords, c)
		return nil
	})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for _, coord := range coords {
		coord := coord
		g.Go(func() error {
			return w.writeChunk(gctx, path, info, base, coord, patch, dest)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(coords), nil
}

func (w *Writer) writeChunk(ctx context.Context, path string, info *mipvol.VolumeInfo, base mipvol.ResolutionLevel,
	coord mipvol.ChunkPoint3d, patch *mipvol.Array, dest mipvol.Bbox) error {

	chunkBox := base.ChunkBbox(coord)
	overlap := chunkBox.Intersect(dest)
	if overlap.Empty() {
		return nil
	}
	var chunk *mipvol.Array
	if overlap != chunkBox {
		what := fmt.Sprintf("read chunk %s of %q", coord, path)
		var data []byte
		var found bool
		err := w.opts.Retry.Do(ctx, what, func(ctx context.Context) error {
			var err error
			data, found, err = w.store.ReadChunk(ctx, path, 0, coord)
			return err
		})
		if err != nil {
			return err
		}
		if found {
			if chunk, err = mipvol.NewArrayFromBytes(info.DataType, info.NumChannels, chunkBox.Size(), data); err != nil {
				return fmt.Errorf("chunk %s of %q: %w", coord, path, err)
			}
		}
	}
	if chunk == nil {
		chunk = mipvol.NewArray(info.DataType, info.NumChannels, chunkBox.Size())
	}
	if err := mipvol.CopyBox(chunk, chunkBox.Min, patch, dest.Min, overlap); err != nil {
		return err
	}
	what := fmt.Sprintf("write chunk %s of %q", coord, path)
	return w.opts.Retry.Do(ctx, what, func(ctx context.Context) error {
		return w.store.WriteChunk(ctx, path, 0, coord, chunk.Data)
	})
}

// Create commits info at path if no volume exists there, so tiled runs can
// ingest patches into a shared envelope.  An existing volume with the same
// level 0 geometry is returned unchanged.
func (w *Writer) Create(ctx context.Context, path string, info *mipvol.VolumeInfo) (*mipvol.VolumeInfo, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("can't create %q: %v: %w", path, err, mipvol.ErrIncompatibleVolume)
	}
	existing, err := w.currentInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !sameBase(existing, info) {
			return nil, fmt.Errorf("volume %q already exists with different geometry: %w", path, mipvol.ErrIncompatibleVolume)
		}
		return existing, nil
	}
	if err := w.commitInfo(ctx, path, info); err != nil {
		return nil, err
	}
	mipvol.Infof("Created volume %q: %d channel %s %s, level 0 %s\n", path, info.NumChannels, info.DataType, info.Layout, info.Levels[0].Bounds())
	return info, nil
}

// CommitLevels appends coarser levels to the committed info at path and returns
// the new info.  Levels already present must be identical to those given.
func (w *Writer) CommitLevels(ctx context.Context, path string, levels []mipvol.ResolutionLevel) (*mipvol.VolumeInfo, error) {
	info, err := w.getInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	updated := info.Copy()
	changed := false
	for _, r := range levels {
		switch {
		case r.Level < updated.NumLevels():
			if updated.Levels[r.Level] != r {
				return nil, fmt.Errorf("level %d of %q differs from the one committed: %w", r.Level, path, mipvol.ErrWriteConflict)
			}
		case r.Level == updated.NumLevels():
			updated.Levels = append(updated.Levels, r)
			changed = true
		default:
			return nil, fmt.Errorf("can't append level %d to %q with %d levels: %w", r.Level, path, updated.NumLevels(), mipvol.ErrInvalidLevel)
		}
	}
	if !changed {
		return info, nil
	}
	if err := updated.Validate(); err != nil {
		return nil, fmt.Errorf("levels for %q: %v: %w", path, err, mipvol.ErrInvalidLevel)
	}
	if err := w.commitInfo(ctx, path, updated); err != nil {
		return nil, err
	}
	mipvol.Infof("Committed %d levels for %q\n", updated.NumLevels(), path)
	return updated, nil
}
