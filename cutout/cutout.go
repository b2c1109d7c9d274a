/*
	Package cutout extracts dense, channel-first arrays for a region at any level of
	a volume's resolution pyramid.  Regions may be given at one level and read at
	another; the region is converted conservatively so the result always covers it.
*/
package cutout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// Options control how regions are read.
type Options struct {
	// Parallelism bounds the number of concurrent chunk fetches.
	Parallelism int

	// FillMissing fills absent chunks with FillValue instead of failing.
	FillMissing bool
	FillValue   float64

	// Squeeze drops the channel axis of single-channel volumes.
	Squeeze bool

	// OutputType converts the cutout to this type if set.
	OutputType mipvol.DataType

	Retry storage.RetryPolicy
}

// DefaultOptions fill missing chunks with zero and never squeeze.
func DefaultOptions() Options {
	return Options{
		Parallelism: 16,
		FillMissing: true,
		Retry:       storage.DefaultRetryPolicy(),
	}
}

// Reader reads cutouts from a store.
type Reader struct {
	store storage.Store
	opts  Options
}

// NewReader returns a reader using the given options.
func NewReader(store storage.Store, opts Options) *Reader {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Reader{store: store, opts: opts}
}

// Options returns the reader's options.
func (r *Reader) Options() Options {
	return r.opts
}

// GetInfo returns the volume info at path, retrying transient errors.
func (r *Reader) GetInfo(ctx context.Context, path string) (info *mipvol.VolumeInfo, err error) {
	err = r.opts.Retry.Do(ctx, "get info "+path, func(ctx context.Context) error {
		var err error
		info, err = r.store.GetInfo(ctx, path)
		return err
	})
	return
}

// Read returns the region bbox, expressed at coordLevel, as read from targetLevel.
// The cutout covers bbox converted to targetLevel exactly and is (C, Z, Y, X)
// unless squeezed.
func (r *Reader) Read(ctx context.Context, path string, bbox mipvol.Bbox, coordLevel, targetLevel int) (*mipvol.Cutout, error) {
	info, err := r.GetInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.ReadWithInfo(ctx, path, info, bbox, coordLevel, targetLevel)
}

// ReadWithInfo is Read with an already fetched info.
func (r *Reader) ReadWithInfo(ctx context.Context, path string, info *mipvol.VolumeInfo, bbox mipvol.Bbox, coordLevel, targetLevel int) (*mipvol.Cutout, error) {
	timedLog := mipvol.NewTimeLog()
	target, err := info.Convert(bbox, coordLevel, targetLevel)
	if err != nil {
		return nil, err
	}
	arr, numChunks, err := r.readRegion(ctx, path, info, target)
	if err != nil {
		return nil, err
	}
	if r.opts.OutputType.Valid() && r.opts.OutputType != arr.DataType {
		arr = arr.AsType(r.opts.OutputType)
	}
	result := &mipvol.Cutout{
		Array:    arr,
		Bbox:     target,
		Level:    targetLevel,
		Squeezed: r.opts.Squeeze && info.NumChannels == 1,
	}
	if coordLevel != targetLevel {
		timedLog.Debugf("Cutout %s at level %d = %s, %d chunks from %q", bbox, coordLevel, target, numChunks, path)
	} else {
		timedLog.Debugf("Cutout %s, %d chunks from %q", target, numChunks, path)
	}
	return result, nil
}

// readRegion assembles the chunks overlapping box into a dense array covering
// exactly box.
func (r *Reader) readRegion(ctx context.Context, path string, info *mipvol.VolumeInfo, box mipvol.Bbox) (*mipvol.Array, int, error) {
	level, err := info.Level(box.Level)
	if err != nil {
		return nil, 0, err
	}
	out := mipvol.NewArray(info.DataType, info.NumChannels, box.Size())
	if r.opts.FillMissing && r.opts.FillValue != 0 {
		out.Fill(r.opts.FillValue)
	}

	var coords []mipvol.ChunkPoint3d
	box.ForEachChunk(level.Offset, level.ChunkSize, func(c mipvol.ChunkPoint3d) error {
		coords = append(coords, c)
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for _, coord := range coords {
		coord := coord
		g.Go(func() error {
			return r.readChunkInto(gctx, path, info, level, coord, out, box)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, len(coords), nil
}

// readChunkInto copies the part of a chunk within box into out.  Chunks outside
// the level bounds are absent.  Distinct chunks write disjoint parts of out.
func (r *Reader) readChunkInto(ctx context.Context, path string, info *mipvol.VolumeInfo, level mipvol.ResolutionLevel,
	coord mipvol.ChunkPoint3d, out *mipvol.Array, box mipvol.Bbox) error {

	chunkBox := level.ChunkBbox(coord)
	var data []byte
	var found bool
	if !chunkBox.Empty() {
		what := fmt.Sprintf("read chunk %s level %d of %q", coord, level.Level, path)
		err := r.opts.Retry.Do(ctx, what, func(ctx context.Context) error {
			var err error
			data, found, err = r.store.ReadChunk(ctx, path, level.Level, coord)
			return err
		})
		if err != nil {
			return err
		}
	}
	if !found {
		if !r.opts.FillMissing {
			return fmt.Errorf("chunk %s at level %d of %q: %w", coord, level.Level, path, mipvol.ErrMissingChunk)
		}
		return nil
	}
	chunk, err := mipvol.NewArrayFromBytes(info.DataType, info.NumChannels, chunkBox.Size(), data)
	if err != nil {
		return fmt.Errorf("chunk %s at level %d of %q: %w", coord, level.Level, path, err)
	}
	return mipvol.CopyBox(out, box.Min, chunk, chunkBox.Min, chunkBox.Intersect(box))
}
