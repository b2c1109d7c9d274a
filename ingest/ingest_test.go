package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/mipvol/cutout"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
	"github.com/janelia-flyem/mipvol/storage/ngprecomputed"
)

func newTestStore(t *testing.T) storage.Store {
	s := ngprecomputed.NewBucketStore(memblob.OpenBucket(nil), "mem://", ngprecomputed.Options{})
	t.Cleanup(func() { s.Close() })
	return s
}

// sourcePyramid is a two level anisotropic pyramid of the input volume.
func sourcePyramid() *mipvol.VolumeInfo {
	info := mipvol.NewVolumeInfo(1, mipvol.T_uint8, mipvol.LayoutImage, mipvol.Vector3d{40, 4, 4},
		mipvol.Point3d{0, 0, 0}, mipvol.Point3d{100, 1024, 1024}, mipvol.Point3d{64, 64, 64})
	coarse := mipvol.ResolutionLevel{
		Level:     1,
		VoxelSize: mipvol.Vector3d{40, 8, 8},
		Shape:     mipvol.Point3d{100, 512, 512},
		ChunkSize: mipvol.Point3d{64, 64, 64},
		Encoding:  "raw",
	}
	coarse.Key = coarse.DefaultKey()
	info.Levels = append(info.Levels, coarse)
	return info
}

func filledPatch(dtype mipvol.DataType, numChannels int, extent mipvol.Point3d, v float64) *mipvol.Array {
	arr := mipvol.NewArray(dtype, numChannels, extent)
	arr.Fill(v)
	return arr
}

func readAll(t *testing.T, store storage.Store, path string) *mipvol.Cutout {
	ctx := context.Background()
	info, err := store.GetInfo(ctx, path)
	require.NoError(t, err)
	cut, err := cutout.NewReader(store, cutout.DefaultOptions()).Read(ctx, path, info.Levels[0].Bounds(), 0, 0)
	require.NoError(t, err)
	return cut
}

func TestDestinationBboxShift(t *testing.T) {
	req := Request{
		Bbox: mipvol.Bbox{Min: mipvol.Point3d{0, 0, 0}, Max: mipvol.Point3d{128, 128, 128}},
	}
	dest, err := DestinationBbox(req, mipvol.Point3d{128, 128, 96})
	require.NoError(t, err)
	assert.Equal(t, mipvol.Point3d{0, 0, 16}, dest.Min)
	assert.Equal(t, mipvol.Point3d{128, 128, 112}, dest.Max)
	assert.Equal(t, mipvol.Point3d{128, 128, 96}, dest.Size())

	// Explicit correction for an asymmetric crop.
	req.PatchOffsetCorrection = &mipvol.Point3d{0, 5, 0}
	dest, err = DestinationBbox(req, mipvol.Point3d{128, 121, 128})
	require.NoError(t, err)
	assert.Equal(t, mipvol.Point3d{0, 5, 0}, dest.Min)
	assert.Equal(t, mipvol.Point3d{128, 126, 128}, dest.Max)
}

func TestDestinationBboxConvert(t *testing.T) {
	offset := mipvol.Point3d{10, 200, 400}
	req := Request{
		Bbox:       mipvol.Bbox{Min: mipvol.Point3d{0, 0, 0}, Max: mipvol.Point3d{16, 256, 256}},
		SourceInfo: sourcePyramid(),
		InputLevel: 1,
		Offset:     &offset,
	}
	dest, err := DestinationBbox(req, mipvol.Point3d{16, 96, 96})
	require.NoError(t, err)
	assert.Equal(t, 0, dest.Level)
	assert.Equal(t, mipvol.Point3d{10, 116, 216}, dest.Min)
	assert.Equal(t, mipvol.Point3d{26, 212, 312}, dest.Max)
}

func TestDestinationBboxErrors(t *testing.T) {
	req := Request{
		Bbox: mipvol.Bbox{Min: mipvol.Point3d{0, 0, 0}, Max: mipvol.Point3d{16, 64, 64}},
	}
	_, err := DestinationBbox(req, mipvol.Point3d{16, 63, 64})
	assert.True(t, errors.Is(err, mipvol.ErrAmbiguousOffset), "got %v", err)

	_, err = DestinationBbox(req, mipvol.Point3d{16, 64, 65})
	assert.True(t, errors.Is(err, mipvol.ErrShapeMismatch), "got %v", err)

	req.PatchOffsetCorrection = &mipvol.Point3d{0, 2, 0}
	_, err = DestinationBbox(req, mipvol.Point3d{16, 63, 64})
	assert.True(t, errors.Is(err, mipvol.ErrShapeMismatch), "got %v", err)

	req.PatchOffsetCorrection = nil
	req.InputLevel = 1
	_, err = DestinationBbox(req, mipvol.Point3d{16, 64, 64})
	assert.True(t, errors.Is(err, mipvol.ErrInvalidLevel), "got %v", err)

	req.SourceInfo = sourcePyramid()
	req.InputLevel = 2
	_, err = DestinationBbox(req, mipvol.Point3d{16, 64, 64})
	assert.True(t, errors.Is(err, mipvol.ErrInvalidLevel), "got %v", err)
}

func TestIngestCreatesVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	req := Request{
		Bbox:       mipvol.Bbox{Min: mipvol.Point3d{0, 0, 0}, Max: mipvol.Point3d{8, 64, 64}},
		SourceInfo: sourcePyramid(),
		InputLevel: 1,
		Path:       DetectTemplate("vol/{}", nil),
		Tag:        "aff",
	}
	patch := filledPatch(mipvol.T_float32, 3, mipvol.Point3d{8, 24, 24}, 0.5)
	committed, err := w.Ingest(ctx, patch, req)
	require.NoError(t, err)

	assert.Equal(t, "vol/0-64_0-64_0-8/aff", committed.Path)
	assert.True(t, committed.Created)
	assert.Equal(t, 1, committed.ChunksWritten)
	assert.Equal(t, mipvol.Point3d{0, 4, 4}, committed.Bbox.Min)

	info, err := store.GetInfo(ctx, committed.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.NumLevels())
	assert.Equal(t, 3, info.NumChannels)
	assert.Equal(t, mipvol.T_float32, info.DataType)
	assert.Equal(t, mipvol.Vector3d{40, 8, 8}, info.Levels[0].VoxelSize)
	assert.Equal(t, mipvol.Point3d{0, 4, 4}, info.Levels[0].Offset)
	assert.Equal(t, mipvol.Point3d{8, 24, 24}, info.Levels[0].Shape)
	assert.Equal(t, DefaultChunkSize, info.Levels[0].ChunkSize)

	cut := readAll(t, store, committed.Path)
	assert.True(t, cut.Array.Equal(patch))

	// A second ingest of the same region is compatible and rewrites in place.
	patch.Fill(0.25)
	committed, err = w.Ingest(ctx, patch, req)
	require.NoError(t, err)
	assert.False(t, committed.Created)
	cut = readAll(t, store, committed.Path)
	assert.True(t, cut.Array.Equal(patch))
}

func TestIngestTiling(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	// Envelope for two patches side by side along x.  The boundary at x=36 falls
	// inside a chunk, so the second ingest must merge with the first.
	envelope := mipvol.NewVolumeInfo(1, mipvol.T_uint8, mipvol.LayoutImage, mipvol.Vector3d{40, 4, 4},
		mipvol.Point3d{0, 4, 4}, mipvol.Point3d{8, 32, 64}, mipvol.Point3d{8, 16, 24})
	_, err := w.Create(ctx, "tiled", envelope)
	require.NoError(t, err)

	var dests []mipvol.Bbox
	for i, xmin := range []int32{0, 32} {
		req := Request{
			Bbox: mipvol.Bbox{Min: mipvol.Point3d{0, 0, xmin}, Max: mipvol.Point3d{8, 40, xmin + 40}},
			Path: DetectTemplate("tiled", nil),
		}
		patch := filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{8, 32, 32}, float64(i+1))
		committed, err := w.Ingest(ctx, patch, req)
		require.NoError(t, err)
		assert.False(t, committed.Created)
		dests = append(dests, committed.Bbox)
	}

	// No gap and no overlap at the shared boundary.
	assert.Equal(t, dests[0].Max[2], dests[1].Min[2])
	assert.True(t, dests[0].Intersect(dests[1]).Empty())
	assert.Equal(t, envelope.Levels[0].Bounds(), dests[0].Union(dests[1]))

	cut := readAll(t, store, "tiled")
	size := cut.Bbox.Size()
	for z := 0; z < int(size[0]); z++ {
		for y := 0; y < int(size[1]); y++ {
			for x := 0; x < int(size[2]); x++ {
				want := 1.0
				if int32(x)+cut.Bbox.Min[2] >= 36 {
					want = 2
				}
				if cut.At(0, z, y, x) != want {
					t.Fatalf("voxel (%d,%d,%d) = %g, want %g", z, y, x, cut.At(0, z, y, x), want)
				}
			}
		}
	}
}

func TestIngestIncompatible(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	info := mipvol.NewVolumeInfo(1, mipvol.T_uint8, mipvol.LayoutImage, mipvol.Vector3d{40, 4, 4},
		mipvol.Point3d{0, 0, 0}, mipvol.Point3d{16, 64, 64}, mipvol.Point3d{16, 32, 32})
	_, err := w.Create(ctx, "vol", info)
	require.NoError(t, err)

	req := Request{
		Bbox: mipvol.Bbox{Max: mipvol.Point3d{16, 32, 32}},
		Path: DetectTemplate("vol", nil),
	}
	_, err = w.Ingest(ctx, filledPatch(mipvol.T_uint8, 2, mipvol.Point3d{16, 32, 32}, 1), req)
	assert.True(t, errors.Is(err, mipvol.ErrIncompatibleVolume), "channels: %v", err)

	_, err = w.Ingest(ctx, filledPatch(mipvol.T_float32, 1, mipvol.Point3d{16, 32, 32}, 1), req)
	assert.True(t, errors.Is(err, mipvol.ErrIncompatibleVolume), "dtype: %v", err)

	req.VoxelSize = mipvol.Vector3d{40, 8, 8}
	_, err = w.Ingest(ctx, filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{16, 32, 32}, 1), req)
	assert.True(t, errors.Is(err, mipvol.ErrIncompatibleVolume), "voxel size: %v", err)

	req.VoxelSize = mipvol.Vector3d{}
	req.Bbox = req.Bbox.Translate(mipvol.Point3d{0, 48, 0})
	_, err = w.Ingest(ctx, filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{16, 32, 32}, 1), req)
	assert.True(t, errors.Is(err, mipvol.ErrIncompatibleVolume), "bounds: %v", err)

	// Nothing was written.
	cut := readAll(t, store, "vol")
	assert.True(t, cut.Array.Equal(mipvol.NewArray(mipvol.T_uint8, 1, mipvol.Point3d{16, 64, 64})))

	// Create refuses to replace a different volume.
	other := info.Copy()
	other.Levels[0].ChunkSize = mipvol.Point3d{8, 8, 8}
	_, err = w.Create(ctx, "vol", other)
	assert.True(t, errors.Is(err, mipvol.ErrIncompatibleVolume), "create: %v", err)
}

// conflictStore commits a different info right after the first chunk write.
type conflictStore struct {
	storage.Store
	other *mipvol.VolumeInfo
	once  sync.Once
}

func (s *conflictStore) WriteChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d, data []byte) error {
	if err := s.Store.WriteChunk(ctx, path, level, coord, data); err != nil {
		return err
	}
	var err error
	s.once.Do(func() {
		err = s.Store.CommitInfo(ctx, path, s.other)
	})
	return err
}

func TestIngestWriteConflict(t *testing.T) {
	ctx := context.Background()
	other := mipvol.NewVolumeInfo(1, mipvol.T_uint8, mipvol.LayoutImage, mipvol.Vector3d{40, 4, 4},
		mipvol.Point3d{0, 0, 0}, mipvol.Point3d{64, 64, 64}, mipvol.Point3d{32, 32, 32})
	store := &conflictStore{Store: newTestStore(t), other: other}
	w := NewWriter(store, Options{Parallelism: 1})

	req := Request{
		Bbox:      mipvol.Bbox{Max: mipvol.Point3d{16, 16, 16}},
		Path:      DetectTemplate("racy", nil),
		VoxelSize: mipvol.Vector3d{40, 4, 4},
	}
	_, err := w.Ingest(ctx, filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{16, 16, 16}, 7), req)
	assert.True(t, errors.Is(err, mipvol.ErrWriteConflict), "got %v", err)

	info, err := store.GetInfo(ctx, "racy")
	require.NoError(t, err)
	assert.Equal(t, other.Levels[0], info.Levels[0])
}

// failingStore fails every chunk write after the first with a non-retryable
// error.
type failingStore struct {
	storage.Store
	mu     sync.Mutex
	writes int
}

var errQuota = errors.New("bucket quota exceeded")

func (s *failingStore) WriteChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes++
	n := s.writes
	s.mu.Unlock()
	if n > 1 {
		return errQuota
	}
	return s.Store.WriteChunk(ctx, path, level, coord, data)
}

func TestIngestChunkWriteFails(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: newTestStore(t)}
	w := NewWriter(store, Options{Parallelism: 1, Retry: storage.DefaultRetryPolicy()})

	req := Request{
		Bbox:      mipvol.Bbox{Max: mipvol.Point3d{16, 16, 16}},
		Path:      DetectTemplate("partial", nil),
		VoxelSize: mipvol.Vector3d{40, 4, 4},
		ChunkSize: mipvol.Point3d{8, 8, 8},
	}
	_, err := w.Ingest(ctx, filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{16, 16, 16}, 7), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errQuota), "got %v", err)
	assert.Equal(t, 2, store.writes, "non-retryable errors are not retried")

	// The volume was never committed.
	_, err = store.GetInfo(ctx, "partial")
	assert.True(t, errors.Is(err, storage.ErrNoVolume), "got %v", err)
}

// A coordinate-suffix path names the region given, not where an offset moves it.
func TestDestinationPathOffset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	req := Request{
		Bbox:      mipvol.Bbox{Min: mipvol.Point3d{2, 4, 8}, Max: mipvol.Point3d{6, 20, 24}},
		Offset:    &mipvol.Point3d{100, 200, 300},
		Path:      DetectTemplate("out/{}", nil),
		VoxelSize: mipvol.Vector3d{40, 4, 4},
	}
	path, err := DestinationPath(req)
	require.NoError(t, err)
	assert.Equal(t, "out/8-24_4-20_2-6", path)

	committed, err := w.Ingest(ctx, filledPatch(mipvol.T_uint8, 1, mipvol.Point3d{4, 16, 16}, 3), req)
	require.NoError(t, err)
	assert.Equal(t, "out/8-24_4-20_2-6", committed.Path)
	assert.Equal(t, mipvol.Bbox{Min: mipvol.Point3d{100, 200, 300}, Max: mipvol.Point3d{104, 216, 316}}, committed.Bbox)
}

func TestIngestOutputs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	req := Request{
		Bbox:      mipvol.Bbox{Max: mipvol.Point3d{4, 16, 16}},
		Path:      DetectTemplate("run/", nil),
		VoxelSize: mipvol.Vector3d{40, 4, 4},
	}
	outputs := map[string]*mipvol.Array{
		"boundary": filledPatch(mipvol.T_float32, 1, mipvol.Point3d{4, 16, 16}, 0.75),
		"affinity": filledPatch(mipvol.T_float32, 3, mipvol.Point3d{4, 16, 16}, 0.5),
	}
	results, err := w.IngestOutputs(ctx, outputs, req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "run/affinity", results[0].Path)
	assert.Equal(t, "run/boundary", results[1].Path)

	for i, name := range []string{"affinity", "boundary"} {
		cut := readAll(t, store, results[i].Path)
		assert.True(t, cut.Array.Equal(outputs[name]), name)
	}
}

func TestCommitLevels(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	w := NewWriter(store, DefaultOptions())

	info := mipvol.NewVolumeInfo(1, mipvol.T_uint8, mipvol.LayoutSegmentation, mipvol.Vector3d{40, 4, 4},
		mipvol.Point3d{0, 0, 0}, mipvol.Point3d{16, 64, 64}, mipvol.Point3d{16, 32, 32})
	_, err := w.Create(ctx, "seg", info)
	require.NoError(t, err)

	coarse := mipvol.ResolutionLevel{
		Level:     1,
		VoxelSize: mipvol.Vector3d{40, 8, 8},
		Shape:     mipvol.Point3d{16, 32, 32},
		ChunkSize: mipvol.Point3d{16, 32, 32},
		Encoding:  "raw",
	}
	coarse.Key = coarse.DefaultKey()
	updated, err := w.CommitLevels(ctx, "seg", []mipvol.ResolutionLevel{coarse})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.NumLevels())

	stored, err := store.GetInfo(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, coarse, stored.Levels[1])

	// Re-committing the same levels is a no-op.
	_, err = w.CommitLevels(ctx, "seg", []mipvol.ResolutionLevel{info.Levels[0], coarse})
	require.NoError(t, err)

	changed := coarse
	changed.ChunkSize = mipvol.Point3d{8, 8, 8}
	_, err = w.CommitLevels(ctx, "seg", []mipvol.ResolutionLevel{changed})
	assert.True(t, errors.Is(err, mipvol.ErrWriteConflict), "got %v", err)

	gap := coarse
	gap.Level = 3
	_, err = w.CommitLevels(ctx, "seg", []mipvol.ResolutionLevel{gap})
	assert.True(t, errors.Is(err, mipvol.ErrInvalidLevel), "got %v", err)

	_, err = w.CommitLevels(ctx, "missing", []mipvol.ResolutionLevel{coarse})
	assert.True(t, errors.Is(err, storage.ErrNoVolume), "got %v", err)
}
