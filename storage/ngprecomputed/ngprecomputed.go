/*
	Package ngprecomputed implements storage.Store over the neuroglancer precomputed
	layout: a JSON "info" object at the volume path and one object per chunk at
	<path>/<scale key>/<x0>-<x1>_<y0>-<y1>_<z0>-<z1>.  Only the raw chunk encoding is
	supported, optionally gzip-compressed in transit.  Objects live in a gocloud.dev
	bucket (file://, mem://, gs://, s3://) or in a MinIO/S3-compatible bucket.
*/
package ngprecomputed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"golang.org/x/time/rate"

	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

const infoName = "info"

// objectStore is the key/value surface needed by the precomputed layout.
type objectStore interface {
	// get returns found == false if the key does not exist.
	get(ctx context.Context, key string) (data []byte, found bool, err error)
	put(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error
	close() error
}

// Options tune a Store.
type Options struct {
	// Gzip compresses chunk objects on write.  Reads handle either form.
	Gzip bool

	// RequestsPerSec limits object requests if positive.
	RequestsPerSec float64

	// Burst is the number of requests allowed at once when rate limited.
	Burst int
}

// Store is a neuroglancer precomputed volume store.
type Store struct {
	ref     string
	objects objectStore
	opts    Options
	limiter *rate.Limiter

	// last info seen per volume path, used to locate chunk objects.
	infoMu sync.RWMutex
	infos  map[string]*mipvol.VolumeInfo
}

func newStore(ref string, objects objectStore, opts Options) *Store {
	s := &Store{
		ref:     ref,
		objects: objects,
		opts:    opts,
		infos:   make(map[string]*mipvol.VolumeInfo),
	}
	if opts.RequestsPerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}
	return s
}

func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// ChunkName returns the object name of a chunk relative to its scale directory.
func ChunkName(r mipvol.ResolutionLevel, coord mipvol.ChunkPoint3d) string {
	b := r.ChunkBbox(coord)
	return fmt.Sprintf("%d-%d_%d-%d_%d-%d",
		b.Min[mipvol.AxisX], b.Max[mipvol.AxisX],
		b.Min[mipvol.AxisY], b.Max[mipvol.AxisY],
		b.Min[mipvol.AxisZ], b.Max[mipvol.AxisZ])
}

func chunkKey(volPath string, r mipvol.ResolutionLevel, coord mipvol.ChunkPoint3d) string {
	key := r.Key
	if key == "" {
		key = r.DefaultKey()
	}
	return path.Join(volPath, key, ChunkName(r, coord))
}

func (s *Store) cachedInfo(volPath string) *mipvol.VolumeInfo {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.infos[volPath]
}

func (s *Store) setCachedInfo(volPath string, info *mipvol.VolumeInfo) {
	s.infoMu.Lock()
	s.infos[volPath] = info
	s.infoMu.Unlock()
}

// levelInfo returns the info and level geometry used to address chunks, reloading
// the info if the level is not yet known.
func (s *Store) levelInfo(ctx context.Context, volPath string, level int) (*mipvol.VolumeInfo, mipvol.ResolutionLevel, error) {
	info := s.cachedInfo(volPath)
	if info == nil || level >= info.NumLevels() {
		var err error
		if info, err = s.GetInfo(ctx, volPath); err != nil {
			return nil, mipvol.ResolutionLevel{}, err
		}
	}
	r, err := info.Level(level)
	if err != nil {
		return nil, mipvol.ResolutionLevel{}, err
	}
	return info, r, nil
}

// ---- storage.Store interface implementation -----------

// GetInfo reads and validates the info object at volPath.
func (s *Store) GetInfo(ctx context.Context, volPath string) (*mipvol.VolumeInfo, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	key := path.Join(volPath, infoName)
	data, found, err := s.objects.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNoVolume)
	}
	if err := validateInfoJSON(data); err != nil {
		return nil, fmt.Errorf("bad info at %q: %v", key, err)
	}
	info := new(mipvol.VolumeInfo)
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("can't decode info at %q: %v", key, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("bad info at %q: %v", key, err)
	}
	s.setCachedInfo(volPath, info)
	return info.Copy(), nil
}

// ReadChunk returns the raw bytes of a chunk, uncompressing gzip objects.  Chunks
// outside the level bounds are never found.
func (s *Store) ReadChunk(ctx context.Context, volPath string, level int, coord mipvol.ChunkPoint3d) ([]byte, bool, error) {
	info, r, err := s.levelInfo(ctx, volPath, level)
	if err != nil {
		return nil, false, err
	}
	bbox := r.ChunkBbox(coord)
	if bbox.Empty() {
		return nil, false, nil
	}
	if err := s.wait(ctx); err != nil {
		return nil, false, err
	}
	key := chunkKey(volPath, r, coord)
	data, found, err := s.objects.get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	expected := int(bbox.NumVoxels()) * info.BytesPerVoxel()
	if len(data) != expected && isGzip(data) {
		if data, err = gzipUncompress(data); err != nil {
			return nil, false, fmt.Errorf("chunk %q: %v", key, err)
		}
	}
	storage.RecordChunkRead(len(data))
	return data, true, nil
}

// WriteChunk stores the raw bytes of a chunk, which must exactly cover the chunk's
// extent clipped to the level bounds.
func (s *Store) WriteChunk(ctx context.Context, volPath string, level int, coord mipvol.ChunkPoint3d, data []byte) error {
	info, r, err := s.levelInfo(ctx, volPath, level)
	if err != nil {
		return err
	}
	bbox := r.ChunkBbox(coord)
	if bbox.Empty() {
		return fmt.Errorf("chunk %s is outside level %d bounds %s: %w", coord, level, r.Bounds(), mipvol.ErrShapeMismatch)
	}
	expected := int(bbox.NumVoxels()) * info.BytesPerVoxel()
	if len(data) != expected {
		return fmt.Errorf("chunk %s at level %d needs %d bytes, got %d: %w", coord, level, expected, len(data), mipvol.ErrShapeMismatch)
	}
	encoding := ""
	if s.opts.Gzip {
		if data, err = gzipCompress(data); err != nil {
			return err
		}
		encoding = "gzip"
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.objects.put(ctx, chunkKey(volPath, r, coord), data, "application/octet-stream", encoding); err != nil {
		return err
	}
	storage.RecordChunkWrite(len(data))
	return nil
}

// CommitInfo validates and writes the info object at volPath.
func (s *Store) CommitInfo(ctx context.Context, volPath string, info *mipvol.VolumeInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := validateInfoJSON(data); err != nil {
		return fmt.Errorf("info for %q does not match schema: %v", volPath, err)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.objects.put(ctx, path.Join(volPath, infoName), data, "application/json", ""); err != nil {
		return err
	}
	s.setCachedInfo(volPath, info.Copy())
	return nil
}

// StageInfo lets chunks of a volume be written before its info is committed.
func (s *Store) StageInfo(volPath string, info *mipvol.VolumeInfo) {
	s.setCachedInfo(volPath, info.Copy())
}

func (s *Store) Close() error {
	if err := s.objects.close(); err != nil {
		mipvol.Errorf("Error on trying to close ngprecomputed (%s): %v\n", s.ref, err)
		return err
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("neuroglancer precomputed store @ %s", s.ref)
}

// unavailable marks err as a transient store error.
func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %q: %w: %w", op, key, mipvol.ErrStoreUnavailable, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
