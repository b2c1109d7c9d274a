/*
	Package storage defines the volume store boundary: a path-addressed chunk store
	holding a VolumeInfo plus one object per chunk per resolution level.  Engines
	register themselves by name and are opened from a Config, typically the [store]
	section of a TOML configuration file.
*/
package storage

import (
	"context"
	"errors"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// ErrNoVolume is returned by GetInfo when no info has been committed at a path.
var ErrNoVolume = errors.New("no volume at path")

// Store is a chunked volume store with per-chunk atomicity.  Paths are relative
// to the store's root.  Transient transport errors wrap mipvol.ErrStoreUnavailable.
type Store interface {
	// GetInfo returns the committed info at path or ErrNoVolume.
	GetInfo(ctx context.Context, path string) (*mipvol.VolumeInfo, error)

	// ReadChunk returns the raw (C, Z, Y, X) little-endian bytes of a chunk.
	// found is false if the chunk has never been written.
	ReadChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d) (data []byte, found bool, err error)

	// WriteChunk replaces a chunk.  The level must be known from the committed
	// info at path or from an info passed to StageInfo.
	WriteChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d, data []byte) error

	// CommitInfo atomically replaces the info at path.
	CommitInfo(ctx context.Context, path string, info *mipvol.VolumeInfo) error

	// StageInfo makes an uncommitted info's geometry available for addressing
	// chunks at path.  It does not write anything and is not visible to GetInfo.
	StageInfo(path string, info *mipvol.VolumeInfo)

	Close() error
	String() string
}
