package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// CachedStore keeps recently read or written chunks in a fixed-size in-memory
// cache, snappy-compressed.  Info reads are never cached.  The cache only sees
// writes made through it, so it suits read-mostly use like serving cutouts.
type CachedStore struct {
	Store
	cache *freecache.Cache

	attempts uint64
	hits     uint64
}

// NewCachedStore wraps s with a chunk cache of about numBytes bytes.
func NewCachedStore(s Store, numBytes int) *CachedStore {
	mipvol.Infof("Created chunk cache of %s for %s\n", humanize.Bytes(uint64(numBytes)), s)
	return &CachedStore{
		Store: s,
		cache: freecache.NewCache(numBytes),
	}
}

func chunkCacheKey(path string, level int, coord mipvol.ChunkPoint3d) []byte {
	key := make([]byte, 16+len(path))
	binary.LittleEndian.PutUint32(key[0:4], uint32(level))
	binary.LittleEndian.PutUint32(key[4:8], uint32(coord[0]))
	binary.LittleEndian.PutUint32(key[8:12], uint32(coord[1]))
	binary.LittleEndian.PutUint32(key[12:16], uint32(coord[2]))
	copy(key[16:], path)
	return key
}

// ReadChunk returns a cached chunk or reads it through.
func (c *CachedStore) ReadChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d) ([]byte, bool, error) {
	key := chunkCacheKey(path, level, coord)
	atomic.AddUint64(&c.attempts, 1)
	cdata, err := c.cache.Get(key)
	if err != nil && err != freecache.ErrNotFound {
		return nil, false, err
	}
	if err == nil {
		data, err := snappy.Decode(nil, cdata)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt cached chunk %s: %v", coord, err)
		}
		atomic.AddUint64(&c.hits, 1)
		return data, true, nil
	}
	data, found, err := c.Store.ReadChunk(ctx, path, level, coord)
	if err != nil || !found {
		return data, found, err
	}
	c.put(key, data)
	return data, true, nil
}

// WriteChunk writes through and refreshes the cached copy.
func (c *CachedStore) WriteChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d, data []byte) error {
	key := chunkCacheKey(path, level, coord)
	if err := c.Store.WriteChunk(ctx, path, level, coord, data); err != nil {
		c.cache.Del(key)
		return err
	}
	c.put(key, data)
	return nil
}

func (c *CachedStore) put(key, data []byte) {
	if err := c.cache.Set(key, snappy.Encode(nil, data), 0); err != nil {
		mipvol.Debugf("not caching chunk of %d bytes: %v\n", len(data), err)
		c.cache.Del(key)
	}
}

// Stats returns the number of chunk reads and how many were served from cache.
func (c *CachedStore) Stats() (attempts, hits uint64) {
	return atomic.LoadUint64(&c.attempts), atomic.LoadUint64(&c.hits)
}

func (c *CachedStore) String() string {
	return fmt.Sprintf("cached %s", c.Store)
}
