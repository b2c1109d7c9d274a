package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/janelia-flyem/go/semver"
	"github.com/janelia-flyem/mipvol/mipvol"
)

type chunkID struct {
	path  string
	level int
	coord mipvol.ChunkPoint3d
}

// mapStore is a minimal Store that counts chunk reads.
type mapStore struct {
	mu     sync.Mutex
	infos  map[string]*mipvol.VolumeInfo
	chunks map[chunkID][]byte
	reads  int
}

func newMapStore() *mapStore {
	return &mapStore{
		infos:  make(map[string]*mipvol.VolumeInfo),
		chunks: make(map[chunkID][]byte),
	}
}

func (m *mapStore) GetInfo(ctx context.Context, path string) (*mipvol.VolumeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, found := m.infos[path]
	if !found {
		return nil, ErrNoVolume
	}
	return info.Copy(), nil
}

func (m *mapStore) ReadChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	data, found := m.chunks[chunkID{path, level, coord}]
	return data, found, nil
}

func (m *mapStore) WriteChunk(ctx context.Context, path string, level int, coord mipvol.ChunkPoint3d, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunkID{path, level, coord}] = append([]byte(nil), data...)
	return nil
}

func (m *mapStore) CommitInfo(ctx context.Context, path string, info *mipvol.VolumeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[path] = info.Copy()
	return nil
}

func (m *mapStore) StageInfo(path string, info *mipvol.VolumeInfo) {}

func (m *mapStore) Close() error   { return nil }
func (m *mapStore) String() string { return "map store" }

type mapEngine struct {
	ver semver.Version
}

func (e mapEngine) GetName() string                  { return "map" }
func (e mapEngine) GetDescription() string           { return "in-memory map for tests" }
func (e mapEngine) GetSemVer() semver.Version        { return e.ver }
func (e mapEngine) String() string                   { return fmt.Sprintf("map [%s]", e.ver) }
func (e mapEngine) NewStore(c Config) (Store, error) { return newMapStore(), nil }
