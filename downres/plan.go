package downres

import (
	"fmt"

	"github.com/janelia-flyem/mipvol/mipvol"
)

var (
	// AnisotropicFactor halves y and x between levels, keeping z.
	AnisotropicFactor = mipvol.Point3d{1, 2, 2}

	// IsotropicFactor halves every axis between levels.
	IsotropicFactor = mipvol.Point3d{2, 2, 2}
)

// NextLevel returns the level coarser than r by factor.  Its bounds are r's bounds
// converted conservatively, so every voxel of r lies under a voxel of the result.
func NextLevel(r mipvol.ResolutionLevel, factor mipvol.Point3d) mipvol.ResolutionLevel {
	var next mipvol.ResolutionLevel
	next.Level = r.Level + 1
	for axis := 0; axis < 3; axis++ {
		next.VoxelSize[axis] = r.VoxelSize[axis] * float64(factor[axis])
	}
	next.Offset = r.Offset.FloorDiv(factor)
	next.Shape = r.Offset.Add(r.Shape).CeilDiv(factor).Sub(next.Offset)
	next.ChunkSize = r.ChunkSize
	next.Encoding = r.Encoding
	if next.Encoding == "" {
		next.Encoding = "raw"
	}
	next.Key = next.DefaultKey()
	return next
}

// worthDownsampling returns true if r spans more than one chunk along every axis
// the factor reduces.
func worthDownsampling(r mipvol.ResolutionLevel, factor mipvol.Point3d) bool {
	reduced := false
	for axis := 0; axis < 3; axis++ {
		if factor[axis] <= 1 {
			continue
		}
		reduced = true
		if r.Shape[axis] <= r.ChunkSize[axis] {
			return false
		}
	}
	return reduced
}

// PlanLevels returns the levels to append to info so the pyramid has at most
// maxLevels levels.  Levels are added while the coarsest level spans more than one
// chunk along every downsampled axis.
func PlanLevels(info *mipvol.VolumeInfo, factor mipvol.Point3d, maxLevels int) ([]mipvol.ResolutionLevel, error) {
	for axis := 0; axis < 3; axis++ {
		if factor[axis] < 1 {
			return nil, fmt.Errorf("bad %s downsampling factor %d: %w", mipvol.AxisName(axis), factor[axis], mipvol.ErrInvalidLevel)
		}
	}
	var planned []mipvol.ResolutionLevel
	last := info.Levels[info.NumLevels()-1]
	for n := info.NumLevels(); n < maxLevels && worthDownsampling(last, factor); n++ {
		last = NextLevel(last, factor)
		planned = append(planned, last)
	}
	return planned, nil
}

// PlanWaves returns the tasks that bring every level coarser than region's level
// up to date with region, one wave per target level from the finest.  Each task
// derives its chunk from the level just finer than its target, so a wave may only
// start once the previous wave has finished.
//
// The first wave covers region converted to the next level.  Every later wave
// covers the chunks written by the previous one, converted again.  Within a wave
// tasks are ordered z, y, x and their chunk boxes tile the chunk-aligned extent of
// the converted box, clipped to the level bounds, with no gaps or overlaps.
func PlanWaves(info *mipvol.VolumeInfo, path string, region mipvol.Bbox) ([][]Task, error) {
	src, err := info.Level(region.Level)
	if err != nil {
		return nil, err
	}
	if !src.Bounds().Contains(region) {
		return nil, fmt.Errorf("region %s outside level %d bounds %s: %w", region, region.Level, src.Bounds(), mipvol.ErrIncompatibleVolume)
	}
	var waves [][]Task
	changed := region
	for target := region.Level + 1; target < info.NumLevels() && !changed.Empty(); target++ {
		box, err := info.Convert(changed, target-1, target)
		if err != nil {
			return nil, err
		}
		r := info.Levels[target]
		box = box.Intersect(r.Bounds())
		var wave []Task
		err = box.ForEachChunk(r.Offset, r.ChunkSize, func(c mipvol.ChunkPoint3d) error {
			wave = append(wave, Task{
				Path:        path,
				SourceLevel: target - 1,
				TargetLevel: target,
				ChunkBbox:   r.ChunkBbox(c),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(wave) == 0 {
			break
		}
		waves = append(waves, wave)
		changed = box.ChunkAligned(r.Offset, r.ChunkSize).Intersect(r.Bounds())
	}
	return waves, nil
}

// PlanTasks returns the tasks of every wave planned for region, a box at
// sourceLevel, in the order they must run.
func PlanTasks(info *mipvol.VolumeInfo, path string, region mipvol.Bbox, sourceLevel int) ([]Task, error) {
	if region.Level != sourceLevel {
		return nil, fmt.Errorf("region %s is not at source level %d: %w", region, sourceLevel, mipvol.ErrInvalidLevel)
	}
	waves, err := PlanWaves(info, path, region)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	for _, wave := range waves {
		tasks = append(tasks, wave...)
	}
	return tasks, nil
}
