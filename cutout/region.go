package cutout

import (
	"fmt"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// Region is a region request as given on a command line or in a URL: either
// Begin/End, Begin/Size, or Center/Size.  Nil fields are unset.
type Region struct {
	Begin  *mipvol.Point3d
	End    *mipvol.Point3d
	Center *mipvol.Point3d
	Size   *mipvol.Point3d
}

// CoordBbox resolves a region at the given level.  With a center, the box starts
// at center - size/2 and spans size.  Otherwise a missing begin defaults to the
// level offset and a missing end to begin + size, or to the level's far corner
// when no size is given.
func CoordBbox(info *mipvol.VolumeInfo, level int, region Region) (mipvol.Bbox, error) {
	r, err := info.Level(level)
	if err != nil {
		return mipvol.Bbox{}, err
	}
	var begin, end mipvol.Point3d
	if region.Center != nil {
		if region.Size == nil {
			return mipvol.Bbox{}, fmt.Errorf("a region center requires a size")
		}
		begin = region.Center.Sub(region.Size.FloorDiv(mipvol.Point3d{2, 2, 2}))
		end = begin.Add(*region.Size)
	} else {
		begin = r.Offset
		if region.Begin != nil {
			begin = *region.Begin
		}
		switch {
		case region.End != nil:
			end = *region.End
		case region.Size != nil:
			end = begin.Add(*region.Size)
		default:
			end = r.Offset.Add(r.Shape)
		}
	}
	b := mipvol.Bbox{Min: begin, Max: end, Level: level}
	if !b.Valid() {
		return mipvol.Bbox{}, fmt.Errorf("region %s has min > max: %w", b, mipvol.ErrDegenerateBbox)
	}
	return b, nil
}
