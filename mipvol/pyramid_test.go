package mipvol

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"

	. "github.com/janelia-flyem/go/gocheck"
)

func (s *MipSuite) TestConvertCoarser(c *C) {
	info := testPyramid()
	b := Bbox{Min: Point3d{0, 5, 7}, Max: Point3d{10, 17, 33}, Level: 0}

	b1, err := info.Convert(b, 0, 1)
	c.Assert(err, IsNil)
	c.Assert(b1, Equals, Bbox{Min: Point3d{0, 2, 3}, Max: Point3d{10, 9, 17}, Level: 1})

	b2, err := info.Convert(b, 0, 2)
	c.Assert(err, IsNil)
	c.Assert(b2, Equals, Bbox{Min: Point3d{0, 1, 1}, Max: Point3d{10, 5, 9}, Level: 2})

	back, err := info.Convert(b2, 2, 0)
	c.Assert(err, IsNil)
	c.Assert(back, Equals, Bbox{Min: Point3d{0, 4, 4}, Max: Point3d{10, 20, 36}, Level: 0})
	c.Assert(back.Contains(b), Equals, true)

	same, err := info.Convert(b, 0, 0)
	c.Assert(err, IsNil)
	c.Assert(same, Equals, b)
}

func (s *MipSuite) TestConvertNonPowerOfTwo(c *C) {
	info := NewVolumeInfo(1, T_uint8, LayoutImage, Vector3d{40, 4, 4},
		Point3d{}, Point3d{10, 300, 300}, Point3d{8, 64, 64})
	coarse := ResolutionLevel{
		Level:     1,
		VoxelSize: Vector3d{40, 12, 12},
		Shape:     Point3d{10, 100, 100},
		ChunkSize: Point3d{8, 64, 64},
	}
	info.Levels = append(info.Levels, coarse)
	c.Assert(info.Validate(), IsNil)

	scale, err := info.ScaleFactor(0, 1)
	c.Assert(err, IsNil)
	c.Assert(scale, Equals, Vector3d{1, 3, 3})

	// Aligned boxes convert exactly in both directions.
	exact := Bbox{Min: Point3d{0, 12, 24}, Max: Point3d{1, 24, 48}, Level: 0}
	b1, err := info.Convert(exact, 0, 1)
	c.Assert(err, IsNil)
	c.Assert(b1, Equals, Bbox{Min: Point3d{0, 4, 8}, Max: Point3d{1, 8, 16}, Level: 1})
	b0, err := info.Convert(b1, 1, 0)
	c.Assert(err, IsNil)
	c.Assert(b0, Equals, exact)

	// Unaligned boxes grow to cover.
	odd := Bbox{Min: Point3d{0, 5, 5}, Max: Point3d{1, 17, 17}, Level: 0}
	b1, err = info.Convert(odd, 0, 1)
	c.Assert(err, IsNil)
	c.Assert(b1, Equals, Bbox{Min: Point3d{0, 1, 1}, Max: Point3d{1, 6, 6}, Level: 1})
	b0, err = info.Convert(b1, 1, 0)
	c.Assert(err, IsNil)
	c.Assert(b0, Equals, Bbox{Min: Point3d{0, 3, 3}, Max: Point3d{1, 18, 18}, Level: 0})
	c.Assert(b0.Contains(odd), Equals, true)
}

// A pyramid whose levels are not integer multiples of each other converts with one
// ratio, not by compounding the rounding of each step.
func (s *MipSuite) TestConvertDirectRatio(c *C) {
	info := NewVolumeInfo(1, T_uint8, LayoutImage, Vector3d{4, 4, 4},
		Point3d{}, Point3d{90, 90, 90}, Point3d{16, 16, 16})
	for i, size := range []float64{6, 9} {
		info.Levels = append(info.Levels, ResolutionLevel{
			Level:     i + 1,
			VoxelSize: Vector3d{size, size, size},
			Shape:     Point3d{60, 60, 60},
			ChunkSize: Point3d{16, 16, 16},
		})
	}
	c.Assert(info.Validate(), IsNil)

	b := Bbox{Min: Point3d{0, 0, 0}, Max: Point3d{11, 11, 11}, Level: 0}
	b2, err := info.Convert(b, 0, 2)
	c.Assert(err, IsNil)
	c.Assert(b2, Equals, Bbox{Min: Point3d{0, 0, 0}, Max: Point3d{5, 5, 5}, Level: 2})

	for lo := int32(0); lo < 40; lo++ {
		for hi := lo; hi < 40; hi++ {
			b := Bbox{Min: Point3d{lo, lo, lo}, Max: Point3d{hi, hi, hi}, Level: 0}
			got, err := info.Convert(b, 0, 2)
			c.Assert(err, IsNil)
			min := int32(math.Floor(float64(lo) * 4 / 9))
			max := int32(math.Ceil(float64(hi) * 4 / 9))
			c.Assert(got, Equals, Bbox{Min: Point3d{min, min, min}, Max: Point3d{max, max, max}, Level: 2},
				Commentf("converting %s", b))
		}
	}

	// 9 -> 6 is a ratio of 1.5, so [3,5) covers [4.5,7.5).
	b = Bbox{Min: Point3d{3, 3, 3}, Max: Point3d{5, 5, 5}, Level: 2}
	b1, err := info.Convert(b, 2, 1)
	c.Assert(err, IsNil)
	c.Assert(b1, Equals, Bbox{Min: Point3d{4, 4, 4}, Max: Point3d{8, 8, 8}, Level: 1})
}

func (s *MipSuite) TestConvertContainment(c *C) {
	info := testPyramid()
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		var b Bbox
		for axis := 0; axis < 3; axis++ {
			lo := int32(r.Intn(1000)) - 200
			b.Min[axis] = lo
			b.Max[axis] = lo + int32(r.Intn(300))
		}
		from := r.Intn(info.NumLevels())
		to := r.Intn(info.NumLevels())
		b.Level = from
		converted, err := info.Convert(b, from, to)
		c.Assert(err, IsNil)
		back, err := info.Convert(converted, to, from)
		c.Assert(err, IsNil)
		c.Assert(back.Contains(b), Equals, true, Commentf("%s -> %s -> %s", b, converted, back))
	}
}

func (s *MipSuite) TestConvertErrors(c *C) {
	info := testPyramid()
	b := Bbox{Min: Point3d{0, 0, 0}, Max: Point3d{1, 1, 1}, Level: 0}

	_, err := info.Convert(b, 0, 4)
	c.Assert(errors.Is(err, ErrInvalidLevel), Equals, true)
	_, err = info.Convert(b, -1, 0)
	c.Assert(errors.Is(err, ErrInvalidLevel), Equals, true)
	_, err = info.Convert(b, 1, 2)
	c.Assert(errors.Is(err, ErrInvalidLevel), Equals, true)

	inverted := Bbox{Min: Point3d{5, 5, 5}, Max: Point3d{1, 1, 1}, Level: 0}
	_, err = info.Convert(inverted, 0, 1)
	c.Assert(errors.Is(err, ErrDegenerateBbox), Equals, true)
}

func (s *MipSuite) TestLevelGeometry(c *C) {
	info := NewVolumeInfo(2, T_float32, LayoutImage, Vector3d{8, 8, 8},
		Point3d{0, 0, 0}, Point3d{100, 100, 100}, Point3d{64, 64, 64})
	c.Assert(info.BytesPerVoxel(), Equals, 8)
	r, err := info.Level(0)
	c.Assert(err, IsNil)
	c.Assert(r.GridShape(), Equals, Point3d{2, 2, 2})
	c.Assert(r.ChunkBbox(ChunkPoint3d{1, 1, 1}), Equals,
		Bbox{Min: Point3d{64, 64, 64}, Max: Point3d{100, 100, 100}})
	c.Assert(r.ChunkInBounds(ChunkPoint3d{1, 0, 1}), Equals, true)
	c.Assert(r.ChunkInBounds(ChunkPoint3d{2, 0, 0}), Equals, false)
	c.Assert(r.ChunkInBounds(ChunkPoint3d{-1, 0, 0}), Equals, false)
	c.Assert(r.DefaultKey(), Equals, "8_8_8")

	_, err = info.Level(1)
	c.Assert(errors.Is(err, ErrInvalidLevel), Equals, true)
}

func (s *MipSuite) TestValidate(c *C) {
	info := testPyramid()
	c.Assert(info.Validate(), IsNil)

	bad := info.Copy()
	bad.Levels[2].VoxelSize[1] = 2
	c.Assert(bad.Validate(), ErrorMatches, ".*finer than level 1.*")
	c.Assert(info.Validate(), IsNil)

	bad = info.Copy()
	bad.NumChannels = 0
	c.Assert(bad.Validate(), NotNil)

	bad = info.Copy()
	bad.Levels[1].ChunkSize = Point3d{64, 0, 64}
	c.Assert(bad.Validate(), NotNil)

	bad = info.Copy()
	bad.Layout = "mesh"
	c.Assert(bad.Validate(), NotNil)
}

func (s *MipSuite) TestInfoJSON(c *C) {
	info := NewVolumeInfo(3, T_uint16, LayoutSegmentation, Vector3d{40, 4, 5},
		Point3d{1, 2, 3}, Point3d{10, 20, 30}, Point3d{16, 32, 64})
	data, err := json.Marshal(info)
	c.Assert(err, IsNil)
	str := string(data)
	c.Assert(strings.Contains(str, `"@type":"neuroglancer_multiscale_volume"`), Equals, true)
	c.Assert(strings.Contains(str, `"type":"segmentation"`), Equals, true)
	c.Assert(strings.Contains(str, `"data_type":"uint16"`), Equals, true)
	c.Assert(strings.Contains(str, `"key":"5_4_40"`), Equals, true)
	c.Assert(strings.Contains(str, `"size":[30,20,10]`), Equals, true)
	c.Assert(strings.Contains(str, `"voxel_offset":[3,2,1]`), Equals, true)
	c.Assert(strings.Contains(str, `"chunk_sizes":[[64,32,16]]`), Equals, true)
	c.Assert(strings.Contains(str, `"resolution":[5,4,40]`), Equals, true)

	var decoded VolumeInfo
	c.Assert(json.Unmarshal(data, &decoded), IsNil)
	c.Assert(decoded, DeepEquals, *info)

	err = json.Unmarshal([]byte(`{"@type":"neuroglancer_legacy_mesh","scales":[]}`), &decoded)
	c.Assert(err, NotNil)
	err = json.Unmarshal([]byte(`{"type":"image","data_type":"uint8","num_channels":1,
		"scales":[{"key":"a","size":[1,1,1],"resolution":[1,1,1],"voxel_offset":[0,0,0],"chunk_sizes":[]}]}`), &decoded)
	c.Assert(err, NotNil)
}
