package mipvol

import (
	. "github.com/janelia-flyem/go/gocheck"
)

func (s *MipSuite) TestPoint3d(c *C) {
	a := Point3d{10, 21, 837821}
	b := Point3d{78312, -200, 40123}
	c.Assert(a.Add(b), Equals, Point3d{78322, -179, 877944})
	c.Assert(a.Sub(b), Equals, Point3d{-78302, 221, 797698})
	c.Assert(a.Max(b), Equals, Point3d{78312, 21, 837821})
	c.Assert(a.Min(b), Equals, Point3d{10, -200, 40123})
	c.Assert(a.AddScalar(10), Equals, Point3d{20, 31, 837831})
	c.Assert(a.String(), Equals, "(10,21,837821)")
	c.Assert(a.XYZ(), Equals, [3]int32{837821, 21, 10})
	c.Assert(PointFromXYZ(a.XYZ()), Equals, a)
	c.Assert(Point3d{2, 3, 4}.Prod(), Equals, int64(24))
	c.Assert(a.LessEq(a), Equals, true)
	c.Assert(a.LessEq(b), Equals, false)
}

func (s *MipSuite) TestPointDivision(c *C) {
	size := Point3d{64, 64, 64}
	c.Assert(Point3d{0, 63, 64}.FloorDiv(size), Equals, Point3d{0, 0, 1})
	c.Assert(Point3d{-1, -64, -65}.FloorDiv(size), Equals, Point3d{-1, -1, -2})
	c.Assert(Point3d{0, 1, 65}.CeilDiv(size), Equals, Point3d{0, 1, 2})
	c.Assert(Point3d{-1, -64, -65}.CeilDiv(size), Equals, Point3d{0, -1, -1})
}

func (s *MipSuite) TestChunkPoint(c *C) {
	origin := Point3d{10, 0, -5}
	size := Point3d{64, 32, 16}
	p := Point3d{9, 31, 11}
	chunk := p.Chunk(origin, size)
	c.Assert(chunk, Equals, ChunkPoint3d{-1, 0, 1})
	c.Assert(chunk.MinPoint(origin, size), Equals, Point3d{-54, 0, 11})
	c.Assert(chunk.MaxPoint(origin, size), Equals, Point3d{10, 32, 27})
}

func (s *MipSuite) TestStringToPoint(c *C) {
	p, err := StringToPoint("1, 2,3", ",")
	c.Assert(err, IsNil)
	c.Assert(p, Equals, Point3d{1, 2, 3})

	_, err = StringToPoint("1,2", ",")
	c.Assert(err, NotNil)
	_, err = StringToPoint("1,b,3", ",")
	c.Assert(err, NotNil)

	v, err := StringToVector("40_4_4.5", "_")
	c.Assert(err, IsNil)
	c.Assert(v, Equals, Vector3d{40, 4, 4.5})
	c.Assert(VectorFromXYZ(v.XYZ()), Equals, v)
}
