package mipvol

import (
	. "github.com/janelia-flyem/go/gocheck"
)

func (s *MipSuite) TestBboxBasics(c *C) {
	b := NewBbox(Point3d{0, 10, 20}, Point3d{5, 6, 7}, 1)
	c.Assert(b.Max, Equals, Point3d{5, 16, 27})
	c.Assert(b.Size(), Equals, Point3d{5, 6, 7})
	c.Assert(b.NumVoxels(), Equals, int64(210))
	c.Assert(b.String(), Equals, "[(0,10,20),(5,16,27))@1")

	grown := b.Grow(Point3d{1, 2, 3})
	c.Assert(grown, Equals, Bbox{Point3d{-1, 8, 17}, Point3d{6, 18, 30}, 1})
	c.Assert(grown.Contains(b), Equals, true)
	c.Assert(b.Contains(grown), Equals, false)

	moved := b.Translate(Point3d{1, 1, 1})
	c.Assert(moved.Size(), Equals, b.Size())
	c.Assert(moved.Min, Equals, Point3d{1, 11, 21})

	// Original value is untouched by operations.
	c.Assert(b.Min, Equals, Point3d{0, 10, 20})

	empty := Bbox{Min: Point3d{3, 3, 3}, Max: Point3d{3, 5, 5}}
	c.Assert(empty.Empty(), Equals, true)
	c.Assert(empty.Valid(), Equals, true)
	c.Assert(Bbox{Min: Point3d{3, 3, 3}, Max: Point3d{2, 5, 5}}.Valid(), Equals, false)
}

func (s *MipSuite) TestBboxIntersect(c *C) {
	a := Bbox{Min: Point3d{0, 0, 0}, Max: Point3d{10, 10, 10}}
	b := Bbox{Min: Point3d{5, -5, 8}, Max: Point3d{20, 3, 30}}
	c.Assert(a.Intersect(b), Equals, Bbox{Min: Point3d{5, 0, 8}, Max: Point3d{10, 3, 10}})
	c.Assert(a.Union(b), Equals, Bbox{Min: Point3d{0, -5, 0}, Max: Point3d{20, 10, 30}})

	far := Bbox{Min: Point3d{50, 50, 50}, Max: Point3d{60, 60, 60}}
	none := a.Intersect(far)
	c.Assert(none.Empty(), Equals, true)
	c.Assert(none.Valid(), Equals, true)
	c.Assert(none.Min, Equals, Point3d{50, 50, 50})
	c.Assert(none.NumVoxels(), Equals, int64(0))
}

func (s *MipSuite) TestBboxChunks(c *C) {
	b := Bbox{Min: Point3d{0, 0, 0}, Max: Point3d{100, 100, 100}}
	chunkSize := Point3d{64, 64, 64}
	minChunk, maxChunk, ok := b.ChunkRange(Point3d{}, chunkSize)
	c.Assert(ok, Equals, true)
	c.Assert(minChunk, Equals, ChunkPoint3d{0, 0, 0})
	c.Assert(maxChunk, Equals, ChunkPoint3d{1, 1, 1})

	var chunks []ChunkPoint3d
	err := b.ForEachChunk(Point3d{}, chunkSize, func(cp ChunkPoint3d) error {
		chunks = append(chunks, cp)
		return nil
	})
	c.Assert(err, IsNil)
	c.Assert(chunks, DeepEquals, []ChunkPoint3d{
		{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 1},
		{1, 0, 0}, {1, 0, 1}, {1, 1, 0}, {1, 1, 1},
	})

	aligned := Bbox{Min: Point3d{5, 70, 130}, Max: Point3d{6, 71, 131}}.ChunkAligned(Point3d{}, chunkSize)
	c.Assert(aligned, Equals, Bbox{Min: Point3d{0, 64, 128}, Max: Point3d{64, 128, 192}})

	// Grid anchored at an offset.
	offsetBox := Bbox{Min: Point3d{10, 10, 10}, Max: Point3d{74, 74, 75}}
	minChunk, maxChunk, ok = offsetBox.ChunkRange(Point3d{10, 10, 10}, chunkSize)
	c.Assert(ok, Equals, true)
	c.Assert(minChunk, Equals, ChunkPoint3d{0, 0, 0})
	c.Assert(maxChunk, Equals, ChunkPoint3d{0, 0, 1})

	_, _, ok = Bbox{}.ChunkRange(Point3d{}, chunkSize)
	c.Assert(ok, Equals, false)
}
