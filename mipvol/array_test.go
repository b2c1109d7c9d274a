package mipvol

import (
	"errors"

	. "github.com/janelia-flyem/go/gocheck"
)

func (s *MipSuite) TestDataType(c *C) {
	for _, name := range []string{"uint8", "int8", "uint16", "int16", "uint32", "int32", "uint64", "int64", "float32", "float64"} {
		t, err := ParseDataType(name)
		c.Assert(err, IsNil)
		c.Assert(t.String(), Equals, name)
		c.Assert(t.Valid(), Equals, true)
	}
	_, err := ParseDataType("complex64")
	c.Assert(err, NotNil)
	c.Assert(T_int16.Bytes(), Equals, 2)
	c.Assert(T_float64.IsFloat(), Equals, true)

	buf := make([]byte, 8)
	T_uint8.PutFloat(buf, 0, 300)
	c.Assert(T_uint8.Float(buf, 0), Equals, 255.0)
	T_uint8.PutFloat(buf, 0, -3)
	c.Assert(T_uint8.Float(buf, 0), Equals, 0.0)
	T_uint8.PutFloat(buf, 0, 2.5)
	c.Assert(T_uint8.Float(buf, 0), Equals, 3.0)
	T_int16.PutFloat(buf, 0, -1234)
	c.Assert(T_int16.Float(buf, 0), Equals, -1234.0)
	T_float32.PutFloat(buf, 0, 0.25)
	c.Assert(T_float32.Float(buf, 0), Equals, 0.25)
	T_uint64.PutUint64(buf, 0, 1<<60+7)
	c.Assert(T_uint64.Uint64(buf, 0), Equals, uint64(1<<60+7))
}

func (s *MipSuite) TestArrayAccess(c *C) {
	a := NewArray(T_uint16, 2, Point3d{2, 3, 4})
	c.Assert(a.Shape, Equals, [4]int{2, 2, 3, 4})
	c.Assert(len(a.Data), Equals, 2*2*3*4*2)
	c.Assert(a.NumVoxels(), Equals, 24)
	c.Assert(a.Extent(), Equals, Point3d{2, 3, 4})
	c.Assert(a.Offset(1, 0, 0, 0), Equals, 48)
	c.Assert(a.Offset(0, 1, 2, 3), Equals, 46)

	a.Set(1, 1, 2, 3, 500)
	c.Assert(a.At(1, 1, 2, 3), Equals, 500.0)
	c.Assert(a.At(0, 1, 2, 3), Equals, 0.0)

	a.Fill(7)
	for i := 0; i < len(a.Data); i += 2 {
		c.Assert(T_uint16.Float(a.Data, i), Equals, 7.0)
	}
	a.Fill(0)
	for _, b := range a.Data {
		c.Assert(b, Equals, byte(0))
	}

	_, err := NewArrayFromBytes(T_uint16, 1, Point3d{2, 2, 2}, make([]byte, 15))
	c.Assert(errors.Is(err, ErrShapeMismatch), Equals, true)
	b, err := NewArrayFromBytes(T_uint16, 1, Point3d{2, 2, 2}, make([]byte, 16))
	c.Assert(err, IsNil)
	c.Assert(b.Equal(NewArray(T_uint16, 1, Point3d{2, 2, 2})), Equals, true)
	c.Assert(b.Equal(NewArray(T_uint8, 2, Point3d{2, 2, 2})), Equals, false)
}

func (s *MipSuite) TestAsType(c *C) {
	a := NewArray(T_float32, 1, Point3d{1, 1, 3})
	a.Set(0, 0, 0, 0, -2.4)
	a.Set(0, 0, 0, 1, 127.5)
	a.Set(0, 0, 0, 2, 1000)
	b := a.AsType(T_uint8)
	c.Assert(b.DataType, Equals, T_uint8)
	c.Assert(b.Shape, Equals, a.Shape)
	c.Assert(b.Data, DeepEquals, []byte{0, 128, 255})

	same := a.AsType(T_float32)
	c.Assert(same.Equal(a), Equals, true)
	same.Data[0] = 1
	c.Assert(same.Equal(a), Equals, false)
}

func (s *MipSuite) TestCopyBox(c *C) {
	src := NewArray(T_uint8, 1, Point3d{4, 4, 4})
	for i := range src.Data {
		src.Data[i] = byte(i)
	}
	srcOrigin := Point3d{10, 10, 10}
	dst := NewArray(T_uint8, 1, Point3d{2, 2, 2})
	dstOrigin := Point3d{11, 11, 11}
	region := Bbox{Min: Point3d{11, 11, 11}, Max: Point3d{13, 13, 13}}
	c.Assert(CopyBox(dst, dstOrigin, src, srcOrigin, region), IsNil)
	c.Assert(dst.At(0, 0, 0, 0), Equals, 21.0)
	c.Assert(dst.At(0, 0, 0, 1), Equals, 22.0)
	c.Assert(dst.At(0, 1, 1, 1), Equals, 42.0)

	outside := Bbox{Min: Point3d{9, 11, 11}, Max: Point3d{12, 12, 12}}
	err := CopyBox(dst, dstOrigin, src, srcOrigin, outside)
	c.Assert(errors.Is(err, ErrShapeMismatch), Equals, true)

	wrongType := NewArray(T_uint16, 1, Point3d{2, 2, 2})
	err = CopyBox(wrongType, dstOrigin, src, srcOrigin, region)
	c.Assert(errors.Is(err, ErrShapeMismatch), Equals, true)

	c.Assert(CopyBox(dst, dstOrigin, src, srcOrigin, Bbox{}), IsNil)
}

func (s *MipSuite) TestCutoutShape(c *C) {
	arr := NewArray(T_uint8, 1, Point3d{3, 4, 5})
	cut := &Cutout{Array: arr, Bbox: NewBbox(Point3d{}, Point3d{3, 4, 5}, 2), Level: 2}
	c.Assert(cut.Shape(), DeepEquals, []int{1, 3, 4, 5})
	cut.Squeezed = true
	c.Assert(cut.Shape(), DeepEquals, []int{3, 4, 5})
}
