package downres

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// Tasks are encoded as a msgpack map:
//   {"path": str, "src": int, "dst": int, "min": [z,y,x], "max": [z,y,x]}

// MarshalMsg implements msgp.Marshaler
func (t Task) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, t.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "path")
	o = msgp.AppendString(o, t.Path)
	o = msgp.AppendString(o, "src")
	o = msgp.AppendInt(o, t.SourceLevel)
	o = msgp.AppendString(o, "dst")
	o = msgp.AppendInt(o, t.TargetLevel)
	o = msgp.AppendString(o, "min")
	o = appendPoint(o, t.ChunkBbox.Min)
	o = msgp.AppendString(o, "max")
	o = appendPoint(o, t.ChunkBbox.Max)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (t *Task) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	*t = Task{}
	for ; sz > 0; sz-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch string(field) {
		case "path":
			t.Path, bts, err = msgp.ReadStringBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "Path")
			}
		case "src":
			t.SourceLevel, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "SourceLevel")
			}
		case "dst":
			t.TargetLevel, bts, err = msgp.ReadIntBytes(bts)
			if err != nil {
				err = msgp.WrapError(err, "TargetLevel")
			}
		case "min":
			t.ChunkBbox.Min, bts, err = readPoint(bts)
			if err != nil {
				err = msgp.WrapError(err, "Min")
			}
		case "max":
			t.ChunkBbox.Max, bts, err = readPoint(bts)
			if err != nil {
				err = msgp.WrapError(err, "Max")
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return
		}
	}
	t.ChunkBbox.Level = t.TargetLevel
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the
// serialized message.
func (t Task) Msgsize() int {
	return msgp.MapHeaderSize +
		5*(msgp.StringPrefixSize+4) +
		msgp.StringPrefixSize + len(t.Path) +
		2*msgp.IntSize +
		2*(msgp.ArrayHeaderSize+3*msgp.Int32Size)
}

func appendPoint(b []byte, p mipvol.Point3d) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	for _, v := range p {
		b = msgp.AppendInt32(b, v)
	}
	return b
}

func readPoint(bts []byte) (p mipvol.Point3d, o []byte, err error) {
	var sz uint32
	sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if sz != 3 {
		err = msgp.ArrayError{Wanted: 3, Got: sz}
		return
	}
	for i := range p {
		p[i], bts, err = msgp.ReadInt32Bytes(bts)
		if err != nil {
			return
		}
	}
	o = bts
	return
}
