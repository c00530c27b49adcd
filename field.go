package cogserver

import (
	"fmt"
	"io"
)

func (c *cog) tagSize() uint64 {
	if c.bigtiff {
		return 20
	}
	return 12
}

// inlineSize is the number of value bytes an entry can hold without pointing
// to the overflow area.
func (c *cog) inlineSize() uint64 {
	if c.bigtiff {
		return 8
	}
	return 4
}

// strileWidth is the size of one TileOffsets/TileByteCounts element.
func (c *cog) strileWidth() uint64 {
	if c.bigtiff {
		return 8
	}
	return 4
}

func (c *cog) strileType() uint16 {
	if c.bigtiff {
		return TLong8
	}
	return TLong
}

func (c *cog) putStrile(buf []byte, v uint64) {
	if c.bigtiff {
		c.enc.PutUint64(buf, v)
	} else {
		c.enc.PutUint32(buf, uint32(v))
	}
}

func (c *cog) strileBytes(v uint64) []byte {
	buf := make([]byte, c.strileWidth())
	c.putStrile(buf, v)
	return buf
}

// fieldValue returns the TIFF type, the value count and the encoded values of
// data.
func (c *cog) fieldValue(data interface{}) (typ uint16, count uint64, raw []byte) {
	switch d := data.(type) {
	case uint16:
		raw = make([]byte, 2)
		c.enc.PutUint16(raw, d)
		return TShort, 1, raw
	case uint32:
		raw = make([]byte, 4)
		c.enc.PutUint32(raw, d)
		return TLong, 1, raw
	case uint64:
		raw = make([]byte, 8)
		c.enc.PutUint64(raw, d)
		return TLong8, 1, raw
	case []uint16:
		raw = make([]byte, 2*len(d))
		for i, v := range d {
			c.enc.PutUint16(raw[2*i:], v)
		}
		return TShort, uint64(len(d)), raw
	case []uint32:
		raw = make([]byte, 4*len(d))
		for i, v := range d {
			c.enc.PutUint32(raw[4*i:], v)
		}
		return TLong, uint64(len(d)), raw
	case []uint64:
		raw = make([]byte, 8*len(d))
		for i, v := range d {
			c.enc.PutUint64(raw[8*i:], v)
		}
		return TLong8, uint64(len(d)), raw
	default:
		panic(fmt.Sprintf("unsupported field type %T", data))
	}
}

// arrayFieldSize is the size of the entry for data plus the bytes it takes in
// the overflow area.
func (c *cog) arrayFieldSize(data interface{}) uint64 {
	_, _, raw := c.fieldValue(data)
	if uint64(len(raw)) <= c.inlineSize() {
		return c.tagSize()
	}
	return c.tagSize() + uint64(len(raw))
}

func (c *cog) writeField(w io.Writer, tag uint16, data interface{}, overflow *tagData) error {
	typ, count, raw := c.fieldValue(data)
	if uint64(len(raw)) <= c.inlineSize() {
		return c.writeEntry(w, tag, typ, count, raw)
	}
	off := overflow.NextOffset()
	if _, err := overflow.Write(raw); err != nil {
		return err
	}
	return c.writeOffsetField(w, tag, typ, count, off)
}

func (c *cog) writeOffsetField(w io.Writer, tag, typ uint16, count, offset uint64) error {
	return c.writeEntry(w, tag, typ, count, c.strileBytes(offset))
}

// writeEntry writes a directory entry whose value (or value offset) is
// already encoded in value, left justified in the value field.
func (c *cog) writeEntry(w io.Writer, tag, typ uint16, count uint64, value []byte) error {
	if uint64(len(value)) > c.inlineSize() {
		return fmt.Errorf("tag %d: %d bytes do not fit inline", tag, len(value))
	}
	buf := make([]byte, c.tagSize())
	c.enc.PutUint16(buf[0:], tag)
	c.enc.PutUint16(buf[2:], typ)
	if c.bigtiff {
		c.enc.PutUint64(buf[4:], count)
		copy(buf[12:], value)
	} else {
		c.enc.PutUint32(buf[4:], uint32(count))
		copy(buf[8:], value)
	}
	_, err := w.Write(buf)
	return err
}
