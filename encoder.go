package cogserver

// TileEncoder turns the raw pixel-interleaved bytes of a tile into the payload
// stored in the virtual file.
//
// PayloadLength is asked once per tile when the layout is planned and must
// not change afterwards: the bytes returned by Encode are checked against it.
type TileEncoder interface {
	// Compression is the value of the TIFF Compression tag.
	Compression() uint16
	PayloadLength(index int) int64
	Encode(index int, raw []byte) ([]byte, error)
}

// EncoderFactory builds the encoder of a dataset once its metadata is known.
type EncoderFactory func(meta RasterMetadata) TileEncoder

type identityEncoder struct {
	size int64
}

// IdentityEncoder stores tiles uncompressed: every payload is the full raw
// tile, edge tiles included.
func IdentityEncoder(meta RasterMetadata) TileEncoder {
	return identityEncoder{size: meta.TileBytes()}
}

func (identityEncoder) Compression() uint16 {
	return CompressionNone
}

func (e identityEncoder) PayloadLength(int) int64 {
	return e.size
}

func (identityEncoder) Encode(_ int, raw []byte) ([]byte, error) {
	return raw, nil
}
