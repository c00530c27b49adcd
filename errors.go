package cogserver

import "errors"

var (
	// ErrInvalidMetadata is returned when a raster cannot be described by a
	// single tiled TIFF directory (empty dimensions, bad tile size, unknown
	// sample type).
	ErrInvalidMetadata = errors.New("invalid raster metadata")
	// ErrSourceUnavailable wraps failures of a RasterSource to deliver pixels.
	ErrSourceUnavailable = errors.New("raster source unavailable")
	// ErrUnsupportedFormat is returned by sources that cannot represent a raster
	// (compressed or planar input, unhandled sample type...).
	ErrUnsupportedFormat = errors.New("unsupported raster format")
	// ErrOutOfBounds is returned for offsets or ranges past the end of the
	// virtual file.
	ErrOutOfBounds = errors.New("offset out of bounds")
	// ErrInvalidRange is returned for empty or negative byte ranges.
	ErrInvalidRange = errors.New("invalid byte range")
	// ErrPayloadLength is returned when an encoder produces a payload whose
	// length differs from the one it announced at planning time.
	ErrPayloadLength = errors.New("tile payload length mismatch")
)

// ErrInvalidOption is returned by Open when a configuration option cannot be
// applied.
type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}
