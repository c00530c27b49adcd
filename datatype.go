package cogserver

import "fmt"

// DataType is the type of a single raster sample.
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
	CInt16
	CInt32
	CFloat32
	CFloat64
)

var dataTypeNames = map[DataType]string{
	Byte:     "Byte",
	UInt16:   "UInt16",
	Int16:    "Int16",
	UInt32:   "UInt32",
	Int32:    "Int32",
	Float32:  "Float32",
	Float64:  "Float64",
	CInt16:   "CInt16",
	CInt32:   "CInt32",
	CFloat32: "CFloat32",
	CFloat64: "CFloat64",
}

func (dt DataType) String() string {
	if n, ok := dataTypeNames[dt]; ok {
		return n
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// ParseDataType returns the DataType named s (case sensitive, GDAL naming).
func ParseDataType(s string) (DataType, error) {
	for dt, n := range dataTypeNames {
		if n == s {
			return dt, nil
		}
	}
	return Unknown, fmt.Errorf("%w: unknown data type %q", ErrInvalidMetadata, s)
}

// Size returns the number of bytes taken by one sample, 0 for Unknown.
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32, CInt16:
		return 4
	case Float64, CInt32, CFloat32:
		return 8
	case CFloat64:
		return 16
	default:
		return 0
	}
}

// BitsPerSample is the value of the BitsPerSample tag for each band.
func (dt DataType) BitsPerSample() uint16 {
	return uint16(dt.Size() * 8)
}

// SampleFormat is the value of the SampleFormat tag for each band.
func (dt DataType) SampleFormat() SampleFormat {
	switch dt {
	case Int16, Int32:
		return SampleFormatInt
	case Float32, Float64:
		return SampleFormatIEEEFP
	case CInt16, CInt32:
		return SampleFormatComplexInt
	case CFloat32, CFloat64:
		return SampleFormatComplexIEEEFP
	default:
		return SampleFormatUInt
	}
}

// Complex reports whether samples hold a real and an imaginary part.
func (dt DataType) Complex() bool {
	switch dt {
	case CInt16, CInt32, CFloat32, CFloat64:
		return true
	}
	return false
}

// DataTypeFromTIFF maps a BitsPerSample/SampleFormat pair back to a DataType.
func DataTypeFromTIFF(bits uint16, format SampleFormat) (DataType, error) {
	for dt := Byte; dt <= CFloat64; dt++ {
		if dt.BitsPerSample() == bits && dt.SampleFormat() == format {
			return dt, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %d bits with sample format %d", ErrUnsupportedFormat, bits, format)
}
