package cogserver

import (
	"strconv"
	"strings"
)

// httpRange is a single range of a "bytes" Range header. last is -1 for an
// open ended range. first is -1 for the suffix form, where suffix is the
// number of trailing bytes requested.
type httpRange struct {
	first, last int64
	suffix      int64
}

// parseRange parses a Range header. ok is false for anything but a single
// well formed bytes range, in which case the header must be ignored.
func parseRange(header string) (r httpRange, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return r, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return r, false
	}
	if first == "" {
		n, ok := parseOffset(last)
		if !ok {
			return r, false
		}
		return httpRange{first: -1, last: -1, suffix: n}, true
	}
	r.first, ok = parseOffset(first)
	if !ok {
		return r, false
	}
	if last == "" {
		r.last = -1
		return r, true
	}
	r.last, ok = parseOffset(last)
	if !ok || r.last < r.first {
		return r, false
	}
	return r, true
}

func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// resolve clamps r to a file of the given size. ok is false when r is not
// satisfiable.
func (r httpRange) resolve(size int64) (ByteRange, bool) {
	if r.first < 0 {
		if r.suffix == 0 {
			return ByteRange{}, false
		}
		return ByteRange{Start: max(0, size-r.suffix), End: size}, true
	}
	if r.first >= size {
		return ByteRange{}, false
	}
	end := size
	if r.last >= 0 && r.last < size-1 {
		end = r.last + 1
	}
	return ByteRange{Start: r.first, End: end}, true
}
