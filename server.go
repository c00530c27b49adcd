package cogserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const contentType = "image/geo+tiff"

// Server serves registered datasets as virtual COGs at /<name>, honoring
// single byte range requests.
type Server struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
	logger   *zap.Logger
	metrics  *Metrics
}

// NewServer creates an empty server. logger and metrics may be nil.
func NewServer(logger *zap.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		datasets: make(map[string]*Dataset),
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle registers ds under name, replacing any previous dataset.
func (s *Server) Handle(name string, ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[strings.TrimPrefix(name, "/")] = ds
}

// Names lists the registered dataset names.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.datasets))
	for n := range s.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Server) dataset(name string) (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[name]
	return ds, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := time.Now()
	reqID := uuid.New().String()
	w.Header().Set("X-Request-Id", reqID)
	rw := &responseWriter{ResponseWriter: w}
	logger := s.logger.With(
		zap.String("request_id", reqID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("range", r.Header.Get("Range")))
	defer func() {
		s.metrics.request(rw.status, rw.written)
		logger.Info("request",
			zap.Int("status", rw.status),
			zap.Int64("bytes", rw.written),
			zap.Duration("duration", time.Since(st)))
	}()
	s.serve(rw, r, logger)
}

func (s *Server) serve(w *responseWriter, r *http.Request, logger *zap.Logger) {
	ds, ok := s.dataset(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	size := ds.Size()
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	br := ByteRange{Start: 0, End: size}
	status := http.StatusOK
	if hr, ok := parseRange(r.Header.Get("Range")); ok {
		if br, ok = hr.resolve(size); !ok {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End-1, size))
	}
	h.Set("Content-Length", strconv.FormatInt(br.Len(), 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	// headers are only sent with the first body byte so that a failure
	// producing it can still be reported with a 500
	w.pending = status
	_, err := ds.WriteRange(r.Context(), w, br)
	if err == nil {
		return
	}
	if errors.Is(err, r.Context().Err()) {
		logger.Debug("client gone", zap.Error(err))
		if w.status == 0 {
			w.status = 499
		}
		return
	}
	logger.Error("serve range", zap.Error(err))
	if w.status == 0 {
		w.pending = 0
		h.Del("Content-Range")
		h.Del("Content-Length")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	// too late to change the status, make sure the client sees a truncated
	// response
	panic(http.ErrAbortHandler)
}

// responseWriter records the status and body length of a response. When
// pending is set, the header is written with that status on the first body
// write.
type responseWriter struct {
	http.ResponseWriter
	pending int
	status  int
	written int64
}

func (w *responseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		code := w.pending
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}
