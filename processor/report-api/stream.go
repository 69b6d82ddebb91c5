package reportapi

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/c360studio/reportgen/stream"
)

// streamWriter sends line-protocol frames and remembers whether the
// response has started.
type streamWriter struct {
	http.ResponseWriter

	mu      sync.Mutex
	wrote   bool
	errSeen bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	return &streamWriter{ResponseWriter: w}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	if !s.wrote {
		h := s.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		s.wrote = true
	}
	if bytes.HasPrefix(p, []byte(stream.FrameError+":")) {
		s.errSeen = true
	}
	s.mu.Unlock()
	return s.ResponseWriter.Write(p)
}

// Flush implements http.Flusher.
func (s *streamWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *streamWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

func (s *streamWriter) sawError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errSeen
}
