package httputil

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// WrappedResponseWriter records the status and size of a response for request logging.
type WrappedResponseWriter struct {
	StatusCode  int
	ResponseLen int

	// Upgraded is set once the connection has been hijacked, e.g. for a websocket.
	Upgraded bool

	w           http.ResponseWriter
	wroteHeader bool
}

var (
	_ http.Hijacker = (*WrappedResponseWriter)(nil)
	_ http.Flusher  = (*WrappedResponseWriter)(nil)
)

var errNotHijacker = errors.New("response writer does not support connection hijacking")

func NewWrappedResponseWriter(w http.ResponseWriter) *WrappedResponseWriter {
	return &WrappedResponseWriter{
		StatusCode: http.StatusOK,
		w:          w,
	}
}

func (w *WrappedResponseWriter) Header() http.Header {
	return w.w.Header()
}

func (w *WrappedResponseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.w.Write(b)
	w.ResponseLen += n
	return n, err
}

func (w *WrappedResponseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.StatusCode = statusCode
	w.w.WriteHeader(statusCode)
}

// Flush forwards to the underlying writer when it supports streaming.
func (w *WrappedResponseWriter) Flush() {
	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the raw connection to websocket upgraders.
func (w *WrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.w.(http.Hijacker)
	if !ok {
		return nil, nil, errNotHijacker
	}
	w.Upgraded = true
	return h.Hijack()
}
