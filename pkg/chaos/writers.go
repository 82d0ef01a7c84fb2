package chaos

import (
	"bytes"
	"net/http"
	"strconv"
)

// BufferedWriter captures a handler's response so the pipeline can
// classify, truncate and throttle it before anything reaches the client.
type BufferedWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

// NewBufferedWriter creates an empty BufferedWriter.
func NewBufferedWriter() *BufferedWriter {
	return &BufferedWriter{header: make(http.Header), status: http.StatusOK}
}

// Header returns the header map
func (bw *BufferedWriter) Header() http.Header {
	return bw.header
}

// WriteHeader records the status code. Only the first call counts.
func (bw *BufferedWriter) WriteHeader(statusCode int) {
	if bw.wroteHeader {
		return
	}
	bw.status = statusCode
	bw.wroteHeader = true
}

// Write appends to the buffered body.
func (bw *BufferedWriter) Write(p []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(p)
}

// Status returns the recorded status code.
func (bw *BufferedWriter) Status() int {
	return bw.status
}

// Len returns the buffered body size.
func (bw *BufferedWriter) Len() int {
	return bw.body.Len()
}

// Bytes returns the buffered body.
func (bw *BufferedWriter) Bytes() []byte {
	return bw.body.Bytes()
}

// CopyTo copies the captured response to w. When truncate is set only the
// first half of the body is sent and Content-Length matches that half.
func (bw *BufferedWriter) CopyTo(w http.ResponseWriter, truncate bool) error {
	body := bw.body.Bytes()
	if truncate {
		body = TruncateMidpoint(body)
	}

	dst := w.Header()
	for k, v := range bw.header {
		dst[k] = v
	}
	if truncate || dst.Get("Content-Length") != "" {
		dst.Set("Content-Length", strconv.Itoa(len(body)))
	}

	w.WriteHeader(bw.status)
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// TruncateMidpoint returns the first half of b, cut at its midpoint byte.
func TruncateMidpoint(b []byte) []byte {
	return b[:len(b)/2]
}
