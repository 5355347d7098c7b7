package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/roadscan/internal/artifact"
	"github.com/ayusman/roadscan/internal/server/api"
)

// StreamHandler serves the annotated preview as MJPEG.
type StreamHandler struct {
	preview  *artifact.Preview
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler polling preview for new frames.
func NewStreamHandler(preview *artifact.Preview) *StreamHandler {
	return &StreamHandler{preview: preview, interval: 66 * time.Millisecond}
}

// ServeHTTP streams each new preview frame until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpeg, seq := h.preview.Latest()
		if seq == last || len(jpeg) == 0 {
			continue
		}
		last = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
