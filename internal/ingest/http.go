package ingest

import (
	"io"
	"net/http"

	"accounthealth/internal/domain"
)

// SnapshotSink receives decoded snapshots from ingest interfaces.
// Params: decoded snapshot payload.
// Returns: processing error.
type SnapshotSink interface {
	Push(snapshot domain.Snapshot) error
}

type batchSnapshotSink interface {
	PushBatch(snapshots []domain.Snapshot) error
}

// HTTPHandler decodes JSON snapshots and forwards them to sink.
// Params: sink receives validated snapshots, max body limits payload size.
// Returns: HTTP handler for snapshot ingest endpoint.
type HTTPHandler struct {
	sink        SnapshotSink
	maxBodySize int64
}

// NewHTTPHandler creates snapshot ingest HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink SnapshotSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one incoming snapshot request, single object or batch array.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/push result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	snapshots, err := decodeSnapshotPayloadInto(body, scratch)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := pushSnapshots(h.sink, snapshots); err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
