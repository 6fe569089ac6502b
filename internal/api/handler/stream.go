package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	mw "github.com/codex-team/hawk.events/internal/api/middleware"
	"github.com/codex-team/hawk.events/internal/api/response"
	"github.com/codex-team/hawk.events/internal/stream"
)

// Stream serves GET /events/stream: new events across every project the
// user can see, delivered as server-sent events until the client
// disconnects.
type Stream struct {
	fanout *stream.Fanout
}

// NewStream creates the live-stream handler.
func NewStream(f *stream.Fanout) *Stream {
	return &Stream{fanout: f}
}

func (h *Stream) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
		return
	}

	sub := h.fanout.Subscribe(userID)
	defer sub.Close(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		notification, err := sub.Next(r.Context())
		if err != nil {
			// Disconnect and close are the normal exits.
			if errors.Is(err, stream.ErrClosed) || r.Context().Err() != nil {
				return
			}
			return
		}
		payload, err := json.Marshal(notification)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: event-inserted\ndata: %s\n\n", payload)
		flusher.Flush()
	}
}
