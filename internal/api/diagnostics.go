package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
)

const (
	defaultFrameLimit = 100
	maxFrameLimit     = 1000
)

// handleListFrames returns the frames the driver could not attribute,
// most recently seen first. Query parameter limit caps the result.
func (s *Server) handleListFrames(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		writeUnavailable(w, "frame recording is disabled")
		return
	}

	limit := defaultFrameLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxFrameLimit)
	}

	frames, err := s.frames.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing unhandled frames", "error", err)
		writeInternalError(w, "failed to list frames")
		return
	}
	if frames == nil {
		frames = []dobiss.UnhandledFrame{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"frames": frames,
		"count":  len(frames),
	})
}
