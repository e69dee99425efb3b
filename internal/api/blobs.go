package api

import (
	"net/http"
	"strings"
)

// handleBlobGet serves attachment bytes stored by the blob store. Content
// type is sniffed from the data.
func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, 404, "blob serving is disabled")
		return
	}
	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, 400, "bad path")
		return
	}
	data, err := s.blobs.Get(r.Context(), path)
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(200)
	w.Write(data)
}
