package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"taskmaster/pkg/todo"
)

func (s *Server) handleTodoList(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, 400, "uid is required")
		return
	}
	todos, err := s.todos.Snapshot(r.Context(), uid)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, todos)
}

func (s *Server) handleTodoCreate(w http.ResponseWriter, r *http.Request) {
	var fields todo.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if fields.Title == "" {
		writeError(w, 400, "title is required")
		return
	}
	if fields.OwnerID == "" {
		writeError(w, 400, "uid is required")
		return
	}
	if fields.Status == "" {
		fields.Status = todo.StatusUndone
	}
	id, err := s.todos.Insert(r.Context(), fields)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, map[string]string{"id": id})
}

func (s *Server) handleTodoUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := s.todos.UpdateFields(r.Context(), id, fields); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{"id": id})
}

func (s *Server) handleTodoDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.todos.Delete(r.Context(), id); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	w.WriteHeader(204)
}

// handleTodoStream pushes owner-scoped snapshots as SSE events until the
// client disconnects. Each event is the complete current list.
func (s *Server) handleTodoStream(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, 400, "uid is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	snaps := make(chan []todo.Todo, 8)
	errs := make(chan error, 1)

	cancel, err := s.todos.Subscribe(ctx, uid,
		func(snap []todo.Todo) {
			select {
			case snaps <- snap:
			case <-ctx.Done():
			}
		},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	)
	if err != nil {
		// Headers are already out; report on the stream itself.
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		flusher.Flush()
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			flusher.Flush()
			return
		case snap := <-snaps:
			fmt.Fprintf(w, "data: ")
			if err := json.NewEncoder(w).Encode(snap); err != nil {
				return
			}
			fmt.Fprintf(w, "\n")
			flusher.Flush()
		}
	}
}
