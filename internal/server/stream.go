package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleAPIProgressStream sends a progress event now and after every
// tracker update until the client goes away.
func (s *Server) handleAPIProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	// the server-wide write timeout would end the stream
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("cannot clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendEvent := func(event string, data interface{}) error {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		// take the channel before the snapshot so no update is missed
		updated := s.tracker.Wait()
		if err := sendEvent("progress", s.tracker.Snapshot()); err != nil {
			s.logger.Debug("progress stream closed", "error", err)
			return
		}
		if !s.waitForUpdate(w, flusher, ctx.Done(), updated, ticker.C) {
			return
		}
	}
}

// waitForUpdate blocks until updated fires, sending keep-alive comments
// on every tick. It returns false when the client is gone.
func (s *Server) waitForUpdate(w http.ResponseWriter, flusher http.Flusher, done, updated <-chan struct{}, tick <-chan time.Time) bool {
	for {
		select {
		case <-done:
			return false
		case <-updated:
			return true
		case <-tick:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return false
			}
			flusher.Flush()
		}
	}
}
