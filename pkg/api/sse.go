package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/events"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// heartbeatInterval is how long a stream may sit idle before a comment
// frame is sent to keep intermediaries from closing it.
const heartbeatInterval = 30 * time.Second

// handleEvents serves the live event stream. Reconnecting clients send
// Last-Event-ID and get missed events replayed from storage before going
// live; when the replay window cannot cover the gap a _gap frame tells the
// client how much history it lost.
func (s *Server) handleEvents(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}
	ws := l.Workspace()

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "streaming unsupported"})
		return
	}

	ch, unsubscribe := l.Broker().Subscribe()
	defer unsubscribe()

	if lastID, ok := lastEventID(c); ok {
		s.replay(c, w, ws.ID, lastID, ws.Config.Agent.SSEReplayLimit)
	}
	flusher.Flush()

	heartbeat := time.NewTimer(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case evt, open := <-ch:
			if !open {
				return
			}
			if !writeFrame(w, livePayload(evt)) {
				return
			}
			flusher.Flush()
			resetTimer(heartbeat, heartbeatInterval)

		case <-heartbeat.C:
			if _, err := io.WriteString(w, events.Heartbeat); err != nil {
				return
			}
			flusher.Flush()
			heartbeat.Reset(heartbeatInterval)
		}
	}
}

// replay streams missed events from storage in chronological order. Each
// replayed frame gets a fresh frame id; clients identify replays by the
// _replay marker, not the id.
func (s *Server) replay(c *gin.Context, w io.Writer, workspaceID string, lastID int64, limit int) {
	rows, err := s.store.RecentEvents(c.Request.Context(), workspaceID, lastID, limit)
	if err != nil {
		slog.Warn("SSE replay query failed", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	// Rows arrive newest first; the oldest replayed row bounds the gap.
	oldest := rows[len(rows)-1].ID
	if len(rows) >= limit {
		writeFrame(w, events.GapPayload(len(rows), lastID, lastID+1, oldest))
	}

	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		var data map[string]any
		if row.DataJSON != "" {
			if err := json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
				slog.Warn("Skipping replay row with bad data", "id", row.ID, "error", err)
				continue
			}
		}
		if !writeFrame(w, map[string]any{
			"type":         row.EventType,
			"timestamp":    row.Timestamp,
			"source":       row.Source,
			"workspace_id": row.WorkspaceID,
			"data":         data,
			"_replay":      true,
		}) {
			return
		}
	}
}

func livePayload(evt models.Event) map[string]any {
	return map[string]any{
		"type":         string(evt.Type),
		"timestamp":    evt.Timestamp.UTC().Format(time.RFC3339),
		"source":       evt.Source,
		"workspace_id": evt.WorkspaceID,
		"data":         evt.Data,
	}
}

func writeFrame(w io.Writer, payload any) bool {
	frame, err := events.Frame(events.NextFrameID(), payload)
	if err != nil {
		slog.Warn("Failed to encode SSE frame", "error", err)
		return true
	}
	_, err = io.WriteString(w, frame)
	return err == nil
}

// lastEventID reads the reconnect cursor from the standard header, falling
// back to a query parameter for clients that cannot set headers. The second
// return reports whether a usable cursor was sent at all; a cursor of 0 is
// valid and means "replay from the beginning of the window".
func lastEventID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("last_event_id")
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
