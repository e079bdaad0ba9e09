package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"solbox/storage/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	backlogPage    = 200
)

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil || s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	var cursor int64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "cursor must be a non-negative integer")
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents subscribes before reading the backlog so no entry committed in
// between is lost; live entries at or below the last sent sequence are
// skipped.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()

	last := cursor
	for {
		page, err := s.journal.List(ctx, last, backlogPage)
		if err != nil {
			return err
		}
		for _, entry := range page {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
		if len(page) < backlogPage {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			if entry.Seq <= last {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
