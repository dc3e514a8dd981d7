package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/core/events"
)

const wsWriteTimeout = 10 * time.Second

var errSubscriberLagging = errors.New("event subscriber fell behind")

// handleEventStream upgrades to a websocket and sends every outbox record with
// a sequence above cursor, first from the outbox and then live from the hub.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.outbox == nil || s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "STREAM_UNAVAILABLE", Error: "event stream not configured"})
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, errInvalidRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("event stream upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, cursor)
	switch {
	case errors.Is(err, errSubscriberLagging):
		_ = conn.Close(websocket.StatusTryAgainLater, "resume from last sequence")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		s.logger.Warn("event stream failed", slog.Uint64("cursor", cursor), slog.Any("error", err))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	// Subscribe before replaying so nothing committed during the replay is
	// missed; duplicates are filtered by sequence.
	sub := s.hub.Subscribe()
	defer sub.Close()

	last := cursor
	if err := s.replay(ctx, conn, &last); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-sub.C:
			if !ok {
				return errSubscriberLagging
			}
			switch {
			case record.Sequence <= last:
				continue
			case record.Sequence > last+1:
				if err := s.replay(ctx, conn, &last); err != nil {
					return err
				}
			default:
				if err := writeRecord(ctx, conn, record); err != nil {
					return err
				}
				last = record.Sequence
			}
		}
	}
}

func (s *Server) replay(ctx context.Context, conn *websocket.Conn, last *uint64) error {
	for {
		batch, err := s.outbox.OutboxSince(*last, s.pageSize)
		if err != nil {
			return err
		}
		for _, record := range batch {
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			*last = record.Sequence
		}
		if len(batch) < s.pageSize {
			return nil
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record events.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
