package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/folio/internal/events"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// GET /api/events/ws?user_id=1&types=SNAPSHOTS_UPDATED,TRANSACTION_ADDED
//
// Streams the user's bus events as JSON messages. A client that falls behind
// loses events rather than blocking the bus.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter must be a positive integer")
		return
	}
	allowed := parseTypes(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// Reads are not expected; CloseRead handles control frames and cancels ctx
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())

	ch := make(chan events.Event, wsBuffer)
	unsubscribe := s.container.EventBus.SubscribeAll(func(event events.Event) {
		if allowed != nil && !allowed[event.Type] {
			return
		}
		if !visibleTo(event, userID) {
			return
		}
		select {
		case ch <- event:
		default:
			s.log.Warn().Str("event_type", string(event.Type)).Msg("WebSocket client too slow, dropping event")
		}
	})
	defer unsubscribe()

	s.log.Debug().Str("remote", r.RemoteAddr).Int64("user_id", userID).Msg("WebSocket client connected")

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := writeEvent(ctx, conn, event); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

// visibleTo reports whether a user's stream carries the event. Market data is
// shared; user events go to their owner only; anything else stays server-side.
func visibleTo(event events.Event, userID int64) bool {
	switch data := event.Data.(type) {
	case *events.TransactionChangedData:
		return data.UserID == userID
	case *events.SnapshotsUpdatedData:
		return data.UserID == userID
	case *events.PricesIngestedData, *events.DividendsIngestedData:
		return true
	default:
		return false
	}
}

func parseTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[events.EventType(t)] = true
		}
	}
	return allowed
}
