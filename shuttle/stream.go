package shuttle

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"shuttleci.dev/core/api"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events streams run status events over a websocket. Backfill from
// the start of the event log completes before live data begins, the
// cursor guarantees each event is sent exactly once per connection.
func (s *Shuttle) Events(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Events")
	l.Info("received new connection")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer conn.Close()
	l.Info("upgraded http to wss")

	sub := s.n.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				l.Error("failed to read", "err", err)
				cancel()
				return
			}
		}
	}()

	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor, err = strconv.ParseInt(c, 10, 64)
		if err != nil {
			l.Error("bad cursor", "cursor", c, "err", err)
			return
		}
	}

	// complete backfill first before going to live data
	l.Info("going through backfill", "cursor", cursor)
	if err := s.streamEvents(conn, &cursor); err != nil {
		l.Error("failed to backfill", "err", err)
		return
	}

	for {
		// wait for new data or timeout
		select {
		case <-ctx.Done():
			l.Info("stopping stream: client closed connection")
			return
		case <-sub.C:
			// we have been notified of new data
			l.Info("going through live data", "cursor", cursor)
			if err := s.streamEvents(conn, &cursor); err != nil {
				l.Error("failed to stream", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			// send a keep-alive
			l.Info("sent keepalive")
			if err = conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
			}
		}
	}
}

func (s *Shuttle) streamEvents(conn *websocket.Conn, cursor *int64) error {
	for {
		events, err := s.db.GetEvents(*cursor)
		if err != nil {
			s.l.Debug("err", "err", err)
			return err
		}
		if len(events) == 0 {
			return nil
		}

		for _, event := range events {
			if err := conn.WriteJSON(api.StreamedEvent{
				Id:    event.Id,
				Event: json.RawMessage(event.EventJson),
			}); err != nil {
				s.l.Debug("err", "err", err)
				return err
			}
			*cursor = event.Id
		}
	}
}
