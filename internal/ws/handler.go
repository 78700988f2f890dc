// Package ws streams a session's intents to an executor over a websocket and
// accepts events from it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/hub"
	"github.com/DoyleJ11/lordfarm/internal/lobby"
	"github.com/DoyleJ11/lordfarm/internal/types"
)

const writeTimeout = 3 * time.Second

// Deliverer validates a wire event and runs it against a session.
type Deliverer interface {
	Deliver(ctx context.Context, lb *lobby.Lobby, m types.ClientMessage) (lobby.Outcome, error)
}

// Handler serves GET /ws?session=<id>. Every accepted change in the session is
// pushed as an Intents message; events read from the socket go through d, and
// only rejections are answered directly.
func Handler(h *hub.Hub, d Deliverer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		lb, err := h.Get(r.Context(), engine.SessionID(id))
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		out := make(chan lobby.Update, 16)
		select {
		case lb.Inbox() <- lobby.Join{ClientID: clientID, Outbox: out}:
		case <-lb.Done():
			conn.Close(websocket.StatusGoingAway, "session ended")
			return
		}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: clientID}:
			case <-lb.Done():
			}
		}()

		clog := log.With(zap.String("session_id", id), zap.String("client_id", clientID))
		clog.Debug("executor connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				select {
				case u, ok := <-out:
					if !ok {
						// The lobby dropped us or shut down.
						conn.Close(websocket.StatusGoingAway, "session closed")
						return
					}
					snap := u.Snapshot
					write(ctx, conn, types.ServerMessage{Type: "Intents", Version: u.Version, Intents: u.Intents, State: &snap})
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						clog.Debug("websocket read", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(ctx, conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if _, err := d.Deliver(ctx, lb, cm); err != nil {
				write(ctx, conn, types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
