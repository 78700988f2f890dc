package lobby

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

// Sink receives every accepted state change, in order, from the session's
// goroutine. Implementations must not call back into the lobby.
type Sink interface {
	Deliver(ctx context.Context, id engine.SessionID, snap engine.Snapshot, intents []engine.Intent) error
}

type SinkFunc func(ctx context.Context, id engine.SessionID, snap engine.Snapshot, intents []engine.Intent) error

func (f SinkFunc) Deliver(ctx context.Context, id engine.SessionID, snap engine.Snapshot, intents []engine.Intent) error {
	return f(ctx, id, snap, intents)
}

// MultiSink delivers to every sink even when earlier ones fail.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, id engine.SessionID, snap engine.Snapshot, intents []engine.Intent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Deliver(ctx, id, snap, intents))
	}
	return err
}

// LogSink writes each intent as a debug line.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, id engine.SessionID, _ engine.Snapshot, intents []engine.Intent) error {
	for _, in := range intents {
		s.Logger.Debug("intent",
			zap.String("session_id", string(id)),
			zap.String("type", string(in.Type)),
			zap.String("player_id", string(in.Player)),
			zap.Int("team", in.Team),
			zap.String("summary", in.Summary),
		)
	}
	return nil
}
