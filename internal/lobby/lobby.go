package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/membership"
)

var ErrClosed = errors.New("session is closed")

const sinkTimeout = 5 * time.Second

type Msg interface{ isLobbyMsg() }

// Dispatch runs one command. Reply may be nil for fire-and-forget events.
type Dispatch struct {
	Cmd   engine.Command
	Reply chan Outcome
}

func (Dispatch) isLobbyMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Update // where this client wants to receive updates
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Resume runs an assignment pass, used once after a session is restored.
type Resume struct{}

func (Resume) isLobbyMsg() {}

// Sweep ends the session if it has been idle for longer than its IdleTimeout.
type Sweep struct{ Now time.Time }

func (Sweep) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// graceFired is posted by a grace timer. It is re-validated by the engine.
type graceFired struct {
	Player engine.PlayerID
	Gen    uint64
}

func (graceFired) isLobbyMsg() {}

type Outcome struct {
	Version int
	Intents []engine.Intent
	Err     error
}

// Update is what subscribers receive after every accepted change.
type Update struct {
	Version  int
	Intents  []engine.Intent
	Snapshot engine.Snapshot
}

type View struct {
	Version    int
	NumClients int
	NumTimers  int
	Status     string
	Snapshot   engine.Snapshot
}

type Options struct {
	Logger  *zap.Logger
	Members *membership.Index
	Sink    Sink
	// OnEnded is called from its own goroutine once the session reaches Ended.
	OnEnded func(engine.SessionID)
	Now     func() time.Time
}

type graceTimer struct {
	gen   uint64
	timer *time.Timer
}

type Lobby struct {
	id      engine.SessionID
	inbox   chan Msg
	session *engine.Session
	version int
	clients map[string]chan Update
	timers  map[engine.PlayerID]graceTimer
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLobby(parent context.Context, s *engine.Session, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Lobby{
		id:      s.ID,
		inbox:   make(chan Msg, 64),
		session: s,
		clients: make(map[string]chan Update),
		timers:  make(map[engine.PlayerID]graceTimer),
		opts:    opts,
		log:     opts.Logger.With(zap.String("session_id", string(s.ID))),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if opts.Members != nil {
		for _, p := range opts.Members.Sync(s.ID, s.Roster()) {
			l.log.Warn("player claimed by another session", zap.String("player_id", string(p)))
		}
	}

	go l.loop()
	return l
}

// Inbox exposes the inbox so the hub, the transport layers and tests can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) ID() engine.SessionID { return l.id }

// Done is closed when the session goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send runs cmd and waits for its outcome.
func (l *Lobby) Send(ctx context.Context, cmd engine.Command) (Outcome, error) {
	reply := make(chan Outcome, 1)
	select {
	case l.inbox <- Dispatch{Cmd: cmd, Reply: reply}:
	case <-l.done:
		return Outcome{}, ErrClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, out.Err
	case <-l.done:
		return Outcome{}, ErrClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// State returns a consistent view of the session.
func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case l.inbox <- GetState{Reply: reply}:
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send the current state immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.send(msg.ClientID, Update{Version: l.version, Snapshot: l.session.Snapshot()})

			case Leave:
				l.drop(msg.ClientID)

			case Dispatch:
				out := l.dispatch(msg.Cmd)
				if msg.Reply != nil {
					msg.Reply <- out
				}

			case graceFired:
				gt, ok := l.timers[msg.Player]
				if !ok || gt.gen != msg.Gen {
					l.log.Debug("dropping stale grace timer", zap.String("player_id", string(msg.Player)))
					break
				}
				delete(l.timers, msg.Player)
				l.dispatch(engine.Command{Type: engine.CmdGraceExpired, Player: msg.Player, Gen: msg.Gen})

			case Resume:
				res := engine.Resume(l.session, l.opts.Now())
				if len(res.Intents) > 0 {
					l.commit(res)
				}

			case Sweep:
				l.dispatch(engine.Command{Type: engine.CmdIdleCheck, At: msg.Now})

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					NumTimers:  len(l.timers),
					Status:     l.session.Status(),
					Snapshot:   l.session.Snapshot(),
				}

			case Shutdown:
				l.shutdown()
				return
			}

			if l.session.Phase == engine.PhaseEnded {
				l.finish()
				return
			}
		}
	}
}

func (l *Lobby) dispatch(cmd engine.Command) Outcome {
	if cmd.At.IsZero() {
		cmd.At = l.opts.Now()
	}

	if cmd.Type == engine.CmdEnqueue && l.opts.Members != nil {
		if err := l.opts.Members.Claim(cmd.Player, l.id); err != nil {
			return Outcome{Version: l.version, Err: err}
		}
	}

	res, err := engine.Apply(l.session, cmd)
	if err != nil {
		l.syncMembers()
		l.log.Debug("command rejected",
			zap.String("type", string(cmd.Type)),
			zap.String("player_id", string(cmd.Player)),
			zap.Error(err),
		)
		return Outcome{Version: l.version, Err: err}
	}
	if res.Stale {
		l.log.Debug("grace timer no longer applies", zap.String("player_id", string(cmd.Player)))
		return Outcome{Version: l.version}
	}
	if cmd.Type == engine.CmdIdleCheck && len(res.Intents) == 0 {
		return Outcome{Version: l.version}
	}

	l.commit(res)
	return Outcome{Version: l.version, Intents: res.Intents}
}

// commit publishes an accepted result: timers, membership, sink, subscribers.
func (l *Lobby) commit(res engine.Result) {
	l.version++
	l.schedule(res.Timers)
	l.syncMembers()

	snap := l.session.Snapshot()
	if l.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(l.ctx, sinkTimeout)
		if err := l.opts.Sink.Deliver(ctx, l.id, snap, res.Intents); err != nil {
			// In-memory state stays authoritative; the next change retries the write.
			l.log.Error("deliver session change", zap.Int("version", l.version), zap.Error(err))
		}
		cancel()
	}
	l.broadcast(Update{Version: l.version, Intents: res.Intents, Snapshot: snap})
}

func (l *Lobby) schedule(ops []engine.TimerOp) {
	for _, op := range ops {
		if op.Cancel {
			if gt, ok := l.timers[op.Player]; ok && gt.gen == op.Gen {
				gt.timer.Stop()
				delete(l.timers, op.Player)
			}
			continue
		}

		if old, ok := l.timers[op.Player]; ok {
			old.timer.Stop()
		}
		player, gen := op.Player, op.Gen
		l.timers[player] = graceTimer{
			gen: gen,
			timer: time.AfterFunc(op.Delay, func() {
				select {
				case l.inbox <- graceFired{Player: player, Gen: gen}:
				case <-l.ctx.Done():
				}
			}),
		}
	}
}

func (l *Lobby) syncMembers() {
	if l.opts.Members == nil {
		return
	}
	for _, p := range l.opts.Members.Sync(l.id, l.session.Roster()) {
		l.log.Warn("player claimed by another session", zap.String("player_id", string(p)))
	}
}

// finish runs once the session has ended.
func (l *Lobby) finish() {
	l.log.Info("session ended", zap.Int("version", l.version))
	if l.opts.Members != nil {
		l.opts.Members.ReleaseSession(l.id)
	}
	l.shutdown()
	if l.opts.OnEnded != nil {
		go l.opts.OnEnded(l.id)
	}
}

func (l *Lobby) shutdown() {
	for player, gt := range l.timers {
		gt.timer.Stop()
		delete(l.timers, player)
	}
	for id := range l.clients {
		l.drop(id)
	}
	l.cancel()
}

func (l *Lobby) send(id string, u Update) {
	ch := l.clients[id]
	select {
	case ch <- u:
	default:
		// Client is slow/full - drop them.
		l.drop(id)
	}
}

// drop forgets a client and closes its outbox, which ends its writer.
func (l *Lobby) drop(id string) {
	if ch, ok := l.clients[id]; ok {
		close(ch)
		delete(l.clients, id)
	}
}

func (l *Lobby) broadcast(u Update) {
	for id := range l.clients {
		l.send(id, u)
	}
}
