package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/lobby"
	"github.com/DoyleJ11/lordfarm/internal/membership"
)

var ErrNotFound = errors.New("session not found")
var ErrStopped = errors.New("hub stopped")

type HubMsg interface{ isHubMsg() }

// EnsureSession creates a session for Host, or returns the one they already host.
type EnsureSession struct {
	Host      engine.PlayerID
	Name      string
	Channel   string
	Formation engine.Formation
	Reply     chan Created
}

type Created struct {
	Lobby    *lobby.Lobby
	Existing bool
	Err      error
}

// AddSession registers an already built session, e.g. one restored from storage.
type AddSession struct {
	Session *engine.Session
	Reply   chan error
}

type GetSession struct {
	ID    engine.SessionID
	Reply chan *lobby.Lobby
}

type ListSessions struct {
	Reply chan []*lobby.Lobby
}

type RemoveSession struct {
	ID engine.SessionID
}

// SweepSessions asks every session to check itself for idleness.
type SweepSessions struct {
	Now time.Time
}

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (AddSession) isHubMsg()    {}
func (GetSession) isHubMsg()    {}
func (ListSessions) isHubMsg()  {}
func (RemoveSession) isHubMsg() {}
func (SweepSessions) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Options struct {
	Logger  *zap.Logger
	Members *membership.Index
	Sink    lobby.Sink
	Rules   engine.Rules
	Now     func() time.Time
	NewID   func() engine.SessionID
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[engine.SessionID]*lobby.Lobby
	hosts    map[engine.PlayerID]engine.SessionID
	opts     Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Members == nil {
		opts.Members = membership.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = ShortID
	}
	if opts.Rules.WarnThreshold == 0 {
		opts.Rules = engine.DefaultRules()
	}

	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[engine.SessionID]*lobby.Lobby),
		hosts:    make(map[engine.PlayerID]engine.SessionID),
		opts:     opts,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

// ShortID is the first eight characters of a random UUID.
func ShortID() engine.SessionID {
	return engine.SessionID(uuid.NewString()[:8])
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Members() *membership.Index { return h.opts.Members }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				msg.Reply <- h.ensure(msg)

			case AddSession:
				msg.Reply <- h.add(msg.Session)

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // May be nil

			case ListSessions:
				msg.Reply <- h.list()

			case RemoveSession:
				h.remove(msg.ID)

			case SweepSessions:
				for id, lb := range h.sessions {
					select {
					case lb.Inbox() <- lobby.Sweep{Now: msg.Now}:
					default:
						h.log.Debug("session busy, skipping sweep", zap.String("session_id", string(id)))
					}
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(msg EnsureSession) Created {
	if id, ok := h.hosts[msg.Host]; ok {
		if lb := h.sessions[id]; lb != nil {
			select {
			case <-lb.Done():
				// Ended, but its RemoveSession has not reached us yet.
				h.remove(id)
			default:
				return Created{Lobby: lb, Existing: true}
			}
		}
	}

	id := h.opts.NewID()
	for h.sessions[id] != nil {
		id = h.opts.NewID()
	}
	s, err := engine.NewSession(id, msg.Host, msg.Name, msg.Channel, msg.Formation, h.opts.Rules, h.opts.Now())
	if err != nil {
		return Created{Err: err}
	}
	lb := h.start(s)
	h.log.Info("session created",
		zap.String("session_id", string(id)),
		zap.String("host", string(msg.Host)),
		zap.Stringer("formation", msg.Formation),
	)
	return Created{Lobby: lb}
}

func (h *Hub) add(s *engine.Session) error {
	if h.sessions[s.ID] != nil {
		return fmt.Errorf("session %s already registered", s.ID)
	}
	if id, ok := h.hosts[s.Host]; ok {
		return fmt.Errorf("host %s already runs session %s", s.Host, id)
	}
	h.start(s)
	return nil
}

func (h *Hub) start(s *engine.Session) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, s, lobby.Options{
		Logger:  h.log,
		Members: h.opts.Members,
		Sink:    h.opts.Sink,
		OnEnded: h.ended,
		Now:     h.opts.Now,
	})
	h.sessions[s.ID] = lb
	h.hosts[s.Host] = s.ID
	return lb
}

// ended runs on the lobby's notification goroutine.
func (h *Hub) ended(id engine.SessionID) {
	select {
	case h.inbox <- RemoveSession{ID: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) remove(id engine.SessionID) {
	lb, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	for host, sid := range h.hosts {
		if sid == id {
			delete(h.hosts, host)
		}
	}
	h.opts.Members.ReleaseSession(id)
	stop(lb)
	h.log.Info("session removed", zap.String("session_id", string(id)))
}

func (h *Hub) list() []*lobby.Lobby {
	out := make([]*lobby.Lobby, 0, len(h.sessions))
	for _, lb := range h.sessions {
		out = append(out, lb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (h *Hub) shutdown() {
	for _, lb := range h.sessions {
		stop(lb)
	}
	clear(h.sessions)
	clear(h.hosts)
	h.cancel()
}

func stop(lb *lobby.Lobby) {
	select {
	case lb.Inbox() <- lobby.Shutdown{}:
	case <-lb.Done():
	}
}

// Ensure is the blocking form of EnsureSession.
func (h *Hub) Ensure(ctx context.Context, host engine.PlayerID, name, channel string, f engine.Formation) (Created, error) {
	reply := make(chan Created, 1)
	if err := h.post(ctx, EnsureSession{Host: host, Name: name, Channel: channel, Formation: f, Reply: reply}); err != nil {
		return Created{}, err
	}
	select {
	case c := <-reply:
		return c, c.Err
	case <-h.done:
		return Created{}, ErrStopped
	case <-ctx.Done():
		return Created{}, ctx.Err()
	}
}

func (h *Hub) Get(ctx context.Context, id engine.SessionID) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.post(ctx, GetSession{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return lb, nil
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) List(ctx context.Context) ([]*lobby.Lobby, error) {
	reply := make(chan []*lobby.Lobby, 1)
	if err := h.post(ctx, ListSessions{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Recover re-registers persisted sessions and lets each one run an assignment pass.
func (h *Hub) Recover(ctx context.Context, snaps []engine.Snapshot) (int, error) {
	n := 0
	for _, snap := range snaps {
		s, err := engine.Restore(snap, h.opts.Rules)
		if err != nil {
			h.log.Warn("skipping unrecoverable session", zap.String("session_id", string(snap.ID)), zap.Error(err))
			continue
		}
		reply := make(chan error, 1)
		if err := h.post(ctx, AddSession{Session: s, Reply: reply}); err != nil {
			return n, err
		}
		select {
		case err := <-reply:
			if err != nil {
				h.log.Warn("skipping session", zap.String("session_id", string(snap.ID)), zap.Error(err))
				continue
			}
		case <-h.done:
			return n, ErrStopped
		case <-ctx.Done():
			return n, ctx.Err()
		}
		if lb, err := h.Get(ctx, s.ID); err == nil {
			lb.Inbox() <- lobby.Resume{}
		}
		n++
	}
	h.log.Info("sessions recovered", zap.Int("count", n))
	return n, nil
}

// RunSweeper posts SweepSessions every interval until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			if err := h.post(ctx, SweepSessions{Now: h.opts.Now()}); err != nil {
				return nil
			}
		}
	}
}

func (h *Hub) post(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
