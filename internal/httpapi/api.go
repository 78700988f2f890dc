package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lordfarm/internal/config"
	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/hub"
	"github.com/DoyleJ11/lordfarm/internal/lobby"
	"github.com/DoyleJ11/lordfarm/internal/membership"
	"github.com/DoyleJ11/lordfarm/internal/store"
	"github.com/DoyleJ11/lordfarm/internal/types"
)

var ErrRoleDisabled = errors.New("role not enabled on player profile")

// Profiles is the player profile store. It is optional.
type Profiles interface {
	UpsertPlayer(ctx context.Context, p store.Player) (store.Player, error)
	GetPlayer(ctx context.Context, id engine.PlayerID) (store.Player, error)
	DeletePlayer(ctx context.Context, id engine.PlayerID) error
	Ping(ctx context.Context) error
}

type API struct {
	hub      *hub.Hub
	profiles Profiles
	catalog  config.Catalog
	log      *zap.Logger
	now      func() time.Time
}

func New(h *hub.Hub, profiles Profiles, catalog config.Catalog, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{hub: h, profiles: profiles, catalog: catalog, log: log, now: time.Now}
}

// Deliver turns a wire event into a command and runs it in the session. A
// player with a linked profile may only queue for roles they enabled.
func (a *API) Deliver(ctx context.Context, lb *lobby.Lobby, m types.ClientMessage) (lobby.Outcome, error) {
	cmd, err := types.ToCommand(m, a.catalog.Formation, a.now())
	if err != nil {
		return lobby.Outcome{}, err
	}
	if cmd.Type == engine.CmdEnqueue && a.profiles != nil {
		p, err := a.profiles.GetPlayer(ctx, cmd.Player)
		switch {
		case errors.Is(err, store.ErrPlayerNotFound):
		case err != nil:
			return lobby.Outcome{}, fmt.Errorf("load profile: %w", err)
		case !p.Enabled(cmd.Role):
			return lobby.Outcome{}, fmt.Errorf("%w: %s", ErrRoleDisabled, cmd.Role)
		}
	}
	return lb.Send(ctx, cmd)
}

func status(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, hub.ErrNotFound),
		errors.Is(err, store.ErrPlayerNotFound),
		errors.Is(err, lobby.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrAlreadyQueued),
		errors.Is(err, engine.ErrAlreadyAssigned),
		errors.Is(err, engine.ErrNotQueued),
		errors.Is(err, engine.ErrNotAssigned),
		errors.Is(err, membership.ErrInOtherSession),
		errors.Is(err, store.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownRole),
		errors.Is(err, engine.ErrInvalidFormation),
		errors.Is(err, engine.ErrUnknownCharacter),
		errors.Is(err, engine.ErrUnknownTeam),
		errors.Is(err, engine.ErrUnsupportedCommand),
		errors.Is(err, types.ErrUnknownType),
		errors.Is(err, config.ErrUnknownPreset),
		errors.Is(err, ErrRoleDisabled),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, types.ServerMessage{Type: "Error", Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
