package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/lobby"
	"github.com/DoyleJ11/lordfarm/internal/store"
	"github.com/DoyleJ11/lordfarm/internal/types"
)

type sessionView struct {
	ID         engine.SessionID    `json:"id"`
	Version    int                 `json:"version"`
	Status     string              `json:"status"`
	Clients    int                 `json:"clients"`
	Timers     int                 `json:"timers"`
	QueueDepth map[engine.Role]int `json:"queue_depth"`
	Missing    []teamMissing       `json:"missing_by_team"`
	State      engine.Snapshot     `json:"state"`
}

type teamMissing struct {
	Team    int                `json:"team"`
	Missing []engine.RoleCount `json:"missing"`
}

func viewOf(v lobby.View) sessionView {
	depth := make(map[engine.Role]int)
	for _, e := range v.Snapshot.Queue {
		depth[e.Role]++
	}
	missing := make([]teamMissing, 0, len(v.Snapshot.Teams))
	for _, t := range v.Snapshot.Teams {
		missing = append(missing, teamMissing{Team: t.Index, Missing: t.Missing()})
	}
	return sessionView{
		ID:         v.Snapshot.ID,
		Version:    v.Version,
		Status:     v.Status,
		Clients:    v.NumClients,
		Timers:     v.NumTimers,
		QueueDepth: depth,
		Missing:    missing,
		State:      v.Snapshot,
	}
}

// CreateSession handles hostCreateSession. A host that already runs a session
// gets that one back with 200 instead of 201.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSession
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Host == "" {
		a.fail(w, r, fmt.Errorf("%w: host is required", errBadRequest))
		return
	}
	teams := req.Teams
	if teams == 0 {
		teams = 1
	}
	f, err := a.catalog.Formation(req.Formation, teams)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	created, err := a.hub.Ensure(r.Context(), engine.PlayerID(req.Host), req.Name, req.Channel, f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	v, err := created.Lobby.State(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusCreated
	if created.Existing {
		code = http.StatusOK
	}
	writeJSON(w, code, viewOf(v))
}

type sessionSummary struct {
	ID        engine.SessionID `json:"id"`
	Host      engine.PlayerID  `json:"host"`
	Name      string           `json:"name"`
	Phase     engine.Phase     `json:"phase"`
	Locked    bool             `json:"locked"`
	Status    string           `json:"status"`
	Formation string           `json:"formation"`
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	lobbies, err := a.hub.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(lobbies))
	for _, lb := range lobbies {
		v, err := lb.State(r.Context())
		if err != nil {
			continue // ended while we were listing
		}
		s := v.Snapshot
		out = append(out, sessionSummary{
			ID: s.ID, Host: s.Host, Name: s.Name, Phase: s.Phase, Locked: s.Locked,
			Status: v.Status, Formation: s.Formation.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	lb, err := a.hub.Get(r.Context(), engine.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	v, err := lb.State(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(v))
}

// PostEvent delivers one event and answers with the intents it produced.
func (a *API) PostEvent(w http.ResponseWriter, r *http.Request) {
	lb, err := a.hub.Get(r.Context(), engine.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var msg types.ClientMessage
	if err := decode(r, &msg); err != nil {
		a.fail(w, r, err)
		return
	}
	out, err := a.Deliver(r.Context(), lb, msg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ServerMessage{Type: "Intents", Version: out.Version, Intents: out.Intents})
}

type playerRequest struct {
	ID          string                        `json:"id"`
	DisplayName string                        `json:"display_name"`
	Roles       []string                      `json:"roles"`
	Characters  map[string][]engine.Character `json:"characters,omitempty"`
}

func (a *API) UpsertPlayer(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.ID == "" {
		a.fail(w, r, fmt.Errorf("%w: id is required", errBadRequest))
		return
	}
	p := store.Player{ID: engine.PlayerID(req.ID), DisplayName: req.DisplayName}
	for _, name := range req.Roles {
		role, err := engine.ParseRole(name)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		p.Roles = append(p.Roles, role)
	}
	if len(req.Characters) > 0 {
		p.Characters = make(map[engine.Role][]engine.Character, len(req.Characters))
		for name, chars := range req.Characters {
			role, err := engine.ParseRole(name)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			for _, c := range chars {
				if !a.catalog.Characters.Allows(role, c) {
					a.fail(w, r, fmt.Errorf("%w: %q for %s", engine.ErrUnknownCharacter, c, role))
					return
				}
			}
			p.Characters[role] = chars
		}
	}

	saved, err := a.profiles.UpsertPlayer(r.Context(), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) GetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := a.profiles.GetPlayer(r.Context(), engine.PlayerID(chi.URLParam(r, "id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePlayer removes a profile. The player stays in any session they are in.
func (a *API) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	if err := a.profiles.DeletePlayer(r.Context(), engine.PlayerID(chi.URLParam(r, "id"))); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presetsResponse struct {
	Presets    map[string]string                  `json:"presets"`
	Characters map[engine.Role][]engine.Character `json:"characters"`
}

func (a *API) Presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{Presets: a.catalog.Presets, Characters: a.catalog.Characters})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if a.profiles != nil {
		if err := a.profiles.Ping(r.Context()); err != nil {
			a.log.Warn("health check: database unreachable")
			http.Error(w, "database unreachable", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
