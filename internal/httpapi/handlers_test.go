package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lordfarm/internal/config"
	"github.com/DoyleJ11/lordfarm/internal/engine"
	"github.com/DoyleJ11/lordfarm/internal/hub"
	"github.com/DoyleJ11/lordfarm/internal/store"
	"github.com/DoyleJ11/lordfarm/internal/types"
)

type fakeProfiles struct {
	mu      sync.Mutex
	players map[engine.PlayerID]store.Player
	pingErr error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{players: make(map[engine.PlayerID]store.Player)}
}

func (f *fakeProfiles) UpsertPlayer(_ context.Context, p store.Player) (store.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, other := range f.players {
		if id != p.ID && strings.EqualFold(other.DisplayName, p.DisplayName) {
			return store.Player{}, store.ErrNameTaken
		}
	}
	p.WarnsTotal = f.players[p.ID].WarnsTotal
	f.players[p.ID] = p
	return p, nil
}

func (f *fakeProfiles) GetPlayer(_ context.Context, id engine.PlayerID) (store.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return store.Player{}, store.ErrPlayerNotFound
	}
	return p, nil
}

func (f *fakeProfiles) DeletePlayer(_ context.Context, id engine.PlayerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return store.ErrPlayerNotFound
	}
	delete(f.players, id)
	return nil
}

func (f *fakeProfiles) Ping(context.Context) error { return f.pingErr }

func newTestAPI(t *testing.T, profiles Profiles) (http.Handler, *API) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)
	cat := config.DefaultCatalog()
	rules := engine.DefaultRules()
	rules.Catalog = cat.Characters
	h := hub.NewHub(ctx, hub.Options{Logger: log, Rules: rules})

	a := New(h, profiles, cat, log)
	return SetupRoutes(a), a
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, srv http.Handler, host, formation string) sessionView {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/sessions", types.CreateSession{Host: host, Name: "friday", Formation: formation})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func postEvent(t *testing.T, srv http.Handler, id engine.SessionID, msg types.ClientMessage) (int, types.ServerMessage) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/sessions/"+string(id)+"/events", msg)
	var out types.ServerMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func intentTypes(msg types.ServerMessage) []engine.IntentType {
	var out []engine.IntentType
	for _, in := range msg.Intents {
		out = append(out, in.Type)
	}
	return out
}

func TestCreateSession(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	v := createSession(t, srv, "host", "2-2-2")
	assert.Len(t, v.ID, 8)
	assert.Equal(t, engine.PhaseForming, v.State.Phase)
	require.Len(t, v.Missing, 1)
	assert.Equal(t, []engine.RoleCount{{Role: engine.RoleSupport, Count: 2}, {Role: engine.RoleTank, Count: 2}, {Role: engine.RoleDPS, Count: 2}}, v.Missing[0].Missing)

	// Same host gets the running session back.
	rec := do(t, srv, http.MethodPost, "/sessions", types.CreateSession{Host: "host", Formation: "3-3"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, v.ID, again.ID)

	cases := []struct {
		name string
		req  types.CreateSession
	}{
		{"no host", types.CreateSession{Formation: "2-2-2"}},
		{"unknown preset", types.CreateSession{Host: "h2", Formation: "4-4"}},
		{"bad formation", types.CreateSession{Host: "h2", Formation: "tank:x"}},
		{"huge role count", types.CreateSession{Host: "h2", Formation: "tank:100000000000000"}},
		{"overflowing sum", types.CreateSession{Host: "h2", Formation: "tank:4611686018427387904,dps:4611686018427387904"}},
		{"too many teams", types.CreateSession{Host: "h2", Formation: "tank:1", Teams: 1 << 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/sessions", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	// The hub is still serving after the rejected formations.
	createSession(t, srv, "h3", "tank:1")
}

func TestListAndGetSessions(t *testing.T) {
	srv, _ := newTestAPI(t, nil)
	a := createSession(t, srv, "alice", "tank:1,dps:1")
	createSession(t, srv, "bob", "6-dps")

	rec := do(t, srv, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []sessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = do(t, srv, http.MethodGet, "/sessions/"+string(a.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostEvent_StatusCodes(t *testing.T) {
	srv, _ := newTestAPI(t, nil)
	v := createSession(t, srv, "host", "tank:1,dps:1")

	code, out := postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "a", Role: "tank", Character: "Hulk"})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Contains(t, intentTypes(out), engine.IntentAssignPlayer)
	assert.Equal(t, 1, out.Version)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "hostLock", Actor: "a"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "hostLock", Actor: "host"})
	require.Equal(t, http.StatusOK, code)

	code, out = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "b", Role: "dps"})
	assert.Equal(t, http.StatusConflict, code, "enqueue while locked")
	assert.NotEmpty(t, out.Error)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "hostUnlock", Actor: "host"})
	require.Equal(t, http.StatusOK, code)
	code, out = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "b", Role: "dps", Character: "Storm"})
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Contains(t, intentTypes(out), engine.IntentAssignPlayer)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "b", Role: "dps"})
	assert.Equal(t, http.StatusConflict, code, "already assigned")

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "c", Role: "tank", Character: "Loki"})
	assert.Equal(t, http.StatusBadRequest, code, "Loki is not a tank")
	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "c", Role: "tank", Character: "Thor"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "d", Role: "bard"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "LockPick"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = postEvent(t, srv, "missing", types.ClientMessage{Type: "hostStart", Actor: "host"})
	assert.Equal(t, http.StatusNotFound, code)

	rec := do(t, srv, http.MethodPost, "/sessions/"+string(v.ID)+"/events", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "hostStart", Actor: "host"})
	require.Equal(t, http.StatusOK, code)
	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "hostSetFormation", Actor: "host", Formation: "6-dps"})
	assert.Equal(t, http.StatusConflict, code, "formation is frozen once active")
}

func TestPostEvent_PlayerInOtherSession(t *testing.T) {
	srv, _ := newTestAPI(t, nil)
	first := createSession(t, srv, "alice", "tank:1")
	second := createSession(t, srv, "bob", "tank:1")

	code, _ := postEvent(t, srv, first.ID, types.ClientMessage{Type: "playerEnqueue", Player: "p", Role: "tank", Character: "Thor"})
	require.Equal(t, http.StatusOK, code)
	code, _ = postEvent(t, srv, second.ID, types.ClientMessage{Type: "playerEnqueue", Player: "p", Role: "tank", Character: "Thor"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestPlayers(t *testing.T) {
	profiles := newFakeProfiles()
	srv, _ := newTestAPI(t, profiles)

	rec := do(t, srv, http.MethodPost, "/players", playerRequest{ID: "p1", DisplayName: "Ash", Roles: []string{"healer"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p store.Player
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, []engine.Role{engine.RoleSupport}, p.Roles)

	rec = do(t, srv, http.MethodPost, "/players", playerRequest{ID: "p2", DisplayName: "ash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/players", playerRequest{ID: "p3", Characters: map[string][]engine.Character{"tank": {"Mantis"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/players/p1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/players/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	v := createSession(t, srv, "host", "tank:1,support:1")
	code, out := postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "p1", Role: "tank"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out.Error, ErrRoleDisabled.Error())

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "p1", Role: "flex", Character: "Loki"})
	assert.Equal(t, http.StatusOK, code, "flex is always enabled")

	code, _ = postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "unlinked", Role: "tank", Character: "Hulk"})
	assert.Equal(t, http.StatusOK, code, "players without a profile may queue for anything")
}

func TestPlayers_Delete(t *testing.T) {
	profiles := newFakeProfiles()
	srv, _ := newTestAPI(t, profiles)

	rec := do(t, srv, http.MethodPost, "/players", playerRequest{ID: "p1", DisplayName: "Ash", Roles: []string{"healer"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodDelete, "/players/p1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodGet, "/players/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/players/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Without a profile the role restriction is gone too.
	v := createSession(t, srv, "host", "tank:1")
	code, _ := postEvent(t, srv, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "p1", Role: "tank", Character: "Hulk"})
	assert.Equal(t, http.StatusOK, code)
}

func TestPlayers_NotMountedWithoutStore(t *testing.T) {
	srv, _ := newTestAPI(t, nil)
	rec := do(t, srv, http.MethodGet, "/players/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresetsAndHealth(t *testing.T) {
	profiles := newFakeProfiles()
	srv, _ := newTestAPI(t, profiles)

	rec := do(t, srv, http.MethodGet, "/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var presets presetsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &presets))
	assert.Equal(t, "support:2,tank:2,dps:2", presets.Presets["2-2-2"])
	assert.Contains(t, presets.Characters[engine.RoleTank], engine.Character("Hulk"))

	rec = do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	profiles.pingErr = errors.New("connection refused")
	rec = do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebsocket_StreamsIntents(t *testing.T) {
	handler, _ := newTestAPI(t, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v := createSession(t, handler, "host", "tank:1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws?session="+string(v.ID), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() types.ServerMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	// Joining delivers the current state.
	first := read()
	assert.Equal(t, "Intents", first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, v.ID, first.State.ID)

	// Events from another boundary show up on the stream.
	code, _ := postEvent(t, handler, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "a", Role: "tank", Character: "Hulk"})
	require.Equal(t, http.StatusOK, code)
	msg := read()
	assert.Equal(t, 1, msg.Version)
	assert.Contains(t, intentTypes(msg), engine.IntentAssignPlayer)

	// Events sent over the socket: rejections come back to the sender.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hostLock","actor":"a"}`)))
	msg = read()
	assert.Equal(t, "Error", msg.Type)
	assert.Contains(t, msg.Error, engine.ErrNotHost.Error())

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`not json`)))
	assert.Equal(t, "bad json", read().Error)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hostLock","actor":"host"}`)))
	msg = read()
	assert.Equal(t, 2, msg.Version)
	assert.Contains(t, intentTypes(msg), engine.IntentSessionStateChanged)
}

func TestWebsocket_DisconnectReleasesClient(t *testing.T) {
	handler, _ := newTestAPI(t, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v := createSession(t, handler, "host", "tank:1")
	clients := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+string(v.ID), nil))
		var got sessionView
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &got) != nil {
			return -1
		}
		return got.Clients
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws?session="+string(v.ID), nil)
	require.NoError(t, err)
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, clients())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return clients() == 0 }, 2*time.Second, 20*time.Millisecond)

	// The session keeps accepting events once the executor is gone.
	code, _ := postEvent(t, handler, v.ID, types.ClientMessage{Type: "playerEnqueue", Player: "a", Role: "tank", Character: "Hulk"})
	assert.Equal(t, http.StatusOK, code)
}
