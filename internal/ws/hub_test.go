package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/game"
	"fairwager/internal/round"
	"fairwager/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu      sync.Mutex
	placed  []round.PlaceRequest
	actions []game.Action
}

func (f *fakeEngine) Place(ctx context.Context, req round.PlaceRequest) (*domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if req.Stake == 0 {
		return nil, domain.Validationf("stake must be positive")
	}
	return &domain.Round{Nonce: 1, Player: req.Player, Kind: req.Game, Stake: req.Stake, Status: domain.StatusLocked}, nil
}

func (f *fakeEngine) Step(ctx context.Context, player string, nonce uint64, a game.Action) (*domain.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return &domain.Round{Nonce: nonce, Player: player, Status: domain.StatusInPlay, Progress: domain.Progress{Opened: []int{a.Cell}}}, nil
}

func (f *fakeEngine) Resolve(ctx context.Context, player string, nonce uint64) (*domain.Round, error) {
	if nonce != 1 {
		return nil, domain.ErrRoundNotFound
	}
	return &domain.Round{Nonce: nonce, Player: player, Status: domain.StatusResolved, Payout: 198}, nil
}

func (f *fakeEngine) Get(ctx context.Context, player string, nonce uint64) (*domain.Round, error) {
	return &domain.Round{Nonce: nonce, Player: player, Status: domain.StatusLocked}, nil
}

func (f *fakeEngine) Active(ctx context.Context, player string) []*domain.Round {
	return []*domain.Round{{Nonce: 1, Player: player, Status: domain.StatusLocked}}
}

type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`
}

func setup(t *testing.T) (*Hub, *fakeEngine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service.InitJWT("ws-test-secret")

	hub := NewHub()
	eng := &fakeEngine{}
	r := gin.New()
	r.GET("/ws", HandleWS(hub, eng, ""))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, eng, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, player string) *websocket.Conn {
	t.Helper()
	token, err := service.GenerateJWT(player)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ready := read(t, conn)
	require.Equal(t, MsgReady, ready.Type)
	state := read(t, conn)
	require.Equal(t, MsgState, state.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRejectsMissingToken(t *testing.T) {
	_, _, url := setup(t)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPlaceAndResolve(t *testing.T) {
	_, eng, url := setup(t)
	conn := dial(t, url, "alice")

	require.NoError(t, conn.WriteJSON(Request{
		Type:  MsgPlace,
		ID:    "r1",
		Place: &round.PlaceRequest{Player: "mallory", Game: domain.GameDice, Stake: 100},
	}))
	msg := read(t, conn)
	assert.Equal(t, MsgRound, msg.Type)
	assert.Equal(t, "r1", msg.ID)
	var r domain.Round
	require.NoError(t, json.Unmarshal(msg.Payload, &r))
	assert.Equal(t, domain.StatusLocked, r.Status)

	// the player always comes from the token
	eng.mu.Lock()
	require.Len(t, eng.placed, 1)
	assert.Equal(t, "alice", eng.placed[0].Player)
	eng.mu.Unlock()

	require.NoError(t, conn.WriteJSON(Request{Type: MsgOpen, ID: "r2", Nonce: 1, Cell: 7}))
	msg = read(t, conn)
	assert.Equal(t, "r2", msg.ID)
	require.NoError(t, json.Unmarshal(msg.Payload, &r))
	assert.Equal(t, []int{7}, r.Progress.Opened)

	require.NoError(t, conn.WriteJSON(Request{Type: MsgCashOut, ID: "r3", Nonce: 1}))
	msg = read(t, conn)
	require.NoError(t, json.Unmarshal(msg.Payload, &r))
	assert.Equal(t, domain.StatusResolved, r.Status)
	assert.Equal(t, uint64(198), r.Payout)
}

func TestErrorsCarryCode(t *testing.T) {
	_, _, url := setup(t)
	conn := dial(t, url, "alice")

	tests := []struct {
		req  Request
		code domain.Code
	}{
		{Request{Type: MsgResolve, ID: "a", Nonce: 404}, domain.CodeNotFound},
		{Request{Type: MsgPlace, ID: "b"}, domain.CodeValidation},
		{Request{Type: MsgPlace, ID: "c", Place: &round.PlaceRequest{Game: domain.GameDice}}, domain.CodeValidation},
		{Request{Type: "fly", ID: "d"}, domain.CodeValidation},
	}
	for _, tt := range tests {
		require.NoError(t, conn.WriteJSON(tt.req))
		msg := read(t, conn)
		assert.Equal(t, MsgError, msg.Type)
		assert.Equal(t, tt.req.ID, msg.ID)
		var p domain.ErrorPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, tt.code, p.Code)
		assert.NotEmpty(t, p.Message)
	}
}

func TestPublishReachesOnlyOwner(t *testing.T) {
	hub, _, url := setup(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	assert.Equal(t, 1, hub.Connected("alice"))

	hub.Publish(domain.Event{ID: "e1", Type: domain.EventResolved, Nonce: 9, Player: "alice", Payload: domain.ResolvedPayload{Nonce: 9, Payout: 5}})

	msg := read(t, alice)
	assert.Equal(t, string(domain.EventResolved), msg.Type)
	assert.Equal(t, uint64(9), msg.Nonce)

	// bob gets nothing but still answers pings
	require.NoError(t, bob.WriteJSON(Request{Type: MsgPing, ID: "p"}))
	msg = read(t, bob)
	assert.Equal(t, MsgPong, msg.Type)
}

func TestUnregisterOnClose(t *testing.T) {
	hub, _, url := setup(t)
	conn := dial(t, url, "alice")
	require.Equal(t, 1, hub.Connected("alice"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connected("alice") == 0 }, 3*time.Second, 20*time.Millisecond)

	// publishing to a player with no connections is a no-op
	hub.Publish(domain.Event{Type: domain.EventLocked, Player: "alice"})
}
