package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"fairwager/internal/custody"
	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	httpapi "fairwager/internal/http"
	"fairwager/internal/http/handlers"
	"fairwager/internal/repository"
	"fairwager/internal/round"
	"fairwager/internal/service"
	"fairwager/internal/ws"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-token"

type auditStore struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func (s *auditStore) Create(ctx context.Context, log *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *auditStore) GetByPlayer(ctx context.Context, player string, limit int) ([]*domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range s.logs {
		if l.Player == player && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *auditStore) GetByNonce(ctx context.Context, nonce uint64) ([]*domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range s.logs {
		if l.Nonce == nonce {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *auditStore) actions(player string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.logs {
		if l.Player == player {
			out = append(out, l.Action)
		}
	}
	return out
}

type playerSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (p *playerSet) Ensure(ctx context.Context, player string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	p.seen[player] = true
	return nil
}

type env struct {
	router  *gin.Engine
	ledger  *repository.MemoryLedger
	audit   *auditStore
	players *playerSet
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service.InitJWT("handlers-secret")

	sealer, err := fairness.NewSealer("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	ledger := repository.NewMemoryLedger()
	games := game.NewRegistry(nil)
	audit := &auditStore{}
	auditSvc := service.NewAuditService(audit)
	hub := ws.NewHub()

	m := round.NewManager(round.Config{
		MinStake: 1,
		MaxStake: 1_000_000,
		RTPBps: map[domain.GameKind]uint32{
			domain.GameDice:   9900,
			domain.GameMines:  9900,
			domain.GameSlots:  9600,
			domain.GamePlinko: 9900,
			domain.GameCrash:  9900,
		},
		CoinflipFeeBps: 300,
		Mirror:         round.MirrorOff,
	}, round.Deps{
		Store:   repository.NewMemoryRoundStore(sealer),
		Games:   games,
		Custody: custody.NewSelector(ledger, custody.NewPromotionalLedger(ledger)),
		Commits: fairness.NewCommitter(64),
		Events:  hub,
		Audit:   auditSvc,
	})
	t.Cleanup(m.Close)

	players := &playerSet{}
	h := handlers.NewHandler(m, games, players, auditSvc, service.NewAdminService(nil, ledger, auditSvc))
	health := handlers.NewHealthHandler("test", map[string]handlers.Pinger{
		"db": func(context.Context) error { return nil },
	})

	r := gin.New()
	httpapi.RegisterRoutes(r, h, health, hub, httpapi.Options{AdminToken: adminToken})
	return &env{router: r, ledger: ledger, audit: audit, players: players}
}

func (e *env) token(t *testing.T, player string) string {
	t.Helper()
	tok, err := service.GenerateJWT(player)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func diceRequest(stake uint64) round.PlaceRequest {
	return round.PlaceRequest{
		Game:       domain.GameDice,
		Stake:      stake,
		ClientSeed: "seed",
		Params:     domain.GameParams{Threshold: 50, Direction: "under"},
	}
}

func TestDiceRoundOverHTTP(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Grant(context.Background(), "bob", 1000)
	require.NoError(t, err)
	tok := e.token(t, "bob")

	w := e.do(t, http.MethodPost, "/api/v1/rounds", tok, diceRequest(100))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Round](t, w)
	assert.Equal(t, domain.StatusCreated, created.Status)
	assert.NotEmpty(t, created.ServerSeedHash)
	assert.NotContains(t, w.Body.String(), "server_seed\"")

	path := "/api/v1/rounds/" + itoa(created.Nonce)

	w = e.do(t, http.MethodGet, path+"/reveal", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, path+"/resolve", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "resolve before lock")

	w = e.do(t, http.MethodPost, path+"/lock", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(900), e.ledger.Balance("bob"))

	w = e.do(t, http.MethodPost, path+"/resolve", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolved := decode[domain.Round](t, w)
	assert.Equal(t, domain.StatusResolved, resolved.Status)
	assert.Equal(t, 900+resolved.Payout, e.ledger.Balance("bob"))

	w = e.do(t, http.MethodGet, path+"/reveal", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rev := decode[domain.Reveal](t, w)
	assert.Equal(t, created.ServerSeedHash, rev.ServerSeedHash)
	assert.NotEmpty(t, rev.Formula)

	w = e.do(t, http.MethodGet, path+"/verify", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[round.VerifyResult](t, w).Match)

	w = e.do(t, http.MethodGet, "/api/v1/history?limit=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[domain.HistoryPage](t, w)
	require.Len(t, page.Rounds, 1)
	assert.Equal(t, created.Nonce, page.Rounds[0].Nonce)

	assert.Contains(t, e.audit.actions("bob"), domain.AuditActionRoundResolved)
}

func TestPlaceWithLockAndSteps(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Grant(context.Background(), "bob", 1000)
	require.NoError(t, err)
	tok := e.token(t, "bob")

	req := round.PlaceRequest{
		Game:   domain.GamePlinko,
		Stake:  100,
		Params: domain.GameParams{Rows: 8, Difficulty: "low", Balls: 2},
	}
	w := e.do(t, http.MethodPost, "/api/v1/rounds?lock=true", tok, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	r := decode[domain.Round](t, w)
	assert.Equal(t, domain.StatusLocked, r.Status)
	assert.Len(t, r.ClientSeed, 32, "missing client seed is generated")

	path := "/api/v1/rounds/" + itoa(r.Nonce)

	w = e.do(t, http.MethodGet, "/api/v1/rounds/active", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Rounds []domain.Round }](t, w).Rounds, 1)

	w = e.do(t, http.MethodPost, path+"/actions", tok, game.Action{Type: game.ActionDrop})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.StatusInPlay, decode[domain.Round](t, w).Status)

	w = e.do(t, http.MethodPost, path+"/actions", tok, game.Action{Type: game.ActionOpenCell})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, path+"/actions", tok, game.Action{Type: game.ActionDrop})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	final := decode[domain.Round](t, w)
	assert.Equal(t, domain.StatusResolved, final.Status, "last ball resolves the round")
	assert.Len(t, final.Outcome.Bins, 2)

	w = e.do(t, http.MethodGet, "/api/v1/rounds/active", tok, nil)
	assert.Empty(t, decode[struct{ Rounds []domain.Round }](t, w).Rounds)
}

func TestErrorStatuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.Grant(ctx, "bob", 1000)
	require.NoError(t, err)
	_, err = e.ledger.Grant(ctx, "dave", 10)
	require.NoError(t, err)
	bob, dave := e.token(t, "bob"), e.token(t, "dave")

	w := e.do(t, http.MethodPost, "/api/v1/rounds", bob, diceRequest(100))
	require.Equal(t, http.StatusCreated, w.Code)
	path := "/api/v1/rounds/" + itoa(decode[domain.Round](t, w).Nonce)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   domain.Code
	}{
		{"no token", http.MethodGet, path, "", nil, http.StatusUnauthorized, ""},
		{"unknown round", http.MethodGet, "/api/v1/rounds/999999", bob, nil, http.StatusNotFound, domain.CodeNotFound},
		{"bad nonce", http.MethodGet, "/api/v1/rounds/abc", bob, nil, http.StatusBadRequest, domain.CodeValidation},
		{"other player", http.MethodGet, path, dave, nil, http.StatusForbidden, domain.CodeValidation},
		{"zero stake", http.MethodPost, "/api/v1/rounds", bob, diceRequest(0), http.StatusBadRequest, domain.CodeValidation},
		{"no custody backend", http.MethodPost, "/api/v1/rounds", e.token(t, "carol"), diceRequest(10), http.StatusBadRequest, domain.CodeValidation},
		{"insufficient funds", http.MethodPost, "/api/v1/rounds?lock=true", dave, diceRequest(100), http.StatusPaymentRequired, domain.CodeInsufficientFunds},
		{"unknown game", http.MethodGet, "/api/v1/games/poker/info", "", nil, http.StatusBadRequest, domain.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				var body struct {
					Code  domain.Code `json:"code"`
					Error any         `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				if body.Code == "" {
					// a placed round that failed to lock nests the error next to the round
					var nested struct {
						Error handlers.ErrorResponse `json:"error"`
					}
					require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nested))
					body.Code = nested.Error.Code
				}
				assert.Equal(t, tt.code, body.Code)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrRoundNotFound, http.StatusNotFound},
		{domain.ErrNotPlayer, http.StatusForbidden},
		{domain.Validationf("bad"), http.StatusBadRequest},
		{domain.ErrNotLocked, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
		{domain.NewError(domain.CodeCustodyRejected, "rejected"), http.StatusBadGateway},
		{domain.NewError(domain.CodeConfirmationFailed, "timeout"), http.StatusGatewayTimeout},
		{domain.ErrSeedUnavailable, http.StatusUnprocessableEntity},
		{domain.ErrRoundExpired, http.StatusGone},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, handlers.StatusFor(tt.err), tt.err.Error())
	}
}

func TestWalletLogin(t *testing.T) {
	e := newEnv(t)
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	player := key.PublicKey().String()

	w := e.do(t, http.MethodGet, "/api/v1/auth/challenge?player="+player, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	challenge := decode[struct {
		IssuedAt int64  `json:"issued_at"`
		Message  string `json:"message"`
	}](t, w)
	sig, err := key.Sign([]byte(challenge.Message))
	require.NoError(t, err)

	w = e.do(t, http.MethodPost, "/api/v1/auth", "", handlers.AuthRequest{
		Player:    player,
		IssuedAt:  challenge.IssuedAt,
		Signature: sig.String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[struct {
		Token  string `json:"token"`
		Player string `json:"player"`
	}](t, w)
	assert.Equal(t, player, login.Player)
	assert.True(t, e.players.seen[player])
	assert.Contains(t, e.audit.actions(player), domain.AuditActionLogin)

	w = e.do(t, http.MethodGet, "/api/v1/rounds/active", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth", "", handlers.AuthRequest{
		Player:    player,
		IssuedAt:  challenge.IssuedAt + 1,
		Signature: sig.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGameInfo(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/games/dice/info?threshold=50&direction=under", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[handlers.GameInfoResponse](t, w)
	assert.Equal(t, uint32(9900), info.RTPBps)
	assert.Equal(t, "99", info.RTP)
	assert.Equal(t, uint64(1), info.MinStake)
	assert.NotEmpty(t, info.Formula)
	assert.NotZero(t, info.MaxMultiplierBps)

	w = e.do(t, http.MethodGet, "/api/v1/games/dice/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[handlers.GameInfoResponse](t, w).Formula, "no formula without valid params")

	w = e.do(t, http.MethodGet, "/api/v1/games/coinflip/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint32(300), decode[handlers.GameInfoResponse](t, w).FeeBps)

	w = e.do(t, http.MethodGet, "/api/v1/games", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Games []map[string]any }](t, w).Games, len(domain.AllGames))
}

func TestAdminGrantPromo(t *testing.T) {
	e := newEnv(t)
	body := handlers.GrantPromoRequest{Player: "erin", Amount: 500}

	req := func(token string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/promo", &buf)
		r.Header.Set("X-Admin-Token", token)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusForbidden, req("wrong").Code)
	assert.Zero(t, e.ledger.Balance("erin"))

	w := req(adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(500), e.ledger.Balance("erin"))

	body.Amount = 0
	assert.Equal(t, http.StatusBadRequest, req(adminToken).Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	down := errors.New("connection refused")
	h := handlers.NewHealthHandler("v1", map[string]handlers.Pinger{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return down },
	})
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/readyz", h.Readiness)
	r.GET("/healthz", h.Liveness)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)

	w := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[handlers.HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Checks["db"])
	assert.Contains(t, resp.Checks["redis"], "connection refused")
}

func itoa(n uint64) string { return strconv.FormatUint(n, 10) }
