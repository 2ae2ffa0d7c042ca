// Package round runs the lifecycle of every wager. Each live round is owned by
// one actor goroutine; operations are messages processed in order against the
// round's current state and events are emitted as a side effect of transitions.
package round

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fairwager/internal/custody"
	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"
	"fairwager/internal/logger"
	"fairwager/internal/repository"
)

const (
	maxClientSeedLen = 64
	insertAttempts   = 5
)

type Config struct {
	MinStake uint64
	MaxStake uint64

	RoundTTL      time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// OpTimeout bounds a single operation, custody confirmation included
	OpTimeout time.Duration

	RTPBps         map[domain.GameKind]uint32
	CoinflipFeeBps uint32

	Mirror MirrorPolicy
}

func (c *Config) defaults() {
	if c.RoundTTL <= 0 {
		c.RoundTTL = 10 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = time.Minute
	}
	if c.Mirror == "" {
		c.Mirror = MirrorBestEffort
	}
}

// EventSink receives events for delivery to the owning player. Publish must not block.
type EventSink interface {
	Publish(e domain.Event)
}

// Auditor records every round transition
type Auditor interface {
	LogRound(ctx context.Context, r *domain.Round, action string, details map[string]interface{})
}

// SessionMirror keeps a fast copy of active rounds for reconnecting clients
type SessionMirror interface {
	Put(ctx context.Context, r *domain.Round) error
}

type Deps struct {
	Store   repository.RoundStore
	Games   *game.Registry
	Custody *custody.Selector
	Commits *fairness.Committer

	// optional
	Events  EventSink
	Audit   Auditor
	Session SessionMirror
	Now     func() time.Time
}

type Manager struct {
	cfg     Config
	store   repository.RoundStore
	games   *game.Registry
	custody *custody.Selector
	commits *fairness.Committer
	events  EventSink
	audit   Auditor
	session SessionMirror
	now     func() time.Time

	arena     *arena
	nonce     atomic.Uint64
	mirror    *mirror
	closeOnce sync.Once
}

func NewManager(cfg Config, deps Deps) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:     cfg,
		store:   deps.Store,
		games:   deps.Games,
		custody: deps.Custody,
		commits: deps.Commits,
		events:  deps.Events,
		audit:   deps.Audit,
		session: deps.Session,
		now:     deps.Now,
		arena:   newArena(),
	}
	if m.events == nil {
		m.events = NopSink{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.mirror = newMirror(cfg.Mirror, m.store, m.session)
	return m
}

// Close stops every actor and flushes pending mirror writes
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.arena.stopAll()
		m.mirror.close()
	})
}

// Limits returns the accepted stake range; a zero max means unbounded
func (m *Manager) Limits() (minStake, maxStake uint64) {
	return m.cfg.MinStake, m.cfg.MaxStake
}

// RTPFor returns the return-to-player applied to new rounds of kind
func (m *Manager) RTPFor(kind domain.GameKind) uint32 {
	if kind == domain.GameCoinflip {
		return 0
	}
	return m.cfg.RTPBps[kind]
}

// FeeFor returns the house fee applied to new rounds of kind
func (m *Manager) FeeFor(kind domain.GameKind) uint32 {
	if kind == domain.GameCoinflip {
		return m.cfg.CoinflipFeeBps
	}
	return 0
}

// PlaceRequest opens a round
type PlaceRequest struct {
	Player     string            `json:"-"`
	Game       domain.GameKind   `json:"game"`
	Stake      uint64            `json:"stake"`
	ClientSeed string            `json:"client_seed"`
	Params     domain.GameParams `json:"params"`
}

// Create validates the request, commits a fresh server seed and stores the round as Created
func (m *Manager) Create(ctx context.Context, req PlaceRequest) (*domain.Round, error) {
	g, err := m.games.For(req.Game)
	if err != nil {
		return nil, err
	}
	if req.Player == "" {
		return nil, domain.Validationf("player is required")
	}
	if req.Stake < m.cfg.MinStake || (m.cfg.MaxStake > 0 && req.Stake > m.cfg.MaxStake) {
		return nil, domain.Validationf("stake must be between %d and %d", m.cfg.MinStake, m.cfg.MaxStake)
	}
	if req.ClientSeed, err = normalizeClientSeed(req.ClientSeed); err != nil {
		return nil, err
	}
	if req.Game == domain.GameCoinflip && req.Params.MatchNonce != 0 {
		if err := m.prepareJoin(ctx, &req); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(req.Params); err != nil {
		return nil, err
	}
	rtp := m.RTPFor(req.Game)
	if req.Game != domain.GameCoinflip && rtp == 0 {
		return nil, domain.NewError(domain.CodeInternal, "game has no configured return-to-player")
	}

	mode, err := m.custody.ModeFor(ctx, req.Player)
	if err != nil {
		return nil, err
	}
	commitment, err := m.commits.Create()
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "create commitment", err)
	}

	now := m.now()
	r := &domain.Round{
		Player:         req.Player,
		Kind:           req.Game,
		Mode:           mode,
		Stake:          req.Stake,
		ServerSeed:     commitment.Seed,
		ServerSeedHash: commitment.Hash,
		ClientSeed:     req.ClientSeed,
		Params:         req.Params,
		Status:         domain.StatusCreated,
		FeeBps:         m.FeeFor(req.Game),
		RTPBps:         rtp,
		Version:        1,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.RoundTTL),
		UpdatedAt:      now,
	}
	if err := m.insert(ctx, r); err != nil {
		return nil, err
	}

	m.arena.spawn(m, r)
	m.recordTransition(ctx, r)
	m.emit(r, domain.EventCommitted, domain.CommittedPayload{
		Nonce:          r.Nonce,
		Game:           r.Kind,
		ServerSeedHash: r.ServerSeedHash,
		ClientSeed:     r.ClientSeed,
		ExpiresAt:      r.ExpiresAt,
	})
	logger.ForRound(r.Nonce, string(r.Kind)).Info("round created", "player", r.Player, "mode", r.Mode, "stake", r.Stake)
	return public(r), nil
}

// public copies r without its server seed
func public(r *domain.Round) *domain.Round {
	if r == nil {
		return nil
	}
	c := r.Clone()
	c.ServerSeed = nil
	return c
}

// insert allocates the next nonce, skipping any already taken in the store
func (m *Manager) insert(ctx context.Context, r *domain.Round) error {
	for i := 0; i < insertAttempts; i++ {
		r.Nonce = m.nonce.Add(1)
		inserted, err := m.store.InsertRound(ctx, r)
		if err != nil {
			return domain.WrapError(domain.CodeInternal, "store round", err)
		}
		if inserted {
			return nil
		}
	}
	return domain.NewError(domain.CodeInternal, "could not allocate a nonce")
}

func normalizeClientSeed(seed string) (string, error) {
	if seed == "" {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return "", domain.WrapError(domain.CodeInternal, "generate client seed", err)
		}
		return hex.EncodeToString(b), nil
	}
	if len(seed) > maxClientSeedLen {
		return "", domain.Validationf("client seed must be at most %d bytes", maxClientSeedLen)
	}
	// ':' separates digest inputs
	if strings.ContainsAny(seed, ":\x00") {
		return "", domain.Validationf("client seed must not contain ':'")
	}
	return seed, nil
}

// Lock moves the stake into custody. Locking a round twice takes the stake once.
func (m *Manager) Lock(ctx context.Context, player string, nonce uint64) (*domain.Round, error) {
	return m.call(ctx, nonce, player, (*actor).lock)
}

// Place creates and locks a round in one call
func (m *Manager) Place(ctx context.Context, req PlaceRequest) (*domain.Round, error) {
	r, err := m.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	locked, err := m.Lock(ctx, req.Player, r.Nonce)
	if err != nil {
		return r, err
	}
	return locked, nil
}

// Step applies one in-play action: a Mines cell or a Plinko ball
func (m *Manager) Step(ctx context.Context, player string, nonce uint64, a game.Action) (*domain.Round, error) {
	return m.call(ctx, nonce, player, func(act *actor, ctx context.Context) (*domain.Round, error) {
		return act.step(ctx, a)
	})
}

// Resolve settles the round. A second resolve returns the stored result.
func (m *Manager) Resolve(ctx context.Context, player string, nonce uint64) (*domain.Round, error) {
	return m.call(ctx, nonce, player, (*actor).resolve)
}

// Get returns the current state of a round owned by player
func (m *Manager) Get(ctx context.Context, player string, nonce uint64) (*domain.Round, error) {
	r, err := m.snapshot(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if r.Player != player {
		return nil, domain.ErrNotPlayer
	}
	return public(r), nil
}

// Active lists the unfinished rounds of player held by this process
func (m *Manager) Active(ctx context.Context, player string) []*domain.Round {
	var out []*domain.Round
	for _, a := range m.arena.ownedBy(player) {
		r, err := a.do(ctx, func(a *actor, _ context.Context) (*domain.Round, error) {
			return a.round.Clone(), nil
		})
		if err == nil && !r.Status.Final() {
			out = append(out, public(r))
		}
	}
	return out
}

func (m *Manager) History(ctx context.Context, player, cursor string, limit int) (*domain.HistoryPage, error) {
	return m.store.History(ctx, player, cursor, limit)
}

// Reveal discloses the server seed of a resolved round
func (m *Manager) Reveal(ctx context.Context, nonce uint64) (*domain.Reveal, error) {
	r, err := m.snapshot(ctx, nonce)
	if err != nil {
		return nil, err
	}
	return m.reveal(ctx, r)
}

func (m *Manager) reveal(ctx context.Context, r *domain.Round) (*domain.Reveal, error) {
	g, err := m.games.For(r.Kind)
	if err != nil {
		return nil, err
	}
	rev, err := fairness.Reveal(r, g.Formula(r.Params, r.RTPBps, r.FeeBps))
	if err != nil {
		return nil, err
	}
	if r.Kind == domain.GameCoinflip {
		if rev.Match, err = m.matchReveal(ctx, r); err != nil {
			return nil, err
		}
	}
	return rev, nil
}

// VerifyResult compares a stored outcome with one recomputed from the reveal
type VerifyResult struct {
	Nonce      uint64          `json:"nonce"`
	Match      bool            `json:"match"`
	Stored     *domain.Outcome `json:"stored"`
	Recomputed *domain.Outcome `json:"recomputed"`
	Reveal     *domain.Reveal  `json:"reveal"`
}

// Verify recomputes a resolved round from its revealed inputs
func (m *Manager) Verify(ctx context.Context, nonce uint64) (*VerifyResult, error) {
	r, err := m.snapshot(ctx, nonce)
	if err != nil {
		return nil, err
	}
	rev, err := m.reveal(ctx, r)
	if err != nil {
		return nil, err
	}
	ok, recomputed, err := m.games.Verify(rev, r)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Nonce: nonce, Match: ok, Stored: r.Outcome, Recomputed: recomputed, Reveal: rev}, nil
}

// snapshot reads a round through its actor when live, from the store otherwise
func (m *Manager) snapshot(ctx context.Context, nonce uint64) (*domain.Round, error) {
	if a := m.arena.get(nonce); a != nil {
		r, err := a.do(ctx, func(a *actor, _ context.Context) (*domain.Round, error) {
			return a.round.Clone(), nil
		})
		if err != errRetired {
			return r, err
		}
	}
	return m.store.GetRound(ctx, nonce)
}
