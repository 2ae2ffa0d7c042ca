package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
	"fairwager/internal/metrics"
)

const (
	shardCount  = 32
	mailboxSize = 16
	callRetries = 3
)

var errRetired = errors.New("round actor retired")

type op func(a *actor, ctx context.Context) (*domain.Round, error)

type result struct {
	round *domain.Round
	err   error
}

type message struct {
	ctx   context.Context
	op    op
	reply chan result
}

// actor owns one round. Only its goroutine reads or writes round.
type actor struct {
	m          *Manager
	player     string // immutable, readable from any goroutine
	round      *domain.Round
	lastActive time.Time
	log        *slog.Logger

	mailbox chan message // nil for a detached actor over a final round
	quit    chan struct{}
	stopped chan struct{}
}

func newActor(m *Manager, r *domain.Round) *actor {
	last := r.UpdatedAt
	if last.IsZero() {
		last = m.now()
	}
	return &actor{
		m:          m,
		player:     r.Player,
		round:      r,
		lastActive: last,
		log:        logger.ForRound(r.Nonce, string(r.Kind)),
	}
}

// detached wraps a final round; operations run inline and cannot mutate it
func detached(m *Manager, r *domain.Round) *actor {
	return newActor(m, r)
}

func (a *actor) start() {
	a.mailbox = make(chan message, mailboxSize)
	a.quit = make(chan struct{})
	a.stopped = make(chan struct{})
	metrics.ActiveRounds.Inc()
	go a.run()
}

func (a *actor) run() {
	defer func() {
		a.m.arena.remove(a)
		metrics.ActiveRounds.Dec()
		close(a.stopped)
	}()
	for {
		select {
		case msg := <-a.mailbox:
			r, err := a.exec(msg)
			msg.reply <- result{r, err}
			if a.round.Status.Final() && len(a.mailbox) == 0 {
				return
			}
		case <-a.quit:
			return
		}
	}
}

func (a *actor) exec(msg message) (r *domain.Round, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(msg.ctx), a.m.cfg.OpTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			a.log.Error("round operation panicked", "panic", p)
			r, err = nil, domain.WrapError(domain.CodeInternal, "internal error", fmt.Errorf("panic: %v", p))
		}
	}()
	return msg.op(a, ctx)
}

// do runs op on the actor's goroutine and waits for the result.
// Cancelling ctx stops the wait, not an operation already started.
func (a *actor) do(ctx context.Context, fn op) (*domain.Round, error) {
	if a.mailbox == nil {
		return a.exec(message{ctx: ctx, op: fn})
	}
	reply := make(chan result, 1)
	select {
	case a.mailbox <- message{ctx: ctx, op: fn, reply: reply}:
	case <-a.stopped:
		return nil, errRetired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.round, res.err
	case <-a.stopped:
		select {
		case res := <-reply:
			return res.round, res.err
		default:
			return nil, errRetired
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call routes op to the round's actor, loading the round when it is not live
func (m *Manager) call(ctx context.Context, nonce uint64, player string, fn op) (*domain.Round, error) {
	owned := func(a *actor, ctx context.Context) (*domain.Round, error) {
		if player != "" && a.round.Player != player {
			return nil, domain.ErrNotPlayer
		}
		return fn(a, ctx)
	}
	for i := 0; i < callRetries; i++ {
		a, err := m.actorFor(ctx, nonce)
		if err != nil {
			return nil, err
		}
		r, err := a.do(ctx, owned)
		if errors.Is(err, errRetired) {
			continue
		}
		return public(r), err
	}
	return nil, domain.NewError(domain.CodeInternal, "round is busy, retry")
}

func (m *Manager) actorFor(ctx context.Context, nonce uint64) (*actor, error) {
	if a := m.arena.get(nonce); a != nil {
		return a, nil
	}
	r, err := m.store.GetRound(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if r.Status.Final() {
		return detached(m, r), nil
	}
	if err := checkSeed(r); err != nil {
		m.failClosed(ctx, r)
		return detached(m, r), nil
	}
	return m.arena.spawn(m, r), nil
}

type shard struct {
	mu     sync.Mutex
	actors map[uint64]*actor
}

// arena maps nonces to live actors
type arena struct {
	shards [shardCount]shard
}

func newArena() *arena {
	ar := &arena{}
	for i := range ar.shards {
		ar.shards[i].actors = make(map[uint64]*actor)
	}
	return ar
}

func (ar *arena) shard(nonce uint64) *shard {
	return &ar.shards[nonce%shardCount]
}

func (ar *arena) get(nonce uint64) *actor {
	s := ar.shard(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actors[nonce]
}

// spawn starts an actor for r unless one is already live for its nonce
func (ar *arena) spawn(m *Manager, r *domain.Round) *actor {
	s := ar.shard(r.Nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[r.Nonce]; ok {
		return a
	}
	a := newActor(m, r)
	s.actors[r.Nonce] = a
	a.start()
	return a
}

func (ar *arena) remove(a *actor) {
	s := ar.shard(a.round.Nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors[a.round.Nonce] == a {
		delete(s.actors, a.round.Nonce)
	}
}

func (ar *arena) all() []*actor {
	var out []*actor
	for i := range ar.shards {
		s := &ar.shards[i]
		s.mu.Lock()
		for _, a := range s.actors {
			out = append(out, a)
		}
		s.mu.Unlock()
	}
	return out
}

// ownedBy returns the live actors of one player
func (ar *arena) ownedBy(player string) []*actor {
	var out []*actor
	for i := range ar.shards {
		s := &ar.shards[i]
		s.mu.Lock()
		for _, a := range s.actors {
			if a.player == player {
				out = append(out, a)
			}
		}
		s.mu.Unlock()
	}
	return out
}

func (ar *arena) stopAll() {
	for _, a := range ar.all() {
		close(a.quit)
		<-a.stopped
	}
}
