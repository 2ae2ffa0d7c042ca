package round

import (
	"context"
	"sync"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
	"fairwager/internal/metrics"
	"fairwager/internal/repository"
)

// MirrorPolicy decides how in-play progress reaches durable storage. Status
// transitions are always written synchronously; only per-step progress and the
// session cache go through the mirror.
type MirrorPolicy string

const (
	// MirrorBestEffort writes asynchronously; failures are logged and counted
	MirrorBestEffort MirrorPolicy = "best_effort"
	// MirrorOff keeps progress in memory until the next transition
	MirrorOff MirrorPolicy = "off"
)

const (
	mirrorQueue   = 1024
	mirrorTimeout = 5 * time.Second
)

type mirrorJob struct {
	round   *domain.Round
	toStore bool
}

type mirror struct {
	policy  MirrorPolicy
	store   repository.RoundStore
	session SessionMirror

	mu     sync.RWMutex
	closed bool
	jobs   chan mirrorJob
	wg     sync.WaitGroup
}

func newMirror(policy MirrorPolicy, store repository.RoundStore, session SessionMirror) *mirror {
	mr := &mirror{policy: policy, store: store, session: session}
	if policy == MirrorOff {
		return mr
	}
	mr.jobs = make(chan mirrorJob, mirrorQueue)
	mr.wg.Add(1)
	go mr.loop()
	return mr
}

// push mirrors an in-play snapshot to the store and the session cache
func (mr *mirror) push(r *domain.Round) {
	mr.enqueue(mirrorJob{round: r, toStore: true})
}

// pushSession refreshes only the session cache after a synchronous write
func (mr *mirror) pushSession(r *domain.Round) {
	if mr.session == nil {
		return
	}
	mr.enqueue(mirrorJob{round: r})
}

func (mr *mirror) enqueue(job mirrorJob) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if mr.jobs == nil || mr.closed {
		return
	}
	select {
	case mr.jobs <- job:
	default:
		metrics.MirrorFailures.WithLabelValues("queue").Inc()
		logger.ForRound(job.round.Nonce, string(job.round.Kind)).Warn("mirror queue full, snapshot dropped", "version", job.round.Version)
	}
}

func (mr *mirror) loop() {
	defer mr.wg.Done()
	for job := range mr.jobs {
		mr.write(job)
	}
}

func (mr *mirror) write(job mirrorJob) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	log := logger.ForRound(job.round.Nonce, string(job.round.Kind))

	if job.toStore {
		if err := mr.store.SaveRound(ctx, job.round); err != nil {
			metrics.MirrorFailures.WithLabelValues("store").Inc()
			log.Warn("progress mirror to store failed", "version", job.round.Version, "error", err)
		}
	}
	if mr.session != nil {
		if err := mr.session.Put(ctx, job.round); err != nil {
			metrics.MirrorFailures.WithLabelValues("session").Inc()
			log.Warn("progress mirror to session cache failed", "version", job.round.Version, "error", err)
		}
	}
}

// close drains queued snapshots
func (mr *mirror) close() {
	mr.mu.Lock()
	if mr.closed || mr.jobs == nil {
		mr.closed = true
		mr.mu.Unlock()
		return
	}
	mr.closed = true
	close(mr.jobs)
	mr.mu.Unlock()
	mr.wg.Wait()
}
