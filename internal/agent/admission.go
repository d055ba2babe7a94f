package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var admissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agent_admission_rejects_total",
	Help: "Requests rejected by the admission controller",
}, []string{"reason"})

// ErrDraining is returned while the instance is refusing new work during
// decommission.
var ErrDraining = fmt.Errorf("instance is draining")

// RejectedError is backpressure: the per-database queue is full and the
// caller should come back after the hint instead of piling on.
type RejectedError struct {
	Database   string
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("database %s over capacity, retry after %s", e.Database, e.RetryAfter)
}

// Admission bounds concurrency per logical database. The engine serializes
// writes per database, so a hard cap on simultaneous connections plus a
// bounded wait queue is the whole backpressure story: beyond the queue
// limit requests are rejected immediately rather than queued indefinitely.
type Admission struct {
	cap        int64
	queueLimit int
	retryAfter time.Duration

	mu       sync.Mutex
	sems     map[string]*semaphore.Weighted
	active   map[string]int
	waiting  map[string]int
	draining bool
}

func NewAdmission(connectionCap, queueLimit int) *Admission {
	return &Admission{
		cap:        int64(connectionCap),
		queueLimit: queueLimit,
		retryAfter: 2 * time.Second,
		sems:       make(map[string]*semaphore.Weighted),
		active:     make(map[string]int),
		waiting:    make(map[string]int),
	}
}

// Acquire admits one request for a database, blocking while the database is
// at its connection cap and queue space remains. The returned release func
// must be called exactly once.
func (a *Admission) Acquire(ctx context.Context, database string) (func(), error) {
	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		admissionRejects.WithLabelValues("draining").Inc()
		return nil, ErrDraining
	}
	sem, ok := a.sems[database]
	if !ok {
		sem = semaphore.NewWeighted(a.cap)
		a.sems[database] = sem
	}

	// Fast path: a free slot means no queueing at all.
	if sem.TryAcquire(1) {
		a.active[database]++
		a.mu.Unlock()
		return a.releaseFunc(database, sem), nil
	}

	if a.waiting[database] >= a.queueLimit {
		a.mu.Unlock()
		admissionRejects.WithLabelValues("queue_full").Inc()
		return nil, &RejectedError{Database: database, RetryAfter: a.retryAfter}
	}
	a.waiting[database]++
	a.mu.Unlock()

	err := sem.Acquire(ctx, 1)

	a.mu.Lock()
	a.waiting[database]--
	if err == nil {
		a.active[database]++
	}
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return a.releaseFunc(database, sem), nil
}

func (a *Admission) releaseFunc(database string, sem *semaphore.Weighted) func() {
	return func() {
		a.mu.Lock()
		a.active[database]--
		a.mu.Unlock()
		sem.Release(1)
	}
}

// StartDraining flips the controller into drain mode: every subsequent
// Acquire fails with ErrDraining while in-flight work finishes.
func (a *Admission) StartDraining() {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()
}

// Draining reports whether drain mode is active.
func (a *Admission) Draining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draining
}

// Active returns the total in-flight connection count across databases.
func (a *Admission) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.active {
		total += n
	}
	return total
}

// ActiveFor returns the in-flight connection count for one database.
func (a *Admission) ActiveFor(database string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[database]
}
