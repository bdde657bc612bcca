package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/edvin/conduit/internal/model"
)

// UnitStatus is the lifecycle state of a pooled execution unit.
type UnitStatus string

const (
	StatusStarting   UnitStatus = "starting"
	StatusRunning    UnitStatus = "running"
	StatusIdle       UnitStatus = "idle"
	StatusError      UnitStatus = "error"
	StatusTerminated UnitStatus = "terminated"
)

// UnitKey identifies a pooled unit: one live unit per (user, service) pair.
type UnitKey struct {
	UserID     string
	ServiceKey string
}

// Unit is a reusable execution handle for one (user, service) pair. It owns
// the connector session and the decrypted credentials for its lifetime; a
// terminated or errored unit is never reused.
type Unit struct {
	Key UnitKey

	mu              sync.Mutex
	status          UnitStatus
	startedAt       time.Time
	lastActivityAt  time.Time
	idleTimeout     time.Duration
	pendingRequests int
	totalRequests   int64

	// ready is closed once Connect finishes; connErr holds its outcome.
	ready   chan struct{}
	connErr error
	conn    Conn
}

// Snapshot is a read-only view of a unit for introspection endpoints.
type Snapshot struct {
	UserID          string     `json:"user_id"`
	ServiceKey      string     `json:"service_key"`
	Status          UnitStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	PendingRequests int        `json:"pending_requests"`
	TotalRequests   int64      `json:"total_requests"`
}

func (u *Unit) snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Snapshot{
		UserID:          u.Key.UserID,
		ServiceKey:      u.Key.ServiceKey,
		Status:          u.status,
		StartedAt:       u.startedAt,
		LastActivityAt:  u.lastActivityAt,
		PendingRequests: u.pendingRequests,
		TotalRequests:   u.totalRequests,
	}
}

// reusable reports whether a request may attach to this unit.
func (u *Unit) reusable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.status {
	case StatusStarting, StatusRunning, StatusIdle:
		return true
	}
	return false
}

// beginRequest attaches a request to the unit and hands back its connector
// session. It fails when the unit was errored or terminated after lookup;
// the caller must acquire a fresh unit instead of reusing this one.
func (u *Unit) beginRequest() (Conn, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status != StatusIdle && u.status != StatusRunning {
		return nil, false
	}
	u.pendingRequests++
	u.totalRequests++
	u.lastActivityAt = time.Now()
	u.status = StatusRunning
	return u.conn, true
}

func (u *Unit) endRequest() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pendingRequests--
	u.lastActivityAt = time.Now()
	if u.pendingRequests <= 0 && u.status == StatusRunning {
		u.status = StatusIdle
	}
}

func (u *Unit) markError() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = StatusError
}

// idleExpired reports whether the sweep may terminate this unit.
func (u *Unit) idleExpired(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status == StatusIdle && u.pendingRequests == 0 &&
		now.Sub(u.lastActivityAt) > u.idleTimeout
}

// Options tune the pool's capacity and lifecycle behavior.
type Options struct {
	MaxUnitsPerUser  int
	MaxTotalUnits    int
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	ExecutionTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxUnitsPerUser <= 0 {
		out.MaxUnitsPerUser = 10
	}
	if out.MaxTotalUnits <= 0 {
		out.MaxTotalUnits = 100
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 5 * time.Minute
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = time.Minute
	}
	if out.ExecutionTimeout <= 0 {
		out.ExecutionTimeout = 30 * time.Second
	}
	return out
}

// unitStore abstracts the pool's backing state so the eviction and capacity
// algorithms are independent of where units live. The in-memory store
// serves single-instance deployments; a shared store with ownership leases
// can replace it without touching the algorithms.
type unitStore interface {
	get(key UnitKey) (*Unit, bool)
	put(key UnitKey, u *Unit)
	remove(key UnitKey)
	size() int
	each(fn func(*Unit))
}

type memoryStore struct {
	mu    sync.RWMutex
	units map[UnitKey]*Unit
}

func newMemoryStore() *memoryStore {
	return &memoryStore{units: make(map[UnitKey]*Unit)}
}

func (s *memoryStore) get(key UnitKey) (*Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[key]
	return u, ok
}

func (s *memoryStore) put(key UnitKey, u *Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[key] = u
}

func (s *memoryStore) remove(key UnitKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, key)
}

func (s *memoryStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func (s *memoryStore) each(fn func(*Unit)) {
	s.mu.RLock()
	snapshot := make([]*Unit, 0, len(s.units))
	for _, u := range s.units {
		snapshot = append(snapshot, u)
	}
	s.mu.RUnlock()
	for _, u := range snapshot {
		fn(u)
	}
}

// ExecutionPool maintains at most one live unit per (user, service) pair,
// enforces per-user and global capacity by evicting idle units, and
// dispatches invocations through the unit's connector session.
type ExecutionPool struct {
	opts     Options
	executor ActionExecutor
	logger   zerolog.Logger

	// mu serializes lookup-or-create so two concurrent calls for the same
	// pair can never race a duplicate unit into the store.
	mu    sync.Mutex
	store unitStore

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker[*InvocationResult]
}

func New(executor ActionExecutor, opts Options, logger zerolog.Logger) *ExecutionPool {
	return &ExecutionPool{
		opts:     opts.withDefaults(),
		executor: executor,
		logger:   logger,
		store:    newMemoryStore(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*InvocationResult]),
	}
}

// Result is what Execute hands back to the router, including the timing
// breakdown the usage log wants.
type Result struct {
	Data              any
	Status            string
	PoolAcquisitionMs int64
	ExternalCallMs    int64
}

// Execute acquires (or creates) the unit for the pair and dispatches the
// action through it. Execution failures poison the unit: it is removed and
// the next call for the pair starts fresh.
func (p *ExecutionPool) Execute(ctx context.Context, userID string, def *model.ServiceDefinition, credentials map[string]string, action string, params map[string]any) (*Result, error) {
	acquireStart := time.Now()

	key := UnitKey{UserID: userID, ServiceKey: def.ServiceKey}
	var unit *Unit
	var conn Conn
	for {
		var created bool
		unit, created = p.acquire(key)
		if created {
			go p.connect(unit, def, credentials)
		}

		// Wait for the connector session; whoever created the unit may
		// still be connecting.
		select {
		case <-unit.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if unit.connErr != nil {
			p.terminate(unit, "connect_failed")
			return nil, fmt.Errorf("connect unit %s: %w", unitLabel(userID, def.ServiceKey), unit.connErr)
		}

		// The sweep or a failing concurrent call may have terminated the
		// unit between lookup and attach; such a unit is never reused.
		var attached bool
		if conn, attached = unit.beginRequest(); attached {
			break
		}
	}
	defer unit.endRequest()

	acquisitionMs := time.Since(acquireStart).Milliseconds()

	execCtx, cancel := context.WithTimeout(ctx, p.opts.ExecutionTimeout)
	defer cancel()

	callStart := time.Now()
	result, err := p.breaker(def.ServiceKey).Execute(func() (*InvocationResult, error) {
		return conn.Invoke(execCtx, action, params)
	})
	callMs := time.Since(callStart).Milliseconds()

	if err != nil {
		unit.markError()
		p.terminate(unit, "execution_error")
		return nil, fmt.Errorf("invoke %s on %s: %w", action, unitLabel(userID, def.ServiceKey), err)
	}

	return &Result{
		Data:              result.Data,
		Status:            result.Status,
		PoolAcquisitionMs: acquisitionMs,
		ExternalCallMs:    callMs,
	}, nil
}

// acquire returns the live unit for key, creating one when none is
// reusable. The bool reports whether this call created the unit and
// therefore owns connecting it.
func (p *ExecutionPool) acquire(key UnitKey) (*Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.store.get(key); ok {
		if existing.reusable() {
			return existing, false
		}
		// Errored or terminated leftovers are replaced, never reused.
		p.store.remove(key)
	}

	p.makeRoomLocked(key.UserID)

	now := time.Now()
	unit := &Unit{
		Key:            key,
		status:         StatusStarting,
		startedAt:      now,
		lastActivityAt: now,
		idleTimeout:    p.opts.IdleTimeout,
		ready:          make(chan struct{}),
	}
	p.store.put(key, unit)
	unitsLive.Set(float64(p.store.size()))
	return unit, true
}

func (p *ExecutionPool) connect(unit *Unit, def *model.ServiceDefinition, credentials map[string]string) {
	conn, err := p.executor.Connect(context.Background(), def, credentials)
	unit.mu.Lock()
	if err != nil {
		unit.connErr = err
		unit.status = StatusError
	} else {
		unit.conn = conn
		// Parked at idle until a request attaches; a waiter whose context
		// died while connecting leaves the unit sweepable instead of
		// stranded.
		unit.status = StatusIdle
	}
	unit.mu.Unlock()
	close(unit.ready)
}

// makeRoomLocked applies the per-user and global ceilings before a new unit
// is created. Ceilings are soft: when nothing idle can be evicted, creation
// proceeds over the limit and the overshoot is counted.
func (p *ExecutionPool) makeRoomLocked(userID string) {
	userCount := 0
	p.store.each(func(u *Unit) {
		if u.Key.UserID == userID {
			userCount++
		}
	})
	if userCount >= p.opts.MaxUnitsPerUser {
		if !p.evictOldestIdleLocked(func(u *Unit) bool { return u.Key.UserID == userID }, "capacity_user") {
			overshootTotal.Inc()
		}
	}
	if p.store.size() >= p.opts.MaxTotalUnits {
		if !p.evictOldestIdleLocked(func(*Unit) bool { return true }, "capacity_global") {
			overshootTotal.Inc()
		}
	}
}

func (p *ExecutionPool) evictOldestIdleLocked(match func(*Unit) bool, reason string) bool {
	var oldest *Unit
	var oldestActivity time.Time
	p.store.each(func(u *Unit) {
		if !match(u) {
			return
		}
		u.mu.Lock()
		isIdle := u.status == StatusIdle && u.pendingRequests == 0
		activity := u.lastActivityAt
		u.mu.Unlock()
		if !isIdle {
			return
		}
		if oldest == nil || activity.Before(oldestActivity) {
			oldest = u
			oldestActivity = activity
		}
	})
	if oldest == nil {
		return false
	}
	p.terminateLocked(oldest, reason)
	return true
}

func (p *ExecutionPool) terminate(unit *Unit, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateLocked(unit, reason)
}

func (p *ExecutionPool) terminateLocked(unit *Unit, reason string) {
	unit.mu.Lock()
	alreadyGone := unit.status == StatusTerminated
	unit.status = StatusTerminated
	conn := unit.conn
	unit.conn = nil
	unit.mu.Unlock()

	if alreadyGone {
		return
	}

	p.store.remove(unit.Key)
	unitsLive.Set(float64(p.store.size()))
	terminationsTotal.WithLabelValues(reason).Inc()

	if conn != nil {
		if err := conn.Close(); err != nil {
			p.logger.Warn().Err(err).
				Str("user_id", unit.Key.UserID).
				Str("service_key", unit.Key.ServiceKey).
				Msg("failed to close connector session")
		}
	}

	p.logger.Debug().
		Str("user_id", unit.Key.UserID).
		Str("service_key", unit.Key.ServiceKey).
		Str("termination_reason", reason).
		Msg("pooled unit terminated")
}

// Sweep terminates idle units whose inactivity exceeds their idle timeout.
// Units with in-flight requests are never touched.
func (p *ExecutionPool) Sweep(now time.Time) int {
	var expired []*Unit
	p.store.each(func(u *Unit) {
		if u.idleExpired(now) {
			expired = append(expired, u)
		}
	})
	for _, u := range expired {
		p.terminate(u, "idle_timeout")
	}
	return len(expired)
}

// Run drives the idle sweep until ctx is cancelled, then closes every
// remaining unit.
func (p *ExecutionPool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			if n := p.Sweep(now); n > 0 {
				p.logger.Info().Int("terminated", n).Msg("idle sweep")
			}
		}
	}
}

// Shutdown terminates every unit in the pool.
func (p *ExecutionPool) Shutdown() {
	var all []*Unit
	p.store.each(func(u *Unit) { all = append(all, u) })
	for _, u := range all {
		p.terminate(u, "shutdown")
	}
}

// Units returns snapshots of all live units, for introspection.
func (p *ExecutionPool) Units() []Snapshot {
	var snaps []Snapshot
	p.store.each(func(u *Unit) { snaps = append(snaps, u.snapshot()) })
	return snaps
}

// Size returns the number of live units.
func (p *ExecutionPool) Size() int {
	return p.store.size()
}

func (p *ExecutionPool) breaker(serviceKey string) *gobreaker.CircuitBreaker[*InvocationResult] {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()

	if cb, ok := p.breakers[serviceKey]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*InvocationResult](gobreaker.Settings{
		Name:    "executor-" + serviceKey,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("executor circuit breaker state change")
		},
	})
	p.breakers[serviceKey] = cb
	return cb
}
