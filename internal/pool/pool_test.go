package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/conduit/internal/model"
)

type stubExecutor struct {
	connects   atomic.Int32
	closes     atomic.Int32
	connectErr error
	block      chan struct{} // when set, Invoke blocks until closed

	mu        sync.Mutex
	invokeErr error
}

func (s *stubExecutor) failInvokesWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeErr = err
}

func (s *stubExecutor) Connect(_ context.Context, _ *model.ServiceDefinition, _ map[string]string) (Conn, error) {
	s.connects.Add(1)
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &stubConn{exec: s}, nil
}

type stubConn struct {
	exec *stubExecutor
}

func (c *stubConn) Invoke(ctx context.Context, action string, params map[string]any) (*InvocationResult, error) {
	if c.exec.block != nil {
		select {
		case <-c.exec.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.exec.mu.Lock()
	invokeErr := c.exec.invokeErr
	c.exec.mu.Unlock()
	if invokeErr != nil {
		return nil, invokeErr
	}
	return &InvocationResult{
		Data:   map[string]any{"action": action},
		Status: "success",
	}, nil
}

func (c *stubConn) Close() error {
	c.exec.closes.Add(1)
	return nil
}

func testDefinition(key string) *model.ServiceDefinition {
	return &model.ServiceDefinition{
		ServiceKey: key,
		Name:       key,
		Invocation: model.InvocationTemplate{Command: "connector-" + key},
	}
}

func newTestPool(exec ActionExecutor, opts Options) *ExecutionPool {
	return New(exec, opts, zerolog.Nop())
}

func TestExecute_ReusesUnitForSamePair(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})
	def := testDefinition("stripe")

	for i := 0; i < 3; i++ {
		res, err := p.Execute(context.Background(), "user-1", def, nil, "create_charge", nil)
		require.NoError(t, err)
		assert.Equal(t, "success", res.Status)
	}

	assert.Equal(t, int32(1), exec.connects.Load())
	require.Equal(t, 1, p.Size())

	snaps := p.Units()
	require.Len(t, snaps, 1)
	assert.Equal(t, "user-1", snaps[0].UserID)
	assert.Equal(t, "stripe", snaps[0].ServiceKey)
	assert.Equal(t, StatusIdle, snaps[0].Status)
	assert.Equal(t, int64(3), snaps[0].TotalRequests)
}

func TestExecute_ConcurrentCallsShareOneUnit(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})
	def := testDefinition("github")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Execute(context.Background(), "user-1", def, nil, "list_repos", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), exec.connects.Load(), "concurrent calls for one pair must not race duplicate units")
	assert.Equal(t, 1, p.Size())
}

func TestExecute_DistinctPairsGetDistinctUnits(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})

	_, err := p.Execute(context.Background(), "user-1", testDefinition("stripe"), nil, "a", nil)
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "user-2", testDefinition("stripe"), nil, "a", nil)
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "user-1", testDefinition("github"), nil, "a", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(3), exec.connects.Load())
	assert.Equal(t, 3, p.Size())
}

func TestExecute_ConnectFailureRemovesUnit(t *testing.T) {
	exec := &stubExecutor{connectErr: errors.New("spawn failed")}
	p := newTestPool(exec, Options{})
	def := testDefinition("stripe")

	_, err := p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")
	assert.Equal(t, 0, p.Size(), "failed unit must not linger in the pool")

	// Next call retries from scratch.
	exec.connectErr = nil
	_, err = p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.connects.Load())
}

func TestExecute_InvokeFailurePoisonsUnit(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})
	def := testDefinition("stripe")

	exec.failInvokesWith(errors.New("upstream exploded"))
	_, err := p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.Error(t, err)
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, int32(1), exec.closes.Load(), "poisoned unit must close its session")

	exec.failInvokesWith(nil)
	_, err = p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.connects.Load(), "errored unit is replaced, never reused")
}

func TestExecute_SweptUnitIsNotReused(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})
	def := testDefinition("stripe")

	_, err := p.Execute(context.Background(), "user-1", def, nil, "create_charge", nil)
	require.NoError(t, err)

	// Look the idle unit up the way a second call does, then terminate it
	// the way the sweep does before that call dispatches.
	unit, created := p.acquire(UnitKey{UserID: "user-1", ServiceKey: "stripe"})
	require.False(t, created)
	p.terminate(unit, "idle_timeout")

	conn, attached := unit.beginRequest()
	assert.False(t, attached, "a terminated unit must refuse new requests")
	assert.Nil(t, conn)

	// The stranded caller starts over and lands on a fresh unit.
	res, err := p.Execute(context.Background(), "user-1", def, nil, "create_charge", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, int32(2), exec.connects.Load())
	assert.Equal(t, 1, p.Size())
}

func TestSweep_TerminatesExpiredIdleUnits(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{IdleTimeout: time.Minute})
	def := testDefinition("stripe")

	_, err := p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.Size())

	// Still within the idle window.
	assert.Equal(t, 0, p.Sweep(time.Now().Add(30*time.Second)))
	assert.Equal(t, 1, p.Size())

	// Past it.
	assert.Equal(t, 1, p.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, int32(1), exec.closes.Load())

	// The next call for the pair allocates a fresh unit.
	_, err = p.Execute(context.Background(), "user-1", def, nil, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.connects.Load())
}

func TestSweep_SkipsUnitsWithInFlightRequests(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	p := newTestPool(exec, Options{IdleTimeout: time.Minute})
	def := testDefinition("stripe")

	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), "user-1", def, nil, "a", nil)
		done <- err
	}()

	// Wait until the request is in flight.
	require.Eventually(t, func() bool {
		snaps := p.Units()
		return len(snaps) == 1 && snaps[0].PendingRequests == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, p.Sweep(time.Now().Add(time.Hour)), "busy units are never swept")
	assert.Equal(t, 1, p.Size())

	close(exec.block)
	require.NoError(t, <-done)
}

func TestCapacity_EvictsOldestIdleForUser(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{MaxUnitsPerUser: 2, MaxTotalUnits: 100})

	_, err := p.Execute(context.Background(), "user-1", testDefinition("svc-a"), nil, "a", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = p.Execute(context.Background(), "user-1", testDefinition("svc-b"), nil, "a", nil)
	require.NoError(t, err)

	// Third service for the same user evicts the least recently used unit.
	_, err = p.Execute(context.Background(), "user-1", testDefinition("svc-c"), nil, "a", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Size())
	keys := make(map[string]bool)
	for _, s := range p.Units() {
		keys[s.ServiceKey] = true
	}
	assert.False(t, keys["svc-a"], "oldest idle unit should have been evicted")
	assert.True(t, keys["svc-b"])
	assert.True(t, keys["svc-c"])
}

func TestCapacity_OvershootsWhenNothingIdle(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	p := newTestPool(exec, Options{MaxUnitsPerUser: 1, MaxTotalUnits: 100})

	done := make(chan error, 2)
	go func() {
		_, err := p.Execute(context.Background(), "user-1", testDefinition("svc-a"), nil, "a", nil)
		done <- err
	}()
	require.Eventually(t, func() bool {
		snaps := p.Units()
		return len(snaps) == 1 && snaps[0].PendingRequests == 1
	}, 2*time.Second, 5*time.Millisecond)

	// svc-a is busy, so the ceiling cannot evict it; svc-b still gets a unit.
	go func() {
		_, err := p.Execute(context.Background(), "user-1", testDefinition("svc-b"), nil, "a", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Size() == 2 }, 2*time.Second, 5*time.Millisecond)

	close(exec.block)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestExecute_TimeoutCancelsInvocation(t *testing.T) {
	exec := &stubExecutor{block: make(chan struct{})}
	defer close(exec.block)
	p := newTestPool(exec, Options{ExecutionTimeout: 50 * time.Millisecond})

	_, err := p.Execute(context.Background(), "user-1", testDefinition("slow"), nil, "a", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_ClosesEverything(t *testing.T) {
	exec := &stubExecutor{}
	p := newTestPool(exec, Options{})

	_, err := p.Execute(context.Background(), "user-1", testDefinition("svc-a"), nil, "a", nil)
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "user-2", testDefinition("svc-b"), nil, "a", nil)
	require.NoError(t, err)

	p.Shutdown()
	assert.Equal(t, 0, p.Size())
	assert.Equal(t, int32(2), exec.closes.Load())
}

func TestSimulatedExecutor(t *testing.T) {
	exec := &SimulatedExecutor{}
	conn, err := exec.Connect(context.Background(), testDefinition("stripe"), map[string]string{"api_key": "sk_test"})
	require.NoError(t, err)
	defer conn.Close()

	res, err := conn.Invoke(context.Background(), "create_charge", map[string]any{"amount": 100})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["simulated"])
	assert.Equal(t, "create_charge", data["action"])
}
