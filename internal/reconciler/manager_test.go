package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator counts evaluations and fails identities on demand.
type fakeEvaluator struct {
	mu         sync.Mutex
	calls      map[string]int
	failUntil  map[string]int
	identities []string
}

func newFakeEvaluator(identities ...string) *fakeEvaluator {
	return &fakeEvaluator{
		calls:      make(map[string]int),
		failUntil:  make(map[string]int),
		identities: identities,
	}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, identity string) (Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[identity]++
	if f.calls[identity] <= f.failUntil[identity] {
		return Evaluation{Identity: identity}, errors.New("transient failure")
	}
	return Evaluation{Identity: identity, Outcome: OutcomeCompliant}, nil
}

func (f *fakeEvaluator) Identities(ctx context.Context) ([]string, error) {
	return f.identities, nil
}

func (f *fakeEvaluator) callCount(identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[identity]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestManager(t *testing.T, evaluator Evaluator, config ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(evaluator, nil, config)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestManagerProcessesTriggeredIdentity(t *testing.T) {
	evaluator := newFakeEvaluator()
	m := newTestManager(t, evaluator, ManagerConfig{WorkerCount: 1})

	m.TriggerEvaluate("plan-a")

	waitFor(t, time.Second, func() bool {
		status, ok := m.GetStatus("plan-a")
		return ok && status.State == StateSynced
	})

	status, ok := m.GetStatus("plan-a")
	require.True(t, ok)
	assert.Equal(t, OutcomeCompliant, status.Outcome)
	assert.NotNil(t, status.LastReconcileTime)
	assert.Equal(t, 1, evaluator.callCount("plan-a"))
}

func TestManagerRetriesWithBackoff(t *testing.T) {
	evaluator := newFakeEvaluator()
	evaluator.failUntil["plan-a"] = 2

	m := newTestManager(t, evaluator, ManagerConfig{
		WorkerCount:    1,
		MaxRetries:     5,
		InitialBackoff: 5 * time.Millisecond,
	})

	m.TriggerEvaluate("plan-a")

	waitFor(t, 2*time.Second, func() bool {
		status, ok := m.GetStatus("plan-a")
		return ok && status.State == StateSynced
	})

	assert.Equal(t, 3, evaluator.callCount("plan-a"))
}

func TestManagerGivesUpAfterMaxRetries(t *testing.T) {
	evaluator := newFakeEvaluator()
	evaluator.failUntil["plan-a"] = 100

	m := newTestManager(t, evaluator, ManagerConfig{
		WorkerCount:    1,
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
	})

	m.TriggerEvaluate("plan-a")

	waitFor(t, 2*time.Second, func() bool {
		status, ok := m.GetStatus("plan-a")
		return ok && status.State == StateFailed
	})

	assert.Equal(t, 3, evaluator.callCount("plan-a"))

	status, _ := m.GetStatus("plan-a")
	assert.Contains(t, status.LastError, "transient failure")
}

func TestManagerTriggerEvaluateAll(t *testing.T) {
	evaluator := newFakeEvaluator("plan-a", "plan-b", "plan-c")
	m := newTestManager(t, evaluator, ManagerConfig{WorkerCount: 2})

	count, err := m.TriggerEvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	waitFor(t, time.Second, func() bool {
		return len(m.GetAllStatuses()) == 3 &&
			evaluator.callCount("plan-a") == 1 &&
			evaluator.callCount("plan-b") == 1 &&
			evaluator.callCount("plan-c") == 1
	})
}

func TestManagerStartIsIdempotent(t *testing.T) {
	evaluator := newFakeEvaluator()
	m := newTestManager(t, evaluator, ManagerConfig{WorkerCount: 1})

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
}

func TestManagerStop(t *testing.T) {
	evaluator := newFakeEvaluator()
	m := NewManager(evaluator, nil, ManagerConfig{WorkerCount: 2})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())

	// Stopping twice is safe.
	require.NoError(t, m.Stop())
}

func TestManagerBackoffCapped(t *testing.T) {
	m := NewManager(newFakeEvaluator(), nil, ManagerConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	})

	assert.Equal(t, time.Second, m.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, m.calculateBackoff(2))
	assert.Equal(t, 8*time.Second, m.calculateBackoff(4))
	assert.Equal(t, 10*time.Second, m.calculateBackoff(8))
}
