package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plangov/pkg/logging"
)

// Manager coordinates evaluation workers over a deduplicating work queue.
//
// It manages:
//   - The work queue and worker pool
//   - Retry with exponential backoff, bounded by MaxRetries
//   - Per-identity reconciliation status tracking
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	// evaluator runs the actual reconciliation state machine
	evaluator Evaluator

	// queue is the work queue of pending identities
	queue *delayedQueue

	// statusTracker tracks reconciliation status per identity
	statusTracker map[string]*ReconcileStatus

	// metrics may be nil
	metrics *Metrics

	// ctx is the manager's context
	ctx context.Context

	// cancelFunc cancels the manager's context
	cancelFunc context.CancelFunc

	// wg tracks running workers
	wg sync.WaitGroup

	// running indicates if the manager is active
	running bool
}

// NewManager creates a reconciliation manager over the given evaluator.
func NewManager(evaluator Evaluator, metrics *Metrics, config ManagerConfig) *Manager {
	if config.WorkerCount == 0 {
		config.WorkerCount = 2
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.EvaluateTimeout == 0 {
		config.EvaluateTimeout = 30 * time.Second
	}

	return &Manager{
		config:        config,
		evaluator:     evaluator,
		queue:         newDelayedQueue(),
		statusTracker: make(map[string]*ReconcileStatus),
		metrics:       metrics,
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	logging.Info("ReconcileManager", "Started with %d workers", m.config.WorkerCount)
	return nil
}

// Stop gracefully shuts down the manager.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	logging.Info("ReconcileManager", "Stopping...")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.queue.Shutdown()
	m.wg.Wait()

	logging.Info("ReconcileManager", "Stopped")
	return nil
}

// TriggerEvaluate enqueues a single identity for evaluation.
func (m *Manager) TriggerEvaluate(identity string) {
	m.updateStatus(identity, StatePending, "", "")
	m.queue.Add(ReconcileRequest{Identity: identity, Attempt: 1})
	m.metrics.SetQueueDepth(m.queue.Len())
}

// TriggerEvaluateAll enqueues every known identity.
func (m *Manager) TriggerEvaluateAll(ctx context.Context) (int, error) {
	identities, err := m.evaluator.Identities(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerating identities: %w", err)
	}
	for _, identity := range identities {
		m.TriggerEvaluate(identity)
	}
	return len(identities), nil
}

// worker processes requests from the queue until shutdown.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug("ReconcileManager", "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug("ReconcileManager", "Worker %d shutting down", id)
			return
		}

		m.processRequest(req)
		m.queue.Done(req)
		m.metrics.SetQueueDepth(m.queue.Len())
	}
}

// processRequest runs one evaluation with a timeout so a hung gateway call
// cannot block the worker.
func (m *Manager) processRequest(req ReconcileRequest) {
	m.updateStatus(req.Identity, StateReconciling, "", "")

	logging.Debug("ReconcileManager", "Evaluating %s (attempt %d)", req.Identity, req.Attempt)

	ctx, cancel := context.WithTimeout(m.ctx, m.config.EvaluateTimeout)
	defer cancel()

	ev, err := m.evaluator.Evaluate(ctx, req.Identity)
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("evaluation timed out after %v", m.config.EvaluateTimeout)
	}

	if err != nil {
		m.handleError(req, err)
		return
	}

	m.handleSuccess(req, ev)
}

// handleError requeues a failed evaluation with exponential backoff, up to
// the retry bound.
func (m *Manager) handleError(req ReconcileRequest, err error) {
	logging.Warn("ReconcileManager", "Evaluation failed for %s: %v", req.Identity, err)

	if req.Attempt >= m.config.MaxRetries {
		logging.Error("ReconcileManager", err, "Max retries exceeded for %s", req.Identity)
		m.updateStatus(req.Identity, StateFailed, "", err.Error())
		return
	}

	m.updateStatus(req.Identity, StateError, "", err.Error())

	backoff := m.calculateBackoff(req.Attempt)
	req.Attempt++
	req.LastError = err
	m.queue.AddAfter(req, backoff)

	logging.Debug("ReconcileManager", "Requeuing %s after %v (attempt %d)",
		req.Identity, backoff, req.Attempt)
}

func (m *Manager) handleSuccess(req ReconcileRequest, ev Evaluation) {
	logging.Debug("ReconcileManager", "Evaluated %s: %s", req.Identity, ev.Outcome)
	m.updateStatus(req.Identity, StateSynced, ev.Outcome, "")
}

// calculateBackoff computes exponential backoff capped at the maximum.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > m.config.MaxBackoff {
		backoff = m.config.MaxBackoff
	}
	return backoff
}

// updateStatus updates the tracked status of one identity.
func (m *Manager) updateStatus(identity string, state ReconcileState, outcome Outcome, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statusTracker[identity]
	if !ok {
		status = &ReconcileStatus{Identity: identity}
		m.statusTracker[identity] = status
	}

	status.State = state
	status.LastError = errMsg
	if outcome != "" {
		status.Outcome = outcome
	}

	switch state {
	case StateSynced:
		now := time.Now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StateError:
		status.RetryCount++
	}
}

// GetStatus returns the reconciliation status for an identity.
func (m *Manager) GetStatus(identity string) (*ReconcileStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statusTracker[identity]
	if !ok {
		return nil, false
	}
	copied := *status
	return &copied, true
}

// GetAllStatuses returns all tracked reconciliation statuses.
func (m *Manager) GetAllStatuses() []ReconcileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ReconcileStatus, 0, len(m.statusTracker))
	for _, status := range m.statusTracker {
		statuses = append(statuses, *status)
	}
	return statuses
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// GetQueueLength returns the current queue length.
func (m *Manager) GetQueueLength() int {
	return m.queue.Len()
}
