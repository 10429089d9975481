// Package health runs liveness probes for the player and its backing
// services and serves them over HTTP.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nanoplay/internal/logger"
)

// Status of one check or of the whole process.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Check is the latest result of one checker.
type Check struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"-"`
	DurationMS  float64                `json:"duration_ms"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Checker probes one dependency. A nil error is healthy, a DegradedError
// is degraded and anything else is down.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// DetailedChecker attaches details to its result.
type DetailedChecker interface {
	Checker
	Details() map[string]interface{}
}

// DegradedError marks a dependency that works but not fully, such as a
// paused stream or a slow registry.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

// Degraded returns a DegradedError.
func Degraded(reason string) error {
	return &DegradedError{Reason: reason}
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncChecker creates a checker named name that runs fn.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (f *FuncChecker) Name() string                    { return f.name }
func (f *FuncChecker) Check(ctx context.Context) error { return f.fn(ctx) }

// Manager runs the registered checkers and keeps their latest results.
type Manager struct {
	logger       logger.Logger
	checkTimeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
	results  map[string]*Check
}

// NewManager creates an empty manager.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Manager{
		logger:       logger.WithComponent(log, "health"),
		checkTimeout: 5 * time.Second,
		results:      make(map[string]*Check),
	}
}

// Register adds a checker. It runs from the next RunChecks on.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
	m.logger.WithField("checker", checker.Name()).Debug("Registered health checker")
}

// RunChecks runs every checker concurrently, each under its own timeout,
// and returns the fresh results.
func (m *Manager) RunChecks(ctx context.Context) map[string]*Check {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	checks := make([]*Check, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		i, c := i, c
		g.Go(func() error {
			checks[i] = m.runOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]*Check, len(checks))
	m.mu.Lock()
	for _, check := range checks {
		results[check.Name] = check
		m.results[check.Name] = check
	}
	m.mu.Unlock()
	return results
}

func (m *Manager) runOne(ctx context.Context, c Checker) *Check {
	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(checkCtx)
	elapsed := time.Since(start)

	check := &Check{
		Name:        c.Name(),
		Status:      StatusOK,
		LastChecked: start.Add(elapsed),
		Duration:    elapsed,
		DurationMS:  float64(elapsed.Microseconds()) / 1000,
	}
	if dc, ok := c.(DetailedChecker); ok {
		check.Details = dc.Details()
	}

	log := m.logger.WithField("checker", check.Name)
	var degraded *DegradedError
	switch {
	case err == nil:
		return check
	case errors.As(err, &degraded):
		check.Status, check.Message = StatusDegraded, degraded.Reason
		log.WithField("reason", degraded.Reason).Warn("Health check degraded")
	case errors.Is(err, context.DeadlineExceeded):
		check.Status, check.Message = StatusDown, "Health check timed out"
		log.WithField("timeout", m.checkTimeout).Error("Health check timed out")
	default:
		check.Status, check.Message = StatusDown, err.Error()
		log.WithError(err).Error("Health check failed")
	}
	return check
}

// GetResults returns copies of the latest results.
func (m *Manager) GetResults() map[string]*Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]*Check, len(m.results))
	for name, check := range m.results {
		c := *check
		results[name] = &c
	}
	return results
}

// GetOverallStatus is the worst latest status. Before the first run the
// process is down, so readiness waits for one full round.
func (m *Manager) GetOverallStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.results) == 0 {
		return StatusDown
	}
	worst := StatusOK
	for _, check := range m.results {
		if check.Status.rank() > worst.rank() {
			worst = check.Status
		}
	}
	return worst
}

// StartPeriodicChecks runs the checks now and then every interval until
// ctx is done.
func (m *Manager) StartPeriodicChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.RunChecks(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			m.logger.Debug("Stopping periodic health checks")
			return
		}
	}
}
