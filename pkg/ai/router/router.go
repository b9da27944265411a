// Package router implements the AI Provider Manager: given an
// AIRequest and SelectionCriteria, it picks a (provider, model), enforces
// rate/budget limits, calls the provider, tracks outcomes, and fails over
// automatically across registered providers.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	aimodel "github.com/workflowdev/workflowd/pkg/ai/model"
	"github.com/workflowdev/workflowd/pkg/ai/providers"
	"github.com/workflowdev/workflowd/pkg/metrics"
)

// strategyTimeout enforces the per-strategy execution budget: speed requests
// get a tight budget, everything else gets the generous default.
func strategyTimeout(strategy aimodel.Strategy) time.Duration {
	if strategy == aimodel.StrategySpeed {
		return 5 * time.Second
	}
	return 30 * time.Second
}

// Registration declares a provider's operating policy at registration time.
type Registration struct {
	Provider providers.Provider
	Priority int // lower value = tried first under the fallback strategy
	Enabled bool
	RPM int
	TPM int
	DailyBudget float64
}

type providerState struct {
	reg Registration
	breaker *gobreaker.CircuitBreaker
	sem *semaphore.Weighted

	mu sync.RWMutex
	enabled bool
	health aimodel.Health
}

func (s *providerState) currentHealth() aimodel.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *providerState) setHealth(h aimodel.Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *providerState) isEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// breakerHealth derives a provider's operating status from its circuit
// breaker state, realizing the closed/open/half-open machine as
// healthy/down/degraded.
func (s *providerState) breakerHealth() aimodel.HealthStatus {
	switch s.breaker.State() {
	case gobreaker.StateClosed:
		return aimodel.HealthHealthy
	case gobreaker.StateHalfOpen:
		return aimodel.HealthDegraded
	default:
		return aimodel.HealthDown
	}
}

// Manager is the AI Provider Manager / Router.
type Manager struct {
	logger *logrus.Logger
	limiter *Limiter

	mu sync.RWMutex
	providers map[string]*providerState
	modelCache map[string][]aimodel.ModelDescriptor

	cooldown time.Duration
	cronJob *cron.Cron
}

// New builds a Manager. limiter may be constructed with a nil redis client
// for process-local-only enforcement (see NewLimiter).
func New(limiter *Limiter, logger *logrus.Logger) *Manager {
	return &Manager{
		logger: logger,
		limiter: limiter,
		providers: make(map[string]*providerState),
		modelCache: make(map[string][]aimodel.ModelDescriptor),
		cooldown: 30 * time.Second,
	}
}

// Register adds a provider under admin control (providers
// are registered at startup and mutated only through admin operations).
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	models, err := reg.Provider.ListModels(ctx)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeAIProvider, "failed to list models for provider %s", reg.Provider.ID())
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: reg.Provider.ID(),
		MaxRequests: 1,
		Interval: time.Minute,
		Timeout: m.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	rpm := reg.RPM
	if rpm <= 0 {
		rpm = 60
	}

	state := &providerState{
		reg: reg,
		breaker: breaker,
		sem: semaphore.NewWeighted(int64(rpm)),
		enabled: reg.Enabled,
		health: aimodel.Health{Status: aimodel.HealthHealthy, CheckedAt: time.Now()},
	}

	m.mu.Lock()
	m.providers[reg.Provider.ID()] = state
	m.modelCache[reg.Provider.ID()] = models
	m.mu.Unlock()
	return nil
}

// SetEnabled toggles a provider's availability without unregistering it.
func (m *Manager) SetEnabled(providerID string, enabled bool) {
	m.mu.RLock()
	state, ok := m.providers[providerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.enabled = enabled
	state.mu.Unlock()
}

// ListModels aggregates ListModels across every registered provider
// (GET /ai/models).
func (m *Manager) ListModels() []aimodel.ModelDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aimodel.ModelDescriptor
	for _, models := range m.modelCache {
		out = append(out, models...)
	}
	return out
}

// Health reports the current snapshot for every registered provider
// (GET /ai/health).
func (m *Manager) Health() map[string]aimodel.Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]aimodel.Health, len(m.providers))
	for id, s := range m.providers {
		h := s.currentHealth()
		if h.Status == aimodel.HealthHealthy && s.breakerHealth() != aimodel.HealthHealthy {
			h.Status = s.breakerHealth()
		}
		out[id] = h
	}
	return out
}

// AllProvidersFailed is returned when every failover attempt in a Process
// call is exhausted.
type AllProvidersFailed struct {
	Attempts []error
}

func (e *AllProvidersFailed) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers failed"
	}
	return fmt.Sprintf("all providers failed, last error: %v", e.Attempts[len(e.Attempts)-1])
}

func (e *AllProvidersFailed) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// Process selects a (provider, model) per criteria, calls it, and fails over
// across distinct providers on retryable errors until the chain is
// exhausted.
func (m *Manager) Process(ctx context.Context, req aimodel.Request, criteria aimodel.SelectionCriteria) (*aimodel.Response, error) {
	excluded := make(map[string]bool)
	var attempts []error

	for len(excluded) < m.providerCount() {
		cand, err := m.selectExcluding(req, criteria, excluded)
		if err != nil {
			if len(attempts) > 0 {
				return nil, &AllProvidersFailed{Attempts: attempts}
			}
			return nil, err
		}

		providerID := cand.model.ProviderID
		state := m.providerState(providerID)
		if state == nil {
			excluded[providerID] = true
			continue
		}

		if !m.preCallCheck(ctx, state, req, cand.model.ModelID) {
			excluded[providerID] = true
			continue
		}

		resp, callErr := m.callProvider(ctx, state, req, criteria, cand.model.ModelID)
		if callErr == nil {
			return resp, nil
		}

		attempts = append(attempts, callErr)
		metrics.AIFailoversTotal.WithLabelValues(providerID, classifyFailure(callErr)).Inc()
		var aiErr *providers.AIError
		if aserrors(callErr, &aiErr) && !aiErr.Kind.Retryable() {
			return nil, apperrors.Wrap(callErr, apperrors.ErrorTypeValidation, "AI provider rejected request")
		}
		excluded[providerID] = true
	}

	return nil, &AllProvidersFailed{Attempts: attempts}
}

// classifyFailure renders a coarse, low-cardinality reason label for
// AIFailoversTotal without leaking raw error text into a metric label.
func classifyFailure(err error) string {
	var aiErr *providers.AIError
	if aserrors(err, &aiErr) {
		return string(aiErr.Kind)
	}
	return "unknown"
}

func aserrors(err error, target **providers.AIError) bool {
	for err != nil {
		if e, ok := err.(*providers.AIError); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (m *Manager) providerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

func (m *Manager) providerState(id string) *providerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[id]
}

// preCallCheck enforces the per-minute request count
// count and daily budget. A failing check marks the provider excluded for
// this request's re-selection, without mutating global enabled state.
func (m *Manager) preCallCheck(ctx context.Context, state *providerState, req aimodel.Request, modelID string) bool {
	if !state.isEnabled() {
		return false
	}
	if !m.limiter.AllowRequest(ctx, state.reg.Provider.ID(), state.reg.RPM) {
		return false
	}
	if state.reg.DailyBudget > 0 {
		cost, _ := state.reg.Provider.EstimateCost(ctx, req, modelID)
		if !m.limiter.ReserveBudget(ctx, state.reg.Provider.ID(), cost, state.reg.DailyBudget) {
			return false
		}
	}
	return true
}

// callProvider executes Process through the provider's circuit breaker and
// bounded-concurrency semaphore, and updates its health snapshot from the
// outcome.
func (m *Manager) callProvider(ctx context.Context, state *providerState, req aimodel.Request, criteria aimodel.SelectionCriteria, modelID string) (*aimodel.Response, error) {
	providerID := state.reg.Provider.ID()
	start := time.Now()
	if err := state.sem.Acquire(ctx, 1); err != nil {
		metrics.AIRequestsTotal.WithLabelValues(providerID, modelID, "rate_limited").Inc()
		return nil, providers.NewAIError(providers.ErrRateLimited, "provider concurrency budget exhausted", err)
	}
	defer state.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, strategyTimeout(criteria.Strategy))
	defer cancel()

	result, err := state.breaker.Execute(func() (interface{}, error) {
		return state.reg.Provider.Process(callCtx, req, modelID)
	})
	metrics.AIRequestDurationSeconds.WithLabelValues(providerID, modelID).Observe(time.Since(start).Seconds())
	if err != nil {
		m.recordFailure(state, err)
		metrics.AIRequestsTotal.WithLabelValues(providerID, modelID, "error").Inc()
		if err == gobreaker.ErrOpenState {
			return nil, providers.NewAIError(providers.ErrUnavailable, "circuit open for provider "+providerID, err)
		}
		return nil, err
	}

	resp := result.(*aimodel.Response)
	m.limiter.ReserveTokens(ctx, providerID, resp.TokensInput+resp.TokensOutput, state.reg.TPM)
	state.setHealth(aimodel.Health{Status: aimodel.HealthHealthy, LatencySampleMS: resp.LatencyMS, CheckedAt: time.Now()})
	metrics.AIRequestsTotal.WithLabelValues(providerID, modelID, "success").Inc()
	if cost, err := state.reg.Provider.EstimateCost(ctx, req, modelID); err == nil {
		metrics.AICostEstimateTotal.WithLabelValues(providerID).Add(cost)
	}
	return resp, nil
}

func (m *Manager) recordFailure(state *providerState, err error) {
	m.logger.WithFields(logrus.Fields{"provider": state.reg.Provider.ID(), "error": err}).Warn("ai provider call failed")
	state.setHealth(aimodel.Health{Status: aimodel.HealthDegraded, CheckedAt: time.Now()})
}

// selectExcluding runs the full selection algorithm, skipping any provider already marked excluded by an earlier
// failover attempt within the same Process call.
func (m *Manager) selectExcluding(req aimodel.Request, criteria aimodel.SelectionCriteria, excluded map[string]bool) (candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// effectiveHealth combines the latest health snapshot (probe or call
	// outcome) with the breaker state; the worse of the two wins.
	effectiveHealth := func(s *providerState) aimodel.HealthStatus {
		breaker := s.breakerHealth()
		snapshot := s.currentHealth().Status
		if breaker == aimodel.HealthDown || snapshot == aimodel.HealthHealthy {
			return breaker
		}
		return snapshot
	}

	var cands []candidate
	anyHealthy := false
	for id, state := range m.providers {
		if excluded[id] || !state.isEnabled() {
			continue
		}
		if effectiveHealth(state) == aimodel.HealthHealthy {
			anyHealthy = true
		}
	}

	for id, state := range m.providers {
		if excluded[id] || !state.isEnabled() {
			continue
		}
		health := effectiveHealth(state)
		if health == aimodel.HealthDown {
			continue
		}
		if anyHealthy && health != aimodel.HealthHealthy {
			continue
		}
		for _, md := range m.modelCache[id] {
			if !md.HasCapability(capabilityForTask(criteria.TaskType)) && criteria.Strategy != aimodel.StrategyFallback {
				continue
			}
			if criteria.MinQuality != nil && md.QualityRank > *criteria.MinQuality {
				continue
			}
			if criteria.MaxCost != nil {
				blended := md.CostPerInputUnit + md.CostPerOutputUnit
				if blended > *criteria.MaxCost {
					continue
				}
			}
			cands = append(cands, candidate{model: md, providerPriority: state.reg.Priority})
		}
	}

	if len(cands) == 0 {
		if criteria.MaxCost != nil {
			return candidate{}, apperrors.NewValidationError("no candidate model satisfies the requested max_cost")
		}
		return candidate{}, apperrors.New(apperrors.ErrorTypeAIProvider, "no healthy provider available").WithDetails("AllProvidersFailed")
	}

	if criteria.Strategy == aimodel.StrategyFallback {
		sortByPriorityThenQuality(cands)
		return cands[0], nil
	}

	ranked := rank(criteria.Strategy, cands, criteria.TaskType, criteria.PreferProvider)
	return ranked[0], nil
}

func sortByPriorityThenQuality(cands []candidate) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0; j-- {
			a, b := cands[j-1], cands[j]
			swap := a.providerPriority > b.providerPriority ||
				(a.providerPriority == b.providerPriority && a.model.QualityRank > b.model.QualityRank)
			if !swap {
				break
			}
			cands[j-1], cands[j] = cands[j], cands[j-1]
		}
	}
}

// StartHealthProbe schedules a background HealthCheck of every registered
// provider at the given cadence, with a floor of 5 minutes
// ("minimum every 5 minutes"). Snapshots taken here are the source of truth
// for selection between calls.
func (m *Manager) StartHealthProbe(cadence time.Duration) error {
	if cadence < 5*time.Minute {
		cadence = 5 * time.Minute
	}
	m.cronJob = cron.New()
	spec := fmt.Sprintf("@every %s", cadence)
	_, err := m.cronJob.AddFunc(spec, m.probeAll)
	if err != nil {
		return err
	}
	m.cronJob.Start()
	return nil
}

// StopHealthProbe stops the background cadence started by StartHealthProbe.
func (m *Manager) StopHealthProbe() {
	if m.cronJob != nil {
		m.cronJob.Stop()
	}
}

func (m *Manager) probeAll() {
	m.mu.RLock()
	snapshot := make(map[string]*providerState, len(m.providers))
	for id, s := range m.providers {
		snapshot[id] = s
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for id, state := range snapshot {
		h, err := state.reg.Provider.HealthCheck(ctx)
		if err != nil {
			m.logger.WithError(err).WithField("provider", id).Warn("ai provider health probe failed")
			h = aimodel.Health{Status: aimodel.HealthDown, CheckedAt: time.Now()}
		}
		state.setHealth(h)
		metrics.AIProviderHealth.WithLabelValues(id).Set(metrics.ProviderHealthValue(h.Status == aimodel.HealthHealthy, h.Status == aimodel.HealthDegraded))
	}
}
