// Package circuit implements the per-integration breaker. State lives in the
// store so every replica agrees; a short-lived in-process cache keeps the hot
// path from reading the document on every event. Only infrastructure-class
// failures (5xx, 429, network errors, channel send errors) count against the
// threshold; client errors and local classification failures never trip it.
package circuit

import (
	"context"
	"sync"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/config"
	"switchyard.dev/model"
	"switchyard.dev/store"
)

// Store is the slice of the document store the breaker needs. Satisfied by
// *store.Store; tests substitute an in-memory implementation.
type Store interface {
	GetCircuit(ctx context.Context, integrationID string) (*model.CircuitState, error)
	UpdateCircuit(ctx context.Context, integrationID string, mutate func(*model.CircuitState) (bool, error)) (*model.CircuitState, error)
}

// Breaker checks and records delivery outcomes per integration.
type Breaker struct {
	store     Store
	threshold int
	cooldown  time.Duration
	cacheTTL  time.Duration
	logger    *common.ContextLogger

	mu    sync.RWMutex
	cache map[string]cachedState

	now func() time.Time
}

type cachedState struct {
	check    model.CircuitCheck
	cachedAt time.Time
}

// New builds a breaker with the configured threshold and cooldown.
func New(s Store, cfg config.CircuitConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Breaker{
		store:     s,
		threshold: threshold,
		cooldown:  cooldown,
		cacheTTL:  cacheTTL,
		logger:    common.ServiceLogger("circuit"),
		cache:     make(map[string]cachedState),
		now:       time.Now,
	}
}

// Check answers whether a delivery to the integration may proceed. An OPEN
// circuit past its cooldown moves to HALF_OPEN and grants the probe slot to
// exactly one caller (CAS on the probeInFlight flag); everyone else keeps
// seeing the circuit as open until the probe reports.
func (b *Breaker) Check(ctx context.Context, integrationID string) model.CircuitCheck {
	if check, ok := b.cachedCheck(integrationID); ok {
		return check
	}

	state, err := b.store.GetCircuit(ctx, integrationID)
	if err != nil {
		// Unreadable breaker state fails open: delivery proceeds, the result
		// is recorded when the store recovers.
		b.logger.WithError(err).WithField("integration", integrationID).Warn("circuit read failed, allowing delivery")
		return model.CircuitCheck{IsOpen: false, State: model.CircuitClosed}
	}

	switch state.State {
	case model.CircuitOpen:
		if state.CooldownUntil != nil && b.now().After(*state.CooldownUntil) {
			return b.tryClaimProbe(ctx, integrationID, state.Reason)
		}
		check := model.CircuitCheck{IsOpen: true, State: model.CircuitOpen, Reason: state.Reason}
		b.cacheCheck(integrationID, check)
		return check

	case model.CircuitHalfOpen:
		if !state.ProbeInFlight {
			return b.tryClaimProbe(ctx, integrationID, state.Reason)
		}
		// Another worker holds the probe; do not cache, the answer can flip
		// as soon as the probe reports.
		return model.CircuitCheck{IsOpen: true, State: model.CircuitHalfOpen, Reason: state.Reason}

	default:
		check := model.CircuitCheck{IsOpen: false, State: model.CircuitClosed}
		b.cacheCheck(integrationID, check)
		return check
	}
}

// RecordSuccess closes the circuit and resets the failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, integrationID string) {
	b.invalidate(integrationID)

	_, err := b.store.UpdateCircuit(ctx, integrationID, func(st *model.CircuitState) (bool, error) {
		if st.State == model.CircuitClosed && st.Failures == 0 && !st.ProbeInFlight {
			return false, nil
		}
		st.State = model.CircuitClosed
		st.Failures = 0
		st.OpenedAt = nil
		st.Reason = ""
		st.CooldownUntil = nil
		st.ProbeInFlight = false
		return true, nil
	})
	if err != nil && err != store.ErrCASAborted {
		b.logger.WithError(err).WithField("integration", integrationID).Warn("circuit success write failed")
	}
}

// RecordFailure counts an infrastructure failure. Crossing the threshold, or
// failing the HALF_OPEN probe, opens the circuit with a fresh cooldown.
// Callers gate on shouldTrip so business-logic failures never reach here.
func (b *Breaker) RecordFailure(ctx context.Context, integrationID, reason string) {
	b.invalidate(integrationID)

	state, err := b.store.UpdateCircuit(ctx, integrationID, func(st *model.CircuitState) (bool, error) {
		st.Failures++
		st.ProbeInFlight = false

		if st.State == model.CircuitHalfOpen || st.Failures >= b.threshold {
			now := b.now()
			until := now.Add(b.cooldown)
			st.State = model.CircuitOpen
			st.OpenedAt = &now
			st.Reason = reason
			st.CooldownUntil = &until
		}
		return true, nil
	})
	if err != nil {
		b.logger.WithError(err).WithField("integration", integrationID).Warn("circuit failure write failed")
		return
	}
	if state.State == model.CircuitOpen {
		b.logger.WithFields(map[string]interface{}{
			"integration": integrationID,
			"failures":    state.Failures,
			"reason":      reason,
		}).Warn("circuit opened")
	}
}

// tryClaimProbe moves the circuit to HALF_OPEN and claims the single probe
// slot. The CAS guarantees one winner; losers answer open.
func (b *Breaker) tryClaimProbe(ctx context.Context, integrationID, reason string) model.CircuitCheck {
	state, err := b.store.UpdateCircuit(ctx, integrationID, func(st *model.CircuitState) (bool, error) {
		if st.ProbeInFlight {
			return false, nil
		}
		st.State = model.CircuitHalfOpen
		st.ProbeInFlight = true
		return true, nil
	})
	if err != nil || state == nil || !state.ProbeInFlight {
		return model.CircuitCheck{IsOpen: true, State: model.CircuitHalfOpen, Reason: reason}
	}
	return model.CircuitCheck{IsOpen: false, State: model.CircuitHalfOpen, Reason: reason, Probe: true}
}

func (b *Breaker) cachedCheck(integrationID string) (model.CircuitCheck, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.cache[integrationID]
	if !ok || b.now().Sub(entry.cachedAt) > b.cacheTTL {
		return model.CircuitCheck{}, false
	}
	return entry.check, true
}

func (b *Breaker) cacheCheck(integrationID string, check model.CircuitCheck) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[integrationID] = cachedState{check: check, cachedAt: b.now()}
}

func (b *Breaker) invalidate(integrationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, integrationID)
}
