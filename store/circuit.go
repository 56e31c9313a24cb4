package store

import (
	"context"
	"time"

	"switchyard.dev/model"
)

// circuitDocID keys circuit documents by integration.
func circuitDocID(integrationID string) string {
	return "circuit:" + integrationID
}

// GetCircuit retrieves the breaker document for an integration. A missing
// document means the circuit has never tripped and reads as CLOSED.
func (s *Store) GetCircuit(ctx context.Context, integrationID string) (*model.CircuitState, error) {
	state, err := Get[model.CircuitState](ctx, s, CollCircuits, circuitDocID(integrationID))
	if err != nil {
		if IsNotFound(err) {
			return &model.CircuitState{
				IntegrationID: integrationID,
				State:         model.CircuitClosed,
			}, nil
		}
		return nil, err
	}
	return state, nil
}

// UpdateCircuit applies mutate to the breaker document via CAS, creating the
// document on first write. Concurrent workers race on the revision; losers
// re-read and re-evaluate, so transitions like the HALF_OPEN probe slot have
// exactly one winner.
func (s *Store) UpdateCircuit(ctx context.Context, integrationID string, mutate func(*model.CircuitState) (bool, error)) (*model.CircuitState, error) {
	id := circuitDocID(integrationID)

	// First write: the document may not exist yet.
	_, err := Get[model.CircuitState](ctx, s, CollCircuits, id)
	if IsNotFound(err) {
		fresh := &model.CircuitState{
			ID:            id,
			IntegrationID: integrationID,
			State:         model.CircuitClosed,
			UpdatedAt:     time.Now(),
		}
		apply, merr := mutate(fresh)
		if merr != nil {
			return nil, merr
		}
		if !apply {
			return nil, ErrCASAborted
		}
		resp, serr := Save(ctx, s, CollCircuits, *fresh)
		if serr == nil {
			return withRev(fresh, resp.Rev)
		}
		if !IsConflict(serr) {
			return nil, serr
		}
		// Lost the creation race; fall through to the CAS path.
	} else if err != nil {
		return nil, err
	}

	return UpdateCAS(ctx, s, CollCircuits, id, func(st *model.CircuitState) (bool, error) {
		st.IntegrationID = integrationID
		apply, merr := mutate(st)
		if merr != nil {
			return false, merr
		}
		if apply {
			st.UpdatedAt = time.Now()
		}
		return apply, nil
	})
}
