// Package pipeline holds the per-shot production pipeline state and its
// transition rules. The store is the single source of truth for stage phases;
// it re-validates every patch so an invalid transition can never land, even if
// a caller slips.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

// ErrPrecondition is returned when a patch violates a stage-gating invariant.
// The patch is rejected wholesale; no fields are applied.
var ErrPrecondition = errors.New("pipeline precondition violated")

// Store maps shot IDs to their pipeline state.
type Store struct {
	mu     sync.RWMutex
	states map[uuid.UUID]models.PipelineState
}

func NewStore() *Store {
	return &Store{states: make(map[uuid.UUID]models.PipelineState)}
}

// EnsureShot installs the default state for a shot if none exists yet.
func (s *Store) EnsureShot(shotID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[shotID]; !ok {
		s.states[shotID] = models.DefaultPipelineState()
	}
}

// Load overwrites a shot's state without validation. Used when hydrating from
// the persistent store at session start, which is trusted as-is.
func (s *Store) Load(shotID uuid.UUID, state models.PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[shotID] = state
}

// Remove drops a shot's state entirely.
func (s *Store) Remove(shotID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, shotID)
}

// Lookup returns the shot's state and whether the store tracks it.
func (s *Store) Lookup(shotID uuid.UUID) (models.PipelineState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[shotID]
	return state, ok
}

// Get returns the shot's state, or the default state for unknown shots.
func (s *Store) Get(shotID uuid.UUID) models.PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[shotID]; ok {
		return state
	}
	return models.DefaultPipelineState()
}

// Apply merges a state patch into the shot's state after validating it against
// the stage-gating invariants. On violation the state is left untouched and an
// error wrapping ErrPrecondition is returned.
func (s *Store) Apply(shotID uuid.UUID, patch models.ShotPatch) (models.PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[shotID]
	if !ok {
		current = models.DefaultPipelineState()
	}

	next := merge(current, patch)
	if err := validate(next); err != nil {
		return current, err
	}

	s.states[shotID] = next
	return next, nil
}

// Reseed bulk-overwrites the whole project: the first floor(n*fraction) shots
// in sequence order become fully video-ready (not approved), the remainder
// return to the default state. This is the demo "rewind" reset.
func (s *Store) Reseed(orderedShotIDs []uuid.UUID, fraction float64) {
	numReady := int(math.Floor(float64(len(orderedShotIDs)) * fraction))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, shotID := range orderedShotIDs {
		if i < numReady {
			s.states[shotID] = models.PipelineState{
				Frames:  models.StageReady,
				Video:   models.StageReady,
				Voice:   models.StageIdle,
				Lipsync: models.StageIdle,
			}
		} else {
			s.states[shotID] = models.DefaultPipelineState()
		}
	}
}

// Snapshot returns a copy of every tracked state.
func (s *Store) Snapshot() map[uuid.UUID]models.PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]models.PipelineState, len(s.states))
	for id, state := range s.states {
		out[id] = state
	}
	return out
}

func merge(state models.PipelineState, patch models.ShotPatch) models.PipelineState {
	if patch.Frames != nil {
		state.Frames = *patch.Frames
	}
	if patch.Video != nil {
		state.Video = *patch.Video
	}
	if patch.Voice != nil {
		state.Voice = *patch.Voice
	}
	if patch.Lipsync != nil {
		state.Lipsync = *patch.Lipsync
	}
	if patch.Approved != nil {
		state.Approved = *patch.Approved
	}
	return state
}

// validate enforces the invariants on a candidate state:
//   - video past idle requires frames ready (a frames restart must reset video)
//   - lipsync past idle requires voice ready
//   - approval requires video ready
func validate(state models.PipelineState) error {
	for _, phase := range []models.StagePhase{state.Frames, state.Video, state.Voice, state.Lipsync} {
		if !phase.Valid() {
			return fmt.Errorf("%w: unknown stage phase %q", ErrPrecondition, phase)
		}
	}
	if state.Video != models.StageIdle && state.Frames != models.StageReady {
		return fmt.Errorf("%w: video is %s but frames are %s", ErrPrecondition, state.Video, state.Frames)
	}
	if state.Lipsync != models.StageIdle && state.Voice != models.StageReady {
		return fmt.Errorf("%w: lipsync is %s but voice is %s", ErrPrecondition, state.Lipsync, state.Voice)
	}
	if state.Approved && state.Video != models.StageReady {
		return fmt.Errorf("%w: cannot approve while video is %s", ErrPrecondition, state.Video)
	}
	return nil
}
