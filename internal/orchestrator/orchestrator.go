// Package orchestrator applies the stage-dependency rules of the shot
// production pipeline: it validates requested transitions, owns the simulated
// generation timers, performs optimistic local updates with fire-and-forget
// persistence, and drives the next-shot navigation side effects.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/Mishra-Manit/thelot-sub000/internal/pipeline"
	"github.com/Mishra-Manit/thelot-sub000/internal/timers"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrShotNotFound is returned when an operation names an unknown shot.
var ErrShotNotFound = errors.New("shot not found")

// Persister is the storage boundary: a best-effort, asynchronous patch write.
// Failures are logged and surfaced as events, never rolled back locally.
type Persister interface {
	PatchShot(ctx context.Context, shotID uuid.UUID, patch models.ShotPatch) error
}

// Config carries the simulated stage durations and reset behavior.
type Config struct {
	FramesDuration  time.Duration
	VideoDuration   time.Duration
	VoiceDuration   time.Duration
	LipsyncDuration time.Duration
	SeedFraction    float64
	PersistTimeout  time.Duration
}

// DefaultConfig mirrors the production demo timings: frames render in 20s,
// video takes an order of magnitude longer, voice and lip-sync are quick.
func DefaultConfig() Config {
	return Config{
		FramesDuration:  20 * time.Second,
		VideoDuration:   180 * time.Second,
		VoiceDuration:   3 * time.Second,
		LipsyncDuration: 3 * time.Second,
		SeedFraction:    0.37,
		PersistTimeout:  10 * time.Second,
	}
}

// Orchestrator coordinates the pipeline store, the timer registry, the
// persistence queue, and the event bus for one editing session.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     Config
	scenes  []models.Scene
	store   *pipeline.Store
	timers  *timers.Registry
	persist Persister
	events  *EventBus
	steps   map[uuid.UUID]models.WorkflowStep
	focused uuid.UUID
}

func New(cfg Config, store *pipeline.Store, registry *timers.Registry, persist Persister, events *EventBus) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		timers:  registry,
		persist: persist,
		events:  events,
		steps:   make(map[uuid.UUID]models.WorkflowStep),
	}
}

// SetProject replaces the in-memory scene tree. Shots the store does not
// track yet are hydrated from their persisted stage statuses; shots it
// already tracks keep their in-memory state, which is overlaid onto the
// incoming tree. Persistence is asynchronous, so a reload after structural
// CRUD must never let a stale row win over the live session.
func (o *Orchestrator) SetProject(scenes []models.Scene) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.scenes = cloneScenes(scenes)
	for si := range o.scenes {
		for hi := range o.scenes[si].Shots {
			shot := &o.scenes[si].Shots[hi]
			if state, ok := o.store.Lookup(shot.ID); ok {
				shot.Pipeline = state
			} else {
				o.store.Load(shot.ID, shot.Pipeline)
			}
		}
	}
}

// Project returns a snapshot of the scene tree with current pipeline states.
func (o *Orchestrator) Project() []models.Scene {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneScenes(o.scenes)
}

// Events exposes the bus for incremental subscriber reads.
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// Focused returns the shot currently holding UI focus (zero UUID when none).
func (o *Orchestrator) Focused() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.focused
}

// SetFocus moves UI focus to a shot and remembers it for navigation.
func (o *Orchestrator) SetFocus(shotID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.focused = shotID
}

// Step returns the workflow step a shot is focused on, defaulting to script.
func (o *Orchestrator) Step(shotID uuid.UUID) models.WorkflowStep {
	o.mu.Lock()
	defer o.mu.Unlock()
	if step, ok := o.steps[shotID]; ok {
		return step
	}
	return models.StepScript
}

// SetStep records a manual workflow-step change by the user.
func (o *Orchestrator) SetStep(shotID uuid.UUID, step models.WorkflowStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps[shotID] = step
}

// State returns the pipeline state for one shot.
func (o *Orchestrator) State(shotID uuid.UUID) models.PipelineState {
	return o.store.Get(shotID)
}

// RenderQueue returns the in-flight frames/video tasks with their completion
// fractions, for progress-pill display. Voice and lip-sync jobs are too short
// to be worth showing and are excluded.
func (o *Orchestrator) RenderQueue() []models.RenderingTaskStatus {
	now := time.Now()
	tasks := o.timers.Tasks()
	out := make([]models.RenderingTaskStatus, 0, len(tasks))
	for _, task := range tasks {
		if task.Stage != models.StageFrames && task.Stage != models.StageVideo {
			continue
		}
		out = append(out, models.RenderingTaskStatus{
			RenderingTask:      task,
			ExpectedDurationMS: task.ExpectedDuration.Milliseconds(),
			Progress:           task.Progress(now),
		})
	}
	return out
}

// GenerateFrames starts (or restarts) start-frame generation for a shot.
// Any in-flight frames or video job for the shot is superseded, and the
// dependent video stage is invalidated. Focus auto-advances to the next shot
// so the author can keep scripting while this one renders.
func (o *Orchestrator) GenerateFrames(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	shot, ok := o.findShot(shotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}

	o.timers.Cancel(shotID, models.StageFrames)
	o.timers.Cancel(shotID, models.StageVideo)

	loading := models.StageLoading
	idle := models.StageIdle
	unapproved := false
	if err := o.applyStateLocked(shotID, models.ShotPatch{Frames: &loading, Video: &idle, Approved: &unapproved}); err != nil {
		return err
	}

	o.timers.Start(shotID, shot.Number, models.StageFrames, o.cfg.FramesDuration, func(c timers.Completion) {
		o.completeStage(shotID, models.StageFrames, c)
	})

	o.advanceToNextShotLocked(shot, models.StageFrames)
	return nil
}

// GenerateVideo starts video generation. Gated on frames being ready.
func (o *Orchestrator) GenerateVideo(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	shot, ok := o.findShot(shotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	if o.store.Get(shotID).Frames != models.StageReady {
		return fmt.Errorf("%w: frames not ready for shot %d", pipeline.ErrPrecondition, shot.Number)
	}

	o.timers.Cancel(shotID, models.StageVideo)

	loading := models.StageLoading
	if err := o.applyStateLocked(shotID, models.ShotPatch{Video: &loading}); err != nil {
		return err
	}

	o.timers.Start(shotID, shot.Number, models.StageVideo, o.cfg.VideoDuration, func(c timers.Completion) {
		o.completeStage(shotID, models.StageVideo, c)
	})

	o.advanceToNextShotLocked(shot, models.StageVideo)
	return nil
}

// ApproveShot marks a shot approved. Gated on video being ready.
func (o *Orchestrator) ApproveShot(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.findShot(shotID); !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}

	approved := true
	return o.applyStateLocked(shotID, models.ShotPatch{Approved: &approved})
}

// RegenerateVideo is an explicit user-initiated re-entry into the video
// stage: the video timer is cancelled and the stage (plus approval) reset.
func (o *Orchestrator) RegenerateVideo(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.findShot(shotID); !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}

	o.timers.Cancel(shotID, models.StageVideo)

	idle := models.StageIdle
	unapproved := false
	if err := o.applyStateLocked(shotID, models.ShotPatch{Video: &idle, Approved: &unapproved}); err != nil {
		return err
	}

	o.steps[shotID] = models.StepVideo
	return nil
}

// GenerateVoice starts voiceover generation. No-op while already loading or
// ready; regeneration goes through the lip-sync reset path.
func (o *Orchestrator) GenerateVoice(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	shot, ok := o.findShot(shotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	if state := o.store.Get(shotID); state.Voice != models.StageIdle {
		return fmt.Errorf("%w: voice already %s for shot %d", pipeline.ErrPrecondition, state.Voice, shot.Number)
	}

	o.timers.Cancel(shotID, models.StageVoice)

	loading := models.StageLoading
	if err := o.applyStateLocked(shotID, models.ShotPatch{Voice: &loading}); err != nil {
		return err
	}

	o.timers.Start(shotID, shot.Number, models.StageVoice, o.cfg.VoiceDuration, func(c timers.Completion) {
		o.completeStage(shotID, models.StageVoice, c)
	})
	return nil
}

// ApplyLipsync starts lip-sync processing. Gated on voice being ready and the
// lip-sync stage being idle.
func (o *Orchestrator) ApplyLipsync(shotID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	shot, ok := o.findShot(shotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	state := o.store.Get(shotID)
	if state.Voice != models.StageReady {
		return fmt.Errorf("%w: voice not ready for shot %d", pipeline.ErrPrecondition, shot.Number)
	}
	if state.Lipsync != models.StageIdle {
		return fmt.Errorf("%w: lipsync already %s for shot %d", pipeline.ErrPrecondition, state.Lipsync, shot.Number)
	}

	o.timers.Cancel(shotID, models.StageLipsync)

	loading := models.StageLoading
	if err := o.applyStateLocked(shotID, models.ShotPatch{Lipsync: &loading}); err != nil {
		return err
	}

	o.timers.Start(shotID, shot.Number, models.StageLipsync, o.cfg.LipsyncDuration, func(c timers.Completion) {
		o.completeStage(shotID, models.StageLipsync, c)
	})
	return nil
}

// RewindAll cancels every outstanding timer and reseeds the project to the
// deterministic fixed-fraction-complete demo state. The only bulk reset.
func (o *Orchestrator) RewindAll() {
	o.mu.Lock()

	o.timers.CancelAll()

	ordered := orderedShotIDs(o.scenes)
	o.store.Reseed(ordered, o.cfg.SeedFraction)
	o.steps = make(map[uuid.UUID]models.WorkflowStep)
	o.focused = uuid.Nil

	patches := make(map[uuid.UUID]models.ShotPatch, len(ordered))
	for _, shotID := range ordered {
		state := o.store.Get(shotID)
		o.setLocalState(shotID, state)
		patches[shotID] = statePatch(state)
		o.events.Publish(Event{Type: EventTypeState, ShotID: shotID, State: &state})
	}
	o.events.Publish(Event{Type: EventTypeNotice, Message: "Rewound project to seed state"})
	o.mu.Unlock()

	// Reseed touches every shot; persist with bounded fan-out instead of one
	// detached goroutine per shot.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for shotID, patch := range patches {
			shotID, patch := shotID, patch
			g.Go(func() error {
				return o.persist.PatchShot(gctx, shotID, patch)
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("[Persist] rewind persistence incomplete: %v", err)
			o.events.Publish(Event{Type: EventTypeError, Message: fmt.Sprintf("rewind persistence incomplete: %v", err)})
		}
	}()
}

// UpdateShot applies a partial shot edit: pipeline-state fields go through the
// validated store, free-text and duration fields update the local tree, and
// the whole patch is persisted in the background. Duration is clamped.
func (o *Orchestrator) UpdateShot(shotID uuid.UUID, patch models.ShotPatch) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.findShot(shotID); !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	if patch.DurationSec != nil {
		clamped := models.ClampShotDuration(*patch.DurationSec)
		patch.DurationSec = &clamped
	}

	statePart := patch.StatePatch()
	if !statePart.IsEmpty() {
		if err := o.applyStateLocked(shotID, statePart); err != nil {
			return err
		}
		// State fields were already persisted by applyStateLocked; strip them
		// so the remainder isn't written twice.
		patch.Frames, patch.Video, patch.Voice, patch.Lipsync, patch.Approved = nil, nil, nil, nil, nil
	}
	if patch.IsEmpty() {
		return nil
	}

	o.applyFieldsLocked(shotID, patch)
	o.persistAsync(shotID, patch)
	return nil
}

// CancelShotTimers cancels every stage timer for one shot. Used when the
// shot is structurally removed from the project.
func (o *Orchestrator) CancelShotTimers(shotID uuid.UUID) {
	for _, stage := range models.Stages {
		o.timers.Cancel(shotID, stage)
	}
}

// Shutdown cancels all timers. Session teardown only; state is not flushed.
func (o *Orchestrator) Shutdown() {
	o.timers.CancelAll()
}

// completeStage is the timer completion path: mark the stage ready and run
// the workflow-step auto-advance for the affected shot.
func (o *Orchestrator) completeStage(shotID uuid.UUID, stage models.Stage, c timers.Completion) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// The timer may have been cancelled or restarted after it fired but
	// before this lock was acquired; such a completion is stale.
	if !o.timers.Acknowledge(c) {
		return
	}

	ready := models.StageReady
	var patch models.ShotPatch
	switch stage {
	case models.StageFrames:
		patch.Frames = &ready
	case models.StageVideo:
		patch.Video = &ready
	case models.StageVoice:
		patch.Voice = &ready
	case models.StageLipsync:
		patch.Lipsync = &ready
	}

	if err := o.applyStateLocked(shotID, patch); err != nil {
		// Can only happen if the project tree changed under the timer.
		log.Printf("[Pipeline] stale %s completion for shot %s: %v", stage, shotID, err)
		return
	}

	// Frames completion pushes the script step forward to video, video
	// completion pushes video to polish. A step the user already advanced
	// past is never regressed.
	switch stage {
	case models.StageFrames:
		if step, ok := o.steps[shotID]; !ok || step == models.StepScript {
			o.steps[shotID] = models.StepVideo
			o.events.Publish(Event{Type: EventTypeFocus, ShotID: shotID, Step: models.StepVideo})
		}
	case models.StageVideo:
		if step, ok := o.steps[shotID]; !ok || step == models.StepVideo {
			o.steps[shotID] = models.StepPolish
			o.events.Publish(Event{Type: EventTypeFocus, ShotID: shotID, Step: models.StepPolish})
		}
	}
}

// advanceToNextShotLocked runs the navigation side effect after a generation
// kicks off: move focus to the next shot in sequence order (resetting it to
// the script step) and surface a notice naming both shots.
func (o *Orchestrator) advanceToNextShotLocked(current models.Shot, stage models.Stage) {
	verb := "rendering"
	if stage == models.StageVideo {
		verb = "video rendering"
	}

	next, ok := o.nextShot(current.ID)
	if !ok {
		o.events.Publish(Event{Type: EventTypeNotice, Message: fmt.Sprintf("Generating %s...", stage)})
		return
	}

	o.focused = next.ID
	o.steps[next.ID] = models.StepScript
	o.events.Publish(Event{Type: EventTypeFocus, ShotID: next.ID, Step: models.StepScript})
	o.events.Publish(Event{
		Type:    EventTypeNotice,
		ShotID:  current.ID,
		Message: fmt.Sprintf("Shot %d %s — let's script Shot %d", current.Number, verb, next.Number),
	})
}

// applyStateLocked is the single local mutation path for pipeline state:
// validated apply, local tree update, state event, background persistence.
func (o *Orchestrator) applyStateLocked(shotID uuid.UUID, patch models.ShotPatch) error {
	next, err := o.store.Apply(shotID, patch)
	if err != nil {
		return err
	}

	o.setLocalState(shotID, next)
	o.events.Publish(Event{Type: EventTypeState, ShotID: shotID, State: &next})
	o.persistAsync(shotID, patch)
	return nil
}

// persistAsync fires the best-effort background write. A failure is logged
// and surfaced on the bus; the optimistic local state stays authoritative.
func (o *Orchestrator) persistAsync(shotID uuid.UUID, patch models.ShotPatch) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
		defer cancel()

		if err := o.persist.PatchShot(ctx, shotID, patch); err != nil {
			log.Printf("[Persist] failed to persist shot %s: %v", shotID, err)
			o.events.Publish(Event{
				Type:    EventTypeError,
				ShotID:  shotID,
				Message: fmt.Sprintf("persist failed: %v", err),
			})
		}
	}()
}

func (o *Orchestrator) setLocalState(shotID uuid.UUID, state models.PipelineState) {
	for si := range o.scenes {
		for hi := range o.scenes[si].Shots {
			if o.scenes[si].Shots[hi].ID == shotID {
				o.scenes[si].Shots[hi].Pipeline = state
				return
			}
		}
	}
}

func (o *Orchestrator) applyFieldsLocked(shotID uuid.UUID, patch models.ShotPatch) {
	for si := range o.scenes {
		for hi := range o.scenes[si].Shots {
			shot := &o.scenes[si].Shots[hi]
			if shot.ID != shotID {
				continue
			}
			if patch.Title != nil {
				shot.Title = *patch.Title
			}
			if patch.DurationSec != nil {
				shot.DurationSec = *patch.DurationSec
			}
			if patch.Action != nil {
				shot.Action = *patch.Action
			}
			if patch.Monologue != nil {
				shot.Monologue = *patch.Monologue
			}
			if patch.CameraNotes != nil {
				shot.CameraNotes = *patch.CameraNotes
			}
			if patch.SoundCues != nil {
				shot.SoundCues = *patch.SoundCues
			}
			if patch.StartFramePrompt != nil {
				shot.StartFramePrompt = *patch.StartFramePrompt
			}
			if patch.EndFramePrompt != nil {
				shot.EndFramePrompt = *patch.EndFramePrompt
			}
			if patch.VideoPrompt != nil {
				shot.VideoPrompt = *patch.VideoPrompt
			}
			return
		}
	}
}

func (o *Orchestrator) findShot(shotID uuid.UUID) (models.Shot, bool) {
	for _, scene := range o.scenes {
		for _, shot := range scene.Shots {
			if shot.ID == shotID {
				return shot, true
			}
		}
	}
	return models.Shot{}, false
}

// nextShot returns the shot after shotID in project sequence order, crossing
// scene boundaries.
func (o *Orchestrator) nextShot(shotID uuid.UUID) (models.Shot, bool) {
	all := models.FlattenShots(o.scenes)
	for i, shot := range all {
		if shot.ID == shotID && i+1 < len(all) {
			return all[i+1], true
		}
	}
	return models.Shot{}, false
}

func orderedShotIDs(scenes []models.Scene) []uuid.UUID {
	var ids []uuid.UUID
	for _, scene := range scenes {
		for _, shot := range scene.Shots {
			ids = append(ids, shot.ID)
		}
	}
	return ids
}

func statePatch(state models.PipelineState) models.ShotPatch {
	frames, video, voice, lipsync := state.Frames, state.Video, state.Voice, state.Lipsync
	approved := state.Approved
	return models.ShotPatch{
		Frames:   &frames,
		Video:    &video,
		Voice:    &voice,
		Lipsync:  &lipsync,
		Approved: &approved,
	}
}

func cloneScenes(scenes []models.Scene) []models.Scene {
	out := make([]models.Scene, len(scenes))
	for i, scene := range scenes {
		out[i] = scene
		out[i].Shots = append([]models.Shot(nil), scene.Shots...)
	}
	return out
}
