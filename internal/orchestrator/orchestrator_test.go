package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/Mishra-Manit/thelot-sub000/internal/pipeline"
	"github.com/Mishra-Manit/thelot-sub000/internal/timers"
	"github.com/google/uuid"
)

// fakePersister records patch writes so tests can assert the background
// persistence path without a real queue or database.
type fakePersister struct {
	mu      sync.Mutex
	patches map[uuid.UUID][]models.ShotPatch
	err     error
}

func newFakePersister() *fakePersister {
	return &fakePersister{patches: make(map[uuid.UUID][]models.ShotPatch)}
}

func (p *fakePersister) PatchShot(_ context.Context, shotID uuid.UUID, patch models.ShotPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.patches[shotID] = append(p.patches[shotID], patch)
	return nil
}

func (p *fakePersister) writes(shotID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.patches[shotID])
}

func (p *fakePersister) shotsWritten() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.patches)
}

func testConfig() Config {
	return Config{
		FramesDuration:  15 * time.Millisecond,
		VideoDuration:   25 * time.Millisecond,
		VoiceDuration:   10 * time.Millisecond,
		LipsyncDuration: 10 * time.Millisecond,
		SeedFraction:    0.37,
		PersistTimeout:  time.Second,
	}
}

func makeShot(number int, state models.PipelineState) models.Shot {
	return models.Shot{
		ID:          uuid.New(),
		Number:      number,
		Title:       "Shot",
		DurationSec: 5,
		Pipeline:    state,
	}
}

// newTestOrchestrator builds an orchestrator over one scene with the given
// shots, already hydrated into the pipeline store.
func newTestOrchestrator(t *testing.T, shots ...models.Shot) (*Orchestrator, *fakePersister) {
	t.Helper()
	persist := newFakePersister()
	o := New(testConfig(), pipeline.NewStore(), timers.NewRegistry(), persist, NewEventBus(100))
	o.SetProject([]models.Scene{{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: shots}})
	t.Cleanup(o.Shutdown)
	return o, persist
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGenerateFrames(t *testing.T) {
	first := makeShot(1, models.DefaultPipelineState())
	second := makeShot(2, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, first, second)

	if err := o.GenerateFrames(first.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}

	if got := o.State(first.ID).Frames; got != models.StageLoading {
		t.Fatalf("frames = %s, want loading", got)
	}
	if got := o.Focused(); got != second.ID {
		t.Fatalf("focus = %s, want next shot %s", got, second.ID)
	}
	if got := o.Step(second.ID); got != models.StepScript {
		t.Fatalf("next shot step = %s, want script", got)
	}

	waitFor(t, "frames completion", func() bool {
		return o.State(first.ID).Frames == models.StageReady
	})
	// Frames completion auto-advances the originating shot's step to video.
	if got := o.Step(first.ID); got != models.StepVideo {
		t.Fatalf("step after frames ready = %s, want video", got)
	}
}

func TestGenerateFramesPublishesHandoffNotice(t *testing.T) {
	first := makeShot(1, models.DefaultPipelineState())
	second := makeShot(2, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, first, second)

	if err := o.GenerateFrames(first.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}

	var notice string
	for _, e := range o.Events().Since(0) {
		if e.Type == EventTypeNotice {
			notice = e.Message
		}
	}
	want := "Shot 1 rendering — let's script Shot 2"
	if notice != want {
		t.Fatalf("notice = %q, want %q", notice, want)
	}
}

func TestGenerateFramesLastShot(t *testing.T) {
	only := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, only)

	if err := o.GenerateFrames(only.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}
	// No next shot: focus stays put and the notice is the generic one.
	if got := o.Focused(); got != uuid.Nil {
		t.Fatalf("focus = %s, want none", got)
	}
	var notice string
	for _, e := range o.Events().Since(0) {
		if e.Type == EventTypeNotice {
			notice = e.Message
		}
	}
	if !strings.HasPrefix(notice, "Generating") {
		t.Fatalf("notice = %q, want generic generating notice", notice)
	}
}

func TestGenerateFramesRestartInvalidatesVideo(t *testing.T) {
	shot := makeShot(1, models.PipelineState{
		Frames: models.StageReady, Video: models.StageReady,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
		Approved: true,
	})
	o, _ := newTestOrchestrator(t, shot)

	if err := o.GenerateFrames(shot.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}
	state := o.State(shot.ID)
	if state.Frames != models.StageLoading || state.Video != models.StageIdle || state.Approved {
		t.Fatalf("state after frames restart = %+v", state)
	}
}

func TestGenerateVideoGatedOnFrames(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	err := o.GenerateVideo(shot.ID)
	if !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("GenerateVideo on idle frames: err = %v, want ErrPrecondition", err)
	}
	if got := o.State(shot.ID).Video; got != models.StageIdle {
		t.Fatalf("video = %s after rejected start", got)
	}
}

func TestGenerateVideoCompletes(t *testing.T) {
	shot := makeShot(1, models.PipelineState{
		Frames: models.StageReady, Video: models.StageIdle,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
	})
	o, _ := newTestOrchestrator(t, shot)
	o.SetStep(shot.ID, models.StepVideo)

	if err := o.GenerateVideo(shot.ID); err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if got := o.State(shot.ID).Video; got != models.StageLoading {
		t.Fatalf("video = %s, want loading", got)
	}

	waitFor(t, "video completion", func() bool {
		return o.State(shot.ID).Video == models.StageReady
	})
	if got := o.Step(shot.ID); got != models.StepPolish {
		t.Fatalf("step after video ready = %s, want polish", got)
	}
}

// A cancel that lands after the frames timer expired but before its
// completion was processed must still suppress the ready transition.
func TestCancelAfterTimerFiredSuppressesCompletion(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	if err := o.GenerateFrames(shot.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}

	// Hold the orchestrator lock across the timer expiry so the completion
	// is forced to queue up behind it, then cancel before releasing.
	o.mu.Lock()
	time.Sleep(100 * time.Millisecond)
	o.timers.Cancel(shot.ID, models.StageFrames)
	o.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	if got := o.State(shot.ID).Frames; got != models.StageLoading {
		t.Fatalf("frames = %s, want loading preserved after late cancel", got)
	}
	if o.timers.Active(shot.ID, models.StageFrames) {
		t.Fatal("cancelled timer still registered")
	}
}

// Structural reloads re-read the tree from storage, which lags behind the
// optimistic session state. Tracked shots must keep their in-memory state.
func TestSetProjectKeepsSessionState(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	newcomer := makeShot(2, models.PipelineState{
		Frames: models.StageReady, Video: models.StageReady,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
	})

	cfg := testConfig()
	cfg.FramesDuration = time.Hour
	o := New(cfg, pipeline.NewStore(), timers.NewRegistry(), newFakePersister(), NewEventBus(100))
	o.SetProject([]models.Scene{{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: []models.Shot{shot}}})
	t.Cleanup(o.Shutdown)

	if err := o.GenerateFrames(shot.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}

	// Reload with the persisted tree, which still carries the stale default
	// state for the first shot and introduces a second one.
	stale := shot
	stale.Pipeline = models.DefaultPipelineState()
	o.SetProject([]models.Scene{{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: []models.Shot{stale, newcomer}}})

	if got := o.State(shot.ID).Frames; got != models.StageLoading {
		t.Fatalf("frames = %s after reload, want optimistic loading kept", got)
	}
	if got := o.Project()[0].Shots[0].Pipeline.Frames; got != models.StageLoading {
		t.Fatalf("tree frames = %s after reload, want loading overlaid", got)
	}
	if !o.timers.Active(shot.ID, models.StageFrames) {
		t.Fatal("frames timer lost across reload")
	}
	// The shot the store has never seen hydrates from its persisted state.
	if got := o.State(newcomer.ID).Video; got != models.StageReady {
		t.Fatalf("newcomer video = %s, want hydrated ready", got)
	}
}

func TestStepNeverRegresses(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	if err := o.GenerateFrames(shot.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}
	// User already jumped ahead; frames completion must not pull them back.
	o.SetStep(shot.ID, models.StepPolish)

	waitFor(t, "frames completion", func() bool {
		return o.State(shot.ID).Frames == models.StageReady
	})
	if got := o.Step(shot.ID); got != models.StepPolish {
		t.Fatalf("step = %s, want polish preserved", got)
	}
}

func TestApproveShot(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	if err := o.ApproveShot(shot.ID); !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("approve before video ready: err = %v, want ErrPrecondition", err)
	}

	ready := makeShot(2, models.PipelineState{
		Frames: models.StageReady, Video: models.StageReady,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
	})
	o2, _ := newTestOrchestrator(t, ready)
	if err := o2.ApproveShot(ready.ID); err != nil {
		t.Fatalf("ApproveShot: %v", err)
	}
	if !o2.State(ready.ID).Approved {
		t.Fatal("shot not approved")
	}
}

func TestRegenerateVideo(t *testing.T) {
	shot := makeShot(1, models.PipelineState{
		Frames: models.StageReady, Video: models.StageReady,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
		Approved: true,
	})
	o, _ := newTestOrchestrator(t, shot)

	if err := o.RegenerateVideo(shot.ID); err != nil {
		t.Fatalf("RegenerateVideo: %v", err)
	}
	state := o.State(shot.ID)
	if state.Video != models.StageIdle || state.Approved {
		t.Fatalf("state after regenerate = %+v", state)
	}
	if got := o.Step(shot.ID); got != models.StepVideo {
		t.Fatalf("step = %s, want video", got)
	}
}

func TestGenerateVoiceOnlyFromIdle(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	if err := o.GenerateVoice(shot.ID); err != nil {
		t.Fatalf("GenerateVoice: %v", err)
	}
	if err := o.GenerateVoice(shot.ID); !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("second GenerateVoice: err = %v, want ErrPrecondition", err)
	}

	waitFor(t, "voice completion", func() bool {
		return o.State(shot.ID).Voice == models.StageReady
	})
	if err := o.GenerateVoice(shot.ID); !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("GenerateVoice on ready voice: err = %v, want ErrPrecondition", err)
	}
}

func TestApplyLipsync(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	if err := o.ApplyLipsync(shot.ID); !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("lipsync before voice: err = %v, want ErrPrecondition", err)
	}

	if err := o.GenerateVoice(shot.ID); err != nil {
		t.Fatalf("GenerateVoice: %v", err)
	}
	waitFor(t, "voice completion", func() bool {
		return o.State(shot.ID).Voice == models.StageReady
	})

	if err := o.ApplyLipsync(shot.ID); err != nil {
		t.Fatalf("ApplyLipsync: %v", err)
	}
	waitFor(t, "lipsync completion", func() bool {
		return o.State(shot.ID).Lipsync == models.StageReady
	})
}

func TestRewindAll(t *testing.T) {
	shots := make([]models.Shot, 8)
	for i := range shots {
		shots[i] = makeShot(i+1, models.DefaultPipelineState())
	}
	o, persist := newTestOrchestrator(t, shots...)

	// Start some work that the rewind must wipe out.
	if err := o.GenerateFrames(shots[5].ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}

	o.RewindAll()

	// floor(8 * 0.37) = 2 seeded shots, video-ready and never approved.
	for i, shot := range shots {
		state := o.State(shot.ID)
		if i < 2 {
			if state.Frames != models.StageReady || state.Video != models.StageReady || state.Approved {
				t.Fatalf("seeded shot %d = %+v", i+1, state)
			}
		} else if state != models.DefaultPipelineState() {
			t.Fatalf("shot %d = %+v, want default", i+1, state)
		}
	}
	if got := o.Focused(); got != uuid.Nil {
		t.Fatalf("focus = %s after rewind, want none", got)
	}
	if got := o.Step(shots[5].ID); got != models.StepScript {
		t.Fatalf("step = %s after rewind, want script", got)
	}

	// The superseded frames timer must not fire after the rewind.
	time.Sleep(50 * time.Millisecond)
	if got := o.State(shots[5].ID).Frames; got != models.StageIdle {
		t.Fatalf("cancelled timer completed: frames = %s", got)
	}

	waitFor(t, "rewind persistence", func() bool {
		return persist.shotsWritten() == len(shots)
	})
}

func TestUpdateShotClampsDuration(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, persist := newTestOrchestrator(t, shot)

	tooLong := 99
	if err := o.UpdateShot(shot.ID, models.ShotPatch{DurationSec: &tooLong}); err != nil {
		t.Fatalf("UpdateShot: %v", err)
	}
	if got := o.Project()[0].Shots[0].DurationSec; got != models.MaxShotDurationSec {
		t.Fatalf("duration = %d, want clamped to %d", got, models.MaxShotDurationSec)
	}

	tooShort := 0
	if err := o.UpdateShot(shot.ID, models.ShotPatch{DurationSec: &tooShort}); err != nil {
		t.Fatalf("UpdateShot: %v", err)
	}
	if got := o.Project()[0].Shots[0].DurationSec; got != models.MinShotDurationSec {
		t.Fatalf("duration = %d, want clamped to %d", got, models.MinShotDurationSec)
	}

	waitFor(t, "shot persistence", func() bool {
		return persist.writes(shot.ID) == 2
	})
}

func TestUpdateShotTextFields(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	title := "Cold open"
	action := "She turns to the window."
	if err := o.UpdateShot(shot.ID, models.ShotPatch{Title: &title, Action: &action}); err != nil {
		t.Fatalf("UpdateShot: %v", err)
	}
	got := o.Project()[0].Shots[0]
	if got.Title != title || got.Action != action {
		t.Fatalf("shot = %+v", got)
	}
}

func TestUpdateShotRejectsInvalidState(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	o, _ := newTestOrchestrator(t, shot)

	loading := models.StageLoading
	err := o.UpdateShot(shot.ID, models.ShotPatch{Video: &loading})
	if !errors.Is(err, pipeline.ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestUnknownShot(t *testing.T) {
	o, _ := newTestOrchestrator(t, makeShot(1, models.DefaultPipelineState()))

	stranger := uuid.New()
	for name, err := range map[string]error{
		"GenerateFrames":  o.GenerateFrames(stranger),
		"GenerateVideo":   o.GenerateVideo(stranger),
		"ApproveShot":     o.ApproveShot(stranger),
		"RegenerateVideo": o.RegenerateVideo(stranger),
		"GenerateVoice":   o.GenerateVoice(stranger),
		"ApplyLipsync":    o.ApplyLipsync(stranger),
		"UpdateShot":      o.UpdateShot(stranger, models.ShotPatch{}),
	} {
		if !errors.Is(err, ErrShotNotFound) {
			t.Errorf("%s: err = %v, want ErrShotNotFound", name, err)
		}
	}
}

func TestAdvanceCrossesSceneBoundary(t *testing.T) {
	lastOfFirst := makeShot(2, models.DefaultPipelineState())
	firstOfSecond := makeShot(3, models.DefaultPipelineState())

	persist := newFakePersister()
	o := New(testConfig(), pipeline.NewStore(), timers.NewRegistry(), persist, NewEventBus(100))
	o.SetProject([]models.Scene{
		{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: []models.Shot{makeShot(1, models.DefaultPipelineState()), lastOfFirst}},
		{ID: uuid.New(), Number: 2, Title: "Scene 2", Shots: []models.Shot{firstOfSecond}},
	})
	t.Cleanup(o.Shutdown)

	if err := o.GenerateFrames(lastOfFirst.ID); err != nil {
		t.Fatalf("GenerateFrames: %v", err)
	}
	if got := o.Focused(); got != firstOfSecond.ID {
		t.Fatalf("focus = %s, want first shot of next scene", got)
	}
}

func TestPersistFailurePublishesError(t *testing.T) {
	shot := makeShot(1, models.DefaultPipelineState())
	persist := newFakePersister()
	persist.err = errors.New("queue unavailable")

	o := New(testConfig(), pipeline.NewStore(), timers.NewRegistry(), persist, NewEventBus(100))
	o.SetProject([]models.Scene{{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: []models.Shot{shot}}})
	t.Cleanup(o.Shutdown)

	title := "Renamed"
	if err := o.UpdateShot(shot.ID, models.ShotPatch{Title: &title}); err != nil {
		t.Fatalf("UpdateShot: %v", err)
	}
	// Local state stays authoritative; the failure only surfaces on the bus.
	if got := o.Project()[0].Shots[0].Title; got != title {
		t.Fatalf("title = %q, want optimistic update kept", got)
	}

	waitFor(t, "error event", func() bool {
		for _, e := range o.Events().Since(0) {
			if e.Type == EventTypeError && e.ShotID == shot.ID {
				return true
			}
		}
		return false
	})
}

func TestRenderQueueExcludesShortStages(t *testing.T) {
	shot := makeShot(1, models.PipelineState{
		Frames: models.StageReady, Video: models.StageIdle,
		Voice: models.StageIdle, Lipsync: models.StageIdle,
	})
	cfg := testConfig()
	cfg.VideoDuration = time.Hour
	cfg.VoiceDuration = time.Hour
	o := New(cfg, pipeline.NewStore(), timers.NewRegistry(), newFakePersister(), NewEventBus(100))
	o.SetProject([]models.Scene{{ID: uuid.New(), Number: 1, Title: "Scene 1", Shots: []models.Shot{shot}}})
	t.Cleanup(o.Shutdown)

	if err := o.GenerateVoice(shot.ID); err != nil {
		t.Fatalf("GenerateVoice: %v", err)
	}
	if err := o.GenerateVideo(shot.ID); err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}

	queue := o.RenderQueue()
	if len(queue) != 1 {
		t.Fatalf("queue = %+v, want only the video task", queue)
	}
	task := queue[0]
	if task.Stage != models.StageVideo || task.ShotID != shot.ID {
		t.Fatalf("task = %+v", task)
	}
	if task.ExpectedDurationMS != time.Hour.Milliseconds() {
		t.Fatalf("expected duration = %dms, want %dms", task.ExpectedDurationMS, time.Hour.Milliseconds())
	}
	if task.Progress < 0 || task.Progress > 1 {
		t.Fatalf("progress = %v, want within [0,1]", task.Progress)
	}
}
