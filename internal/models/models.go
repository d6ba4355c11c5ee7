package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

// StagePhase is the lifecycle of one generation stage of a shot.
type StagePhase string

const (
	StageIdle    StagePhase = "idle"
	StageLoading StagePhase = "loading"
	StageReady   StagePhase = "ready"
)

// Valid reports whether p is one of the three known phases.
func (p StagePhase) Valid() bool {
	switch p {
	case StageIdle, StageLoading, StageReady:
		return true
	default:
		return false
	}
}

// Stage names the four generation stages of the per-shot pipeline.
type Stage string

const (
	StageFrames  Stage = "frames"
	StageVideo   Stage = "video"
	StageVoice   Stage = "voice"
	StageLipsync Stage = "lipsync"
)

// Stages lists all stages in dependency order.
var Stages = []Stage{StageFrames, StageVideo, StageVoice, StageLipsync}

// ShotStatus is the coarse per-shot status derived from PipelineState.
type ShotStatus string

const (
	ShotStatusDraft       ShotStatus = "draft"
	ShotStatusFramesReady ShotStatus = "frames_ready"
	ShotStatusVideoReady  ShotStatus = "video_ready"
	ShotStatusApproved    ShotStatus = "approved"
)

// WorkflowStep is the authoring step currently focused for a shot.
type WorkflowStep string

const (
	StepScript WorkflowStep = "script"
	StepFrames WorkflowStep = "frames"
	StepVideo  WorkflowStep = "video"
	StepPolish WorkflowStep = "polish"
)

// Shot duration bounds in seconds.
const (
	MinShotDurationSec = 1
	MaxShotDurationSec = 30
)

// ClampShotDuration bounds a duration to [MinShotDurationSec, MaxShotDurationSec].
func ClampShotDuration(sec int) int {
	if sec < MinShotDurationSec {
		return MinShotDurationSec
	}
	if sec > MaxShotDurationSec {
		return MaxShotDurationSec
	}
	return sec
}

// Models

// PipelineState is the per-shot record of stage phases plus the approval flag.
type PipelineState struct {
	Frames   StagePhase `json:"frames"`
	Video    StagePhase `json:"video"`
	Voice    StagePhase `json:"voice"`
	Lipsync  StagePhase `json:"lipsync"`
	Approved bool       `json:"approved"`
}

// DefaultPipelineState is the state every shot starts in.
func DefaultPipelineState() PipelineState {
	return PipelineState{
		Frames:  StageIdle,
		Video:   StageIdle,
		Voice:   StageIdle,
		Lipsync: StageIdle,
	}
}

// Status derives the coarse shot status from a pipeline state.
func (s PipelineState) Status() ShotStatus {
	if s.Approved {
		return ShotStatusApproved
	}
	if s.Video == StageReady {
		return ShotStatusVideoReady
	}
	if s.Frames == StageReady {
		return ShotStatusFramesReady
	}
	return ShotStatusDraft
}

type Shot struct {
	ID               uuid.UUID     `json:"id"`
	SceneID          uuid.UUID     `json:"scene_id"`
	Number           int           `json:"number"` // ordinal within the scene
	Title            string        `json:"title"`
	DurationSec      int           `json:"duration_sec"`
	Action           string        `json:"action,omitempty"`
	Monologue        string        `json:"monologue,omitempty"`
	CameraNotes      string        `json:"camera_notes,omitempty"`
	SoundCues        string        `json:"sound_cues,omitempty"`
	StartFramePrompt string        `json:"start_frame_prompt,omitempty"`
	EndFramePrompt   string        `json:"end_frame_prompt,omitempty"`
	VideoPrompt      string        `json:"video_prompt,omitempty"`
	Pipeline         PipelineState `json:"pipeline"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type Scene struct {
	ID        uuid.UUID `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Shots     []Shot    `json:"shots"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShotPatch is a partial update to a shot. Nil fields are left untouched.
// Covers both free-text script fields and the persisted stage statuses.
type ShotPatch struct {
	Title            *string     `json:"title,omitempty"`
	DurationSec      *int        `json:"duration_sec,omitempty"`
	Action           *string     `json:"action,omitempty"`
	Monologue        *string     `json:"monologue,omitempty"`
	CameraNotes      *string     `json:"camera_notes,omitempty"`
	SoundCues        *string     `json:"sound_cues,omitempty"`
	StartFramePrompt *string     `json:"start_frame_prompt,omitempty"`
	EndFramePrompt   *string     `json:"end_frame_prompt,omitempty"`
	VideoPrompt      *string     `json:"video_prompt,omitempty"`
	Frames           *StagePhase `json:"frames_status,omitempty"`
	Video            *StagePhase `json:"video_status,omitempty"`
	Voice            *StagePhase `json:"voice_status,omitempty"`
	Lipsync          *StagePhase `json:"lipsync_status,omitempty"`
	Approved         *bool       `json:"approved,omitempty"`
}

// IsEmpty reports whether the patch carries no fields at all.
func (p ShotPatch) IsEmpty() bool {
	return p.Title == nil && p.DurationSec == nil && p.Action == nil &&
		p.Monologue == nil && p.CameraNotes == nil && p.SoundCues == nil &&
		p.StartFramePrompt == nil && p.EndFramePrompt == nil && p.VideoPrompt == nil &&
		p.Frames == nil && p.Video == nil && p.Voice == nil && p.Lipsync == nil &&
		p.Approved == nil
}

// StatePatch returns a copy of the patch carrying only the pipeline-state
// fields, dropping everything else.
func (p ShotPatch) StatePatch() ShotPatch {
	return ShotPatch{
		Frames:   p.Frames,
		Video:    p.Video,
		Voice:    p.Voice,
		Lipsync:  p.Lipsync,
		Approved: p.Approved,
	}
}

// RenderingTask is the transient record of one simulated in-flight generation
// job. Owned exclusively by the timer registry; never persisted.
type RenderingTask struct {
	ShotID           uuid.UUID     `json:"shot_id"`
	ShotNumber       int           `json:"shot_number"`
	Stage            Stage         `json:"stage"`
	StartedAt        time.Time     `json:"started_at"`
	ExpectedDuration time.Duration `json:"-"`
}

// Progress returns the elapsed fraction of the task, clamped to [0,1].
func (t RenderingTask) Progress(now time.Time) float64 {
	if t.ExpectedDuration <= 0 {
		return 1
	}
	p := float64(now.Sub(t.StartedAt)) / float64(t.ExpectedDuration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DTOs for API responses

type SceneResponse struct {
	Scene
	Status   ShotStatus `json:"status"`
	Progress float64    `json:"progress"`
}

type StoryboardResponse struct {
	Scenes        []SceneResponse `json:"scenes"`
	MovieProgress float64         `json:"movie_progress"`
	ShotCount     int             `json:"shot_count"`
	TotalDuration int             `json:"total_duration_sec"`
}

type CreateSceneRequest struct {
	Title  string `json:"title"`
	Number *int   `json:"number,omitempty"`
}

type CreateShotRequest struct {
	Title            string  `json:"title"`
	Number           *int    `json:"number,omitempty"`
	DurationSec      *int    `json:"duration_sec,omitempty"`
	Action           *string `json:"action,omitempty"`
	Monologue        *string `json:"monologue,omitempty"`
	CameraNotes      *string `json:"camera_notes,omitempty"`
	SoundCues        *string `json:"sound_cues,omitempty"`
	StartFramePrompt *string `json:"start_frame_prompt,omitempty"`
	EndFramePrompt   *string `json:"end_frame_prompt,omitempty"`
	VideoPrompt      *string `json:"video_prompt,omitempty"`
}

// RenderingTaskStatus is a RenderingTask snapshot plus its completion
// fraction. The expected duration is reported in milliseconds on the wire;
// time.Duration would marshal as nanoseconds.
type RenderingTaskStatus struct {
	RenderingTask
	ExpectedDurationMS int64   `json:"expected_duration_ms"`
	Progress           float64 `json:"progress"`
}

type RenderQueueResponse struct {
	Tasks []RenderingTaskStatus `json:"tasks"`
}
