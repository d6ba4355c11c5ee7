package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Mishra-Manit/thelot-sub000/internal/db"
	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/Mishra-Manit/thelot-sub000/internal/orchestrator"
	"github.com/Mishra-Manit/thelot-sub000/internal/pipeline"
	"github.com/Mishra-Manit/thelot-sub000/internal/playhead"
	"github.com/Mishra-Manit/thelot-sub000/internal/timeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const defaultShotDurationSec = 5

type Handler struct {
	db    *db.DB
	orch  *orchestrator.Orchestrator
	store *pipeline.Store
}

func NewHandler(database *db.DB, orch *orchestrator.Orchestrator, store *pipeline.Store) *Handler {
	return &Handler{
		db:    database,
		orch:  orch,
		store: store,
	}
}

// GetStoryboard handles GET /v1/storyboard — the full scene/shot tree with
// derived per-scene status and progress.
func (h *Handler) GetStoryboard(w http.ResponseWriter, r *http.Request) {
	scenes := h.orch.Project()

	response := models.StoryboardResponse{
		Scenes:        make([]models.SceneResponse, 0, len(scenes)),
		MovieProgress: models.MovieProgress(scenes),
	}
	for _, scene := range scenes {
		response.Scenes = append(response.Scenes, models.SceneResponse{
			Scene:    scene,
			Status:   models.SceneStatus(scene.Shots),
			Progress: models.SceneProgress(scene.Shots),
		})
		response.ShotCount += len(scene.Shots)
		for _, shot := range scene.Shots {
			response.TotalDuration += shot.DurationSec
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// CreateScene handles POST /v1/scenes
func (h *Handler) CreateScene(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" || len(req.Title) > 255 {
		respondError(w, http.StatusBadRequest, "Title is required (max 255 chars)")
		return
	}

	number := len(h.orch.Project()) + 1
	if req.Number != nil {
		if *req.Number < 0 {
			respondError(w, http.StatusBadRequest, "Number must be non-negative")
			return
		}
		number = *req.Number
	}

	scene := &models.Scene{
		ID:     uuid.New(),
		Number: number,
		Title:  req.Title,
	}
	if err := h.db.CreateScene(r.Context(), scene); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create scene")
		return
	}

	if err := h.reloadProject(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	respondJSON(w, http.StatusCreated, scene)
}

// UpdateScene handles PATCH /v1/scenes/{sceneId}
func (h *Handler) UpdateScene(w http.ResponseWriter, r *http.Request) {
	sceneID, err := uuid.Parse(chi.URLParam(r, "sceneId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid scene ID")
		return
	}

	var req struct {
		Title  *string `json:"title,omitempty"`
		Number *int    `json:"number,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title != nil && (*req.Title == "" || len(*req.Title) > 255) {
		respondError(w, http.StatusBadRequest, "Title must be 1-255 chars")
		return
	}

	if err := h.db.UpdateScene(r.Context(), sceneID, req.Title, req.Number); err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}

	if err := h.reloadProject(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": sceneID.String()})
}

// DeleteScene handles DELETE /v1/scenes/{sceneId}
func (h *Handler) DeleteScene(w http.ResponseWriter, r *http.Request) {
	sceneID, err := uuid.Parse(chi.URLParam(r, "sceneId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid scene ID")
		return
	}

	// Stop any jobs still running against the scene's shots before they go.
	for _, scene := range h.orch.Project() {
		if scene.ID != sceneID {
			continue
		}
		for _, shot := range scene.Shots {
			h.cancelShotTimers(shot.ID)
			h.store.Remove(shot.ID)
		}
	}

	if err := h.db.DeleteScene(r.Context(), sceneID); err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}

	if err := h.reloadProject(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": sceneID.String()})
}

// CreateShot handles POST /v1/scenes/{sceneId}/shots
func (h *Handler) CreateShot(w http.ResponseWriter, r *http.Request) {
	sceneID, err := uuid.Parse(chi.URLParam(r, "sceneId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid scene ID")
		return
	}

	var req models.CreateShotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" || len(req.Title) > 255 {
		respondError(w, http.StatusBadRequest, "Title is required (max 255 chars)")
		return
	}

	scene, err := h.db.GetScene(r.Context(), sceneID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}

	duration := defaultShotDurationSec
	if req.DurationSec != nil {
		duration = models.ClampShotDuration(*req.DurationSec)
	}

	number := 1
	for _, s := range h.orch.Project() {
		if s.ID == sceneID {
			number = len(s.Shots) + 1
		}
	}
	if req.Number != nil && *req.Number > 0 {
		number = *req.Number
	}

	shot := &models.Shot{
		ID:          uuid.New(),
		SceneID:     scene.ID,
		Number:      number,
		Title:       req.Title,
		DurationSec: duration,
		Pipeline:    models.DefaultPipelineState(),
	}
	applyOptional := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	applyOptional(&shot.Action, req.Action)
	applyOptional(&shot.Monologue, req.Monologue)
	applyOptional(&shot.CameraNotes, req.CameraNotes)
	applyOptional(&shot.SoundCues, req.SoundCues)
	applyOptional(&shot.StartFramePrompt, req.StartFramePrompt)
	applyOptional(&shot.EndFramePrompt, req.EndFramePrompt)
	applyOptional(&shot.VideoPrompt, req.VideoPrompt)

	if err := h.db.CreateShot(r.Context(), shot); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create shot")
		return
	}

	h.store.EnsureShot(shot.ID)
	if err := h.reloadProject(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	respondJSON(w, http.StatusCreated, shot)
}

// UpdateShot handles PATCH /v1/shots/{shotId} — optimistic local update with
// background persistence via the orchestrator.
func (h *Handler) UpdateShot(w http.ResponseWriter, r *http.Request) {
	shotID, ok := h.parseShotID(w, r)
	if !ok {
		return
	}

	var patch models.ShotPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Title != nil && (*patch.Title == "" || len(*patch.Title) > 255) {
		respondError(w, http.StatusBadRequest, "Title must be 1-255 chars")
		return
	}
	for _, phase := range []*models.StagePhase{patch.Frames, patch.Video, patch.Voice, patch.Lipsync} {
		if phase != nil && !phase.Valid() {
			respondError(w, http.StatusBadRequest, "Invalid stage phase")
			return
		}
	}

	if err := h.orch.UpdateShot(shotID, patch); err != nil {
		h.respondOrchestratorError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.orch.State(shotID))
}

// DeleteShot handles DELETE /v1/shots/{shotId}
func (h *Handler) DeleteShot(w http.ResponseWriter, r *http.Request) {
	shotID, ok := h.parseShotID(w, r)
	if !ok {
		return
	}

	h.cancelShotTimers(shotID)
	h.store.Remove(shotID)

	if err := h.db.DeleteShot(r.Context(), shotID); err != nil {
		respondError(w, http.StatusNotFound, "Shot not found")
		return
	}

	if err := h.reloadProject(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reload project")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": shotID.String()})
}

// Pipeline operations

func (h *Handler) GenerateFrames(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.GenerateFrames)
}

func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.GenerateVideo)
}

func (h *Handler) RegenerateVideo(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.RegenerateVideo)
}

func (h *Handler) ApproveShot(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.ApproveShot)
}

func (h *Handler) GenerateVoice(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.GenerateVoice)
}

func (h *Handler) ApplyLipsync(w http.ResponseWriter, r *http.Request) {
	h.pipelineOp(w, r, h.orch.ApplyLipsync)
}

func (h *Handler) pipelineOp(w http.ResponseWriter, r *http.Request, op func(uuid.UUID) error) {
	shotID, ok := h.parseShotID(w, r)
	if !ok {
		return
	}

	if err := op(shotID); err != nil {
		h.respondOrchestratorError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.orch.State(shotID))
}

// RewindAll handles POST /v1/rewind — bulk reset to the seed state.
func (h *Handler) RewindAll(w http.ResponseWriter, r *http.Request) {
	h.orch.RewindAll()
	respondJSON(w, http.StatusOK, map[string]string{"status": "rewound"})
}

// GetRenderQueue handles GET /v1/render-queue
func (h *Handler) GetRenderQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.RenderQueueResponse{
		Tasks: h.orch.RenderQueue(),
	})
}

// GetEvents handles GET /v1/events?since=N — incremental event reads.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "Invalid since parameter")
			return
		}
		since = parsed
	}

	events := h.orch.Events().Since(since)
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetTimeline handles GET /v1/timeline?sceneId=&zoom=&viewport= — derived
// segment geometry plus ruler marks for the movie or one scene.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	scenes := h.orch.Project()

	var shots []models.Shot
	if sceneParam := r.URL.Query().Get("sceneId"); sceneParam != "" {
		sceneID, err := uuid.Parse(sceneParam)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid scene ID")
			return
		}
		found := false
		for _, scene := range scenes {
			if scene.ID == sceneID {
				shots = scene.Shots
				found = true
				break
			}
		}
		if !found {
			respondError(w, http.StatusNotFound, "Scene not found")
			return
		}
	} else {
		shots = models.FlattenShots(scenes)
	}

	zoom := parseFloatParam(r, "zoom", 1)
	viewport := parseFloatParam(r, "viewport", 1000)

	layout := timeline.Compute(shots, zoom, viewport)
	marks := timeline.RulerMarks(layout.TotalDurationSec, viewport, zoom)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"layout": layout,
		"marks":  marks,
	})
}

// SeekFromPointer handles POST /v1/timeline/seek — pointer position to
// playback seconds, the inverse of the layout mapping.
func (h *Handler) SeekFromPointer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PixelX           float64 `json:"pixel_x"`
		ScrollOffsetPx   float64 `json:"scroll_offset_px"`
		ContentWidthPx   float64 `json:"content_width_px"`
		TotalDurationSec float64 `json:"total_duration_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	timeSec := playhead.SeekFromPointer(req.PixelX, req.ScrollOffsetPx, req.ContentWidthPx, req.TotalDurationSec)
	respondJSON(w, http.StatusOK, map[string]float64{"time_sec": timeSec})
}

// Helpers

func (h *Handler) parseShotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	shotID, err := uuid.Parse(chi.URLParam(r, "shotId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid shot ID")
		return uuid.Nil, false
	}
	return shotID, true
}

func (h *Handler) respondOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrShotNotFound):
		respondError(w, http.StatusNotFound, "Shot not found")
	case errors.Is(err, pipeline.ErrPrecondition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Operation failed")
	}
}

func (h *Handler) cancelShotTimers(shotID uuid.UUID) {
	// The orchestrator owns the registry; route structural deletes through
	// its regenerate paths so no timer survives a vanished shot.
	h.orch.CancelShotTimers(shotID)
}

func (h *Handler) reloadProject(ctx context.Context) error {
	scenes, err := h.db.ListProject(ctx)
	if err != nil {
		return err
	}
	h.orch.SetProject(scenes)
	return nil
}

func parseFloatParam(r *http.Request, name string, defaultValue float64) float64 {
	if s := r.URL.Query().Get(name); s != "" {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
