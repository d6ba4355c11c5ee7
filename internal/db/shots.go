package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

const shotColumns = `
	id, scene_id, ordinal, title, duration_sec,
	action, monologue, camera_notes, sound_cues,
	start_frame_prompt, end_frame_prompt, video_prompt,
	frames_status, video_status, voice_status, lipsync_status, approved,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShot(row rowScanner) (models.Shot, error) {
	var shot models.Shot
	err := row.Scan(
		&shot.ID, &shot.SceneID, &shot.Number, &shot.Title, &shot.DurationSec,
		&shot.Action, &shot.Monologue, &shot.CameraNotes, &shot.SoundCues,
		&shot.StartFramePrompt, &shot.EndFramePrompt, &shot.VideoPrompt,
		&shot.Pipeline.Frames, &shot.Pipeline.Video, &shot.Pipeline.Voice,
		&shot.Pipeline.Lipsync, &shot.Pipeline.Approved,
		&shot.CreatedAt, &shot.UpdatedAt,
	)
	if err != nil {
		return models.Shot{}, fmt.Errorf("failed to scan shot: %w", err)
	}
	return shot, nil
}

func (db *DB) CreateShot(ctx context.Context, shot *models.Shot) error {
	query := `
		INSERT INTO shots (
			id, scene_id, ordinal, title, duration_sec,
			action, monologue, camera_notes, sound_cues,
			start_frame_prompt, end_frame_prompt, video_prompt,
			frames_status, video_status, voice_status, lipsync_status, approved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		shot.ID, shot.SceneID, shot.Number, shot.Title, shot.DurationSec,
		shot.Action, shot.Monologue, shot.CameraNotes, shot.SoundCues,
		shot.StartFramePrompt, shot.EndFramePrompt, shot.VideoPrompt,
		shot.Pipeline.Frames, shot.Pipeline.Video, shot.Pipeline.Voice,
		shot.Pipeline.Lipsync, shot.Pipeline.Approved,
	).Scan(&shot.CreatedAt, &shot.UpdatedAt)
}

func (db *DB) GetShot(ctx context.Context, id uuid.UUID) (*models.Shot, error) {
	query := `SELECT ` + shotColumns + ` FROM shots WHERE id = $1`

	shot, err := scanShot(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shot not found")
	}
	if err != nil {
		return nil, err
	}
	return &shot, nil
}

func (db *DB) DeleteShot(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM shots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete shot: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("shot not found")
	}
	return nil
}

// PatchShot writes a partial shot update, touching only the fields the patch
// carries. An empty patch is a no-op.
func (db *DB) PatchShot(ctx context.Context, id uuid.UUID, patch models.ShotPatch) error {
	var (
		sets []string
		args []interface{}
	)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.DurationSec != nil {
		add("duration_sec", *patch.DurationSec)
	}
	if patch.Action != nil {
		add("action", *patch.Action)
	}
	if patch.Monologue != nil {
		add("monologue", *patch.Monologue)
	}
	if patch.CameraNotes != nil {
		add("camera_notes", *patch.CameraNotes)
	}
	if patch.SoundCues != nil {
		add("sound_cues", *patch.SoundCues)
	}
	if patch.StartFramePrompt != nil {
		add("start_frame_prompt", *patch.StartFramePrompt)
	}
	if patch.EndFramePrompt != nil {
		add("end_frame_prompt", *patch.EndFramePrompt)
	}
	if patch.VideoPrompt != nil {
		add("video_prompt", *patch.VideoPrompt)
	}
	if patch.Frames != nil {
		add("frames_status", *patch.Frames)
	}
	if patch.Video != nil {
		add("video_status", *patch.Video)
	}
	if patch.Voice != nil {
		add("voice_status", *patch.Voice)
	}
	if patch.Lipsync != nil {
		add("lipsync_status", *patch.Lipsync)
	}
	if patch.Approved != nil {
		add("approved", *patch.Approved)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE shots SET %s, updated_at = NOW() WHERE id = $%d",
		strings.Join(sets, ", "), len(args),
	)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch shot: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("shot not found")
	}
	return nil
}
