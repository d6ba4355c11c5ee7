package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateScene(ctx context.Context, scene *models.Scene) error {
	query := `
		INSERT INTO scenes (id, ordinal, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		scene.ID, scene.Number, scene.Title,
	).Scan(&scene.CreatedAt, &scene.UpdatedAt)
}

func (db *DB) GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	query := `
		SELECT id, ordinal, title, created_at, updated_at
		FROM scenes
		WHERE id = $1
	`

	scene := &models.Scene{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&scene.ID, &scene.Number, &scene.Title, &scene.CreatedAt, &scene.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scene not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}

	return scene, nil
}

func (db *DB) UpdateScene(ctx context.Context, id uuid.UUID, title *string, ordinal *int) error {
	query := `
		UPDATE scenes
		SET title = COALESCE($1, title),
		    ordinal = COALESCE($2, ordinal),
		    updated_at = NOW()
		WHERE id = $3
	`
	result, err := db.ExecContext(ctx, query, title, ordinal, id)
	if err != nil {
		return fmt.Errorf("failed to update scene: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("scene not found")
	}
	return nil
}

// DeleteScene removes a scene and its shots (cascade enforced by the schema).
func (db *DB) DeleteScene(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecContext(ctx, `DELETE FROM scenes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("scene not found")
	}
	return nil
}

// ListProject loads the full scene/shot tree in sequence order. This is the
// session-start hydration read; shot ordering drives both the timeline and
// next-shot navigation.
func (db *DB) ListProject(ctx context.Context) ([]models.Scene, error) {
	sceneRows, err := db.QueryContext(ctx, `
		SELECT id, ordinal, title, created_at, updated_at
		FROM scenes
		ORDER BY ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer sceneRows.Close()

	var scenes []models.Scene
	index := make(map[uuid.UUID]int)
	for sceneRows.Next() {
		var scene models.Scene
		if err := sceneRows.Scan(
			&scene.ID, &scene.Number, &scene.Title, &scene.CreatedAt, &scene.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		index[scene.ID] = len(scenes)
		scenes = append(scenes, scene)
	}
	if err := sceneRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenes: %w", err)
	}

	shotRows, err := db.QueryContext(ctx, `
		SELECT
			id, scene_id, ordinal, title, duration_sec,
			action, monologue, camera_notes, sound_cues,
			start_frame_prompt, end_frame_prompt, video_prompt,
			frames_status, video_status, voice_status, lipsync_status, approved,
			created_at, updated_at
		FROM shots
		ORDER BY ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shots: %w", err)
	}
	defer shotRows.Close()

	for shotRows.Next() {
		shot, err := scanShot(shotRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[shot.SceneID]; ok {
			scenes[i].Shots = append(scenes[i].Shots, shot)
		}
	}
	if err := shotRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shots: %w", err)
	}

	return scenes, nil
}
