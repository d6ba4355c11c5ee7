package models

// SceneStatus returns the least-complete status across a scene's shots.
// An empty scene is a draft.
func SceneStatus(shots []Shot) ShotStatus {
	if len(shots) == 0 {
		return ShotStatusDraft
	}

	allApproved := true
	allVideoReady := true
	anyProgress := false

	for _, shot := range shots {
		status := shot.Pipeline.Status()
		if status != ShotStatusApproved {
			allApproved = false
		}
		if status != ShotStatusVideoReady && status != ShotStatusApproved {
			allVideoReady = false
		}
		if status != ShotStatusDraft {
			anyProgress = true
		}
	}

	switch {
	case allApproved:
		return ShotStatusApproved
	case allVideoReady:
		return ShotStatusVideoReady
	case anyProgress:
		return ShotStatusFramesReady
	default:
		return ShotStatusDraft
	}
}

// SceneProgress returns the fraction of shots at video_ready or approved.
func SceneProgress(shots []Shot) float64 {
	if len(shots) == 0 {
		return 0
	}
	ready := 0
	for _, shot := range shots {
		if shot.Pipeline.Video == StageReady || shot.Pipeline.Approved {
			ready++
		}
	}
	return float64(ready) / float64(len(shots))
}

// MovieProgress returns overall progress across every shot of every scene.
func MovieProgress(scenes []Scene) float64 {
	var all []Shot
	for _, scene := range scenes {
		all = append(all, scene.Shots...)
	}
	return SceneProgress(all)
}

// FlattenShots returns every shot of the project in sequence order.
func FlattenShots(scenes []Scene) []Shot {
	var all []Shot
	for _, scene := range scenes {
		all = append(all, scene.Shots...)
	}
	return all
}
