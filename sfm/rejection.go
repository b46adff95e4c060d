package sfm

import (
	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// rejectionTriggerCount is the removal count above which a growth round
// repeats its refinement pass. The final cleanup uses a trigger of zero and
// iterates to a fixpoint.
const rejectionTriggerCount = 50

// badTrackRejector makes one pruning pass over the structure: observations
// reprojecting worse than precision (or behind their camera) are deleted,
// and landmarks left with fewer observations than the minimum track length
// go away entirely, together with their track. Deleted elements never come
// back. Returns whether more than trigger elements were removed.
func (e *SequentialReconstructionEngine) badTrackRejector(precision float64, trigger int) bool {
	removedObs := 0
	removedLandmarks := 0
	minObs := e.opts.MinTrackLength
	if minObs < 2 {
		minObs = 2
	}
	for _, tid := range e.scene.LandmarkIDs() {
		lm := e.scene.Landmarks[tid]
		for _, viewID := range lm.observationViews() {
			obs := lm.Observations[viewID]
			cam := e.scene.Cameras[viewID]
			resid, depth := transform.ReprojectionError(cam.Pose, cam.Model, lm.Position, obs.Point)
			obs.Residual = resid
			if depth <= 0 || resid > precision {
				delete(lm.Observations, viewID)
				removedObs++
			}
		}
		if len(lm.Observations) < minObs {
			delete(e.scene.Landmarks, tid)
			track.Remove(e.tracks, e.perView, tid)
			removedLandmarks++
		}
	}
	total := removedObs + removedLandmarks
	if total > 0 {
		e.logger.Debugw("outlier rejection pass",
			"removed_observations", removedObs,
			"removed_landmarks", removedLandmarks,
		)
	}
	return total > trigger
}
