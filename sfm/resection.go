package sfm

import (
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	goutils "go.viam.com/utils"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// resectionResult carries a solved pose together with the tracks behind its
// correspondences, aligned with the solver's inlier indices.
type resectionResult struct {
	pnp      *transform.PnPResult
	trackIDs []track.ID
	points   []r2.Point
}

// solveResection estimates the pose of one view against the triangulated
// structure. It only reads engine state and is safe to run concurrently
// with other solves.
func (e *SequentialReconstructionEngine) solveResection(viewID track.ViewID) (*resectionResult, bool) {
	feats := e.features.Features(viewID)
	var (
		trackIDs []track.ID
		pts2D    []r2.Point
		pts3D    []r3.Vector
	)
	for _, tid := range e.perView[viewID] {
		lm, ok := e.scene.Landmarks[tid]
		if !ok {
			continue
		}
		featID := e.tracks[tid][viewID]
		if int(featID) >= len(feats) {
			continue
		}
		trackIDs = append(trackIDs, tid)
		pts2D = append(pts2D, feats[featID])
		pts3D = append(pts3D, lm.Position)
	}
	if len(trackIDs) < e.opts.MinPointsPerPose {
		e.logger.Debugw("resection skipped, too few correspondences",
			"view", viewID, "correspondences", len(trackIDs))
		return nil, false
	}
	res, err := e.resectionSolver.EstimatePose(pts2D, pts3D, e.views[viewID])
	if err != nil {
		e.logger.Debugw("resection failed", "view", viewID, "error", err)
		return nil, false
	}
	if len(res.Inliers) < e.opts.MinPointsPerPose {
		e.logger.Debugw("resection rejected, too few inliers",
			"view", viewID, "inliers", len(res.Inliers), "correspondences", len(trackIDs))
		return nil, false
	}
	return &resectionResult{pnp: res, trackIDs: trackIDs, points: pts2D}, true
}

// commitResection registers a solved view: camera, per-camera confidence,
// and one observation per inlier correspondence.
func (e *SequentialReconstructionEngine) commitResection(viewID track.ViewID, rr *resectionResult) {
	e.scene.Cameras[viewID] = &Camera{
		Pose:  rr.pnp.Pose,
		Model: e.intrinsicsFor(viewID),
	}
	e.setConfidence(viewID, rr.pnp.MaxError)
	for _, idx := range rr.pnp.Inliers {
		tid := rr.trackIDs[idx]
		lm := e.scene.Landmarks[tid]
		if _, seen := lm.Observations[viewID]; seen {
			continue
		}
		lm.Observations[viewID] = &Observation{
			View:    viewID,
			Feature: e.tracks[tid][viewID],
			Point:   rr.points[idx],
		}
	}
	delete(e.remaining, viewID)
}

// Resection estimates and commits the pose of a single view. It reports
// whether the view joined the reconstruction.
func (e *SequentialReconstructionEngine) Resection(viewID track.ViewID) bool {
	rr, ok := e.solveResection(viewID)
	if !ok {
		return false
	}
	e.commitResection(viewID, rr)
	return true
}

// RobustResectionOfImages resects a batch of views. Poses are solved
// concurrently and independently against the same structure, then committed
// serially in the given order. Views that fail are marked rejected and never
// retried.
func (e *SequentialReconstructionEngine) RobustResectionOfImages(
	viewIDs []track.ViewID,
) (reconstructed, rejected []track.ViewID) {
	results := make([]*resectionResult, len(viewIDs))
	oks := make([]bool, len(viewIDs))
	var wg sync.WaitGroup
	for i, viewID := range viewIDs {
		wg.Add(1)
		i, viewID := i, viewID
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			results[i], oks[i] = e.solveResection(viewID)
		})
	}
	wg.Wait()

	for i, viewID := range viewIDs {
		if !oks[i] {
			e.rejected[viewID] = struct{}{}
			rejected = append(rejected, viewID)
			continue
		}
		e.commitResection(viewID, results[i])
		reconstructed = append(reconstructed, viewID)
	}
	if len(rejected) > 0 {
		e.logger.Infow("resection round dropped views", "views", rejected)
	}
	return reconstructed, rejected
}
