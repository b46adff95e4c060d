package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// triangulateNewTracks promotes latent tracks to landmarks after new views
// joined the reconstruction: every track seen by a new view and at least one
// other reconstructed view is triangulated from all its reconstructed
// observations. A triangulation is kept when it lands in front of every
// camera, reprojects within each camera's residual bound, and subtends
// enough parallax. Tracks that already have a landmark only gain the new
// observations.
func (e *SequentialReconstructionEngine) triangulateNewTracks(added []track.ViewID) int {
	candidates := map[track.ID]struct{}{}
	for _, viewID := range added {
		for _, tid := range e.perView[viewID] {
			candidates[tid] = struct{}{}
		}
	}
	ordered := make([]track.ID, 0, len(candidates))
	for tid := range candidates {
		ordered = append(ordered, tid)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	created := 0
	for _, tid := range ordered {
		if lm, ok := e.scene.Landmarks[tid]; ok {
			e.completeObservations(tid, lm)
			continue
		}
		if e.triangulateTrack(tid) {
			created++
		}
	}
	if created > 0 {
		e.logger.Debugw("triangulated new tracks", "count", created)
	}
	return created
}

// triangulateTrack intersects all reconstructed observations of a latent
// track and adds the landmark when the result passes the acceptance gates.
func (e *SequentialReconstructionEngine) triangulateTrack(tid track.ID) bool {
	tr := e.tracks[tid]
	viewIDs := make([]track.ViewID, 0, len(tr))
	for _, viewID := range tr.Views() {
		if _, ok := e.scene.Cameras[viewID]; ok {
			viewIDs = append(viewIDs, viewID)
		}
	}
	if len(viewIDs) < 2 {
		return false
	}

	projections := make([]*mat.Dense, 0, len(viewIDs))
	pts := make([]r2.Point, 0, len(viewIDs))
	for _, viewID := range viewIDs {
		cam := e.scene.Cameras[viewID]
		feats := e.features.Features(viewID)
		featID := tr[viewID]
		if int(featID) >= len(feats) {
			return false
		}
		projections = append(projections, cam.Pose.ProjectionMatrix(cam.Model.GetCameraMatrix()))
		pts = append(pts, feats[featID])
	}
	point, err := e.triangulator.Triangulate(projections, pts)
	if err != nil {
		return false
	}

	// acceptance gates: positive depth and bounded residual everywhere
	residuals := make([]float64, len(viewIDs))
	for i, viewID := range viewIDs {
		cam := e.scene.Cameras[viewID]
		resid, depth := transform.ReprojectionError(cam.Pose, cam.Model, point, pts[i])
		if depth <= 0 || resid > e.residualBound(viewID) {
			return false
		}
		residuals[i] = resid
	}
	if e.maxParallax(viewIDs, point) < e.opts.MinTriangulationDeg {
		return false
	}

	obs := make(map[track.ViewID]*Observation, len(viewIDs))
	for i, viewID := range viewIDs {
		obs[viewID] = &Observation{
			View:     viewID,
			Feature:  tr[viewID],
			Point:    pts[i],
			Residual: residuals[i],
		}
	}
	e.scene.Landmarks[tid] = &Landmark{Position: point, Observations: obs}
	return true
}

// maxParallax is the widest angle under which the point sees any two of the
// given camera centers.
func (e *SequentialReconstructionEngine) maxParallax(viewIDs []track.ViewID, point r3.Vector) float64 {
	best := 0.0
	for i := 0; i < len(viewIDs); i++ {
		ci := e.scene.Cameras[viewIDs[i]].Pose.Center()
		for j := i + 1; j < len(viewIDs); j++ {
			cj := e.scene.Cameras[viewIDs[j]].Pose.Center()
			if a := transform.TriangulationAngle(ci, cj, point); a > best {
				best = a
			}
		}
	}
	return best
}

// completeObservations attaches missing observations of an existing landmark
// for reconstructed views whose measurement agrees with the point.
func (e *SequentialReconstructionEngine) completeObservations(tid track.ID, lm *Landmark) {
	tr := e.tracks[tid]
	for _, viewID := range tr.Views() {
		if _, seen := lm.Observations[viewID]; seen {
			continue
		}
		cam, ok := e.scene.Cameras[viewID]
		if !ok {
			continue
		}
		feats := e.features.Features(viewID)
		featID := tr[viewID]
		if int(featID) >= len(feats) {
			continue
		}
		pt := feats[featID]
		resid, depth := transform.ReprojectionError(cam.Pose, cam.Model, lm.Position, pt)
		if depth <= 0 || resid > e.residualBound(viewID) {
			continue
		}
		lm.Observations[viewID] = &Observation{
			View:     viewID,
			Feature:  featID,
			Point:    pt,
			Residual: resid,
		}
	}
}
