package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// pairCandidate is a matched image pair scored as a seed candidate.
type pairCandidate struct {
	pair     track.Pair
	shared   int
	medAngle float64
	score    float64
}

// getBestInitialImagePairs scores every matched pair as a reconstruction
// seed and returns the candidates best first. A candidate must share enough
// tracks and its median parallax angle must sit in the configured band: too
// narrow a baseline triangulates badly, too wide a one rarely matches
// honestly.
func (e *SequentialReconstructionEngine) getBestInitialImagePairs() ([]pairCandidate, error) {
	if e.state == stateUninitialized {
		return nil, errors.New("tracks not initialized")
	}
	var candidates []pairCandidate
	for _, pair := range e.matches.Pairs() {
		shared := e.perView.Shared(pair.A, pair.B)
		if len(shared) < e.opts.MinPointsPerPose {
			continue
		}
		kept, ptsA, ptsB := e.sharedPoints(pair, shared)
		if len(kept) < e.opts.MinPointsPerPose {
			continue
		}
		kA := e.views[pair.A].GetCameraMatrix()
		pose, err := e.poseSolver.EstimateRelativePose(ptsA, ptsB, kA)
		if err != nil {
			e.logger.Debugw("pair pose estimation failed", "pair", pair, "error", err)
			continue
		}
		angle, ok := e.medianParallax(pair, pose, ptsA, ptsB)
		if !ok || angle < e.opts.MinSeedAngleDeg || angle > e.opts.MaxSeedAngleDeg {
			continue
		}
		candidates = append(candidates, pairCandidate{
			pair:     pair,
			shared:   len(kept),
			medAngle: angle,
			score:    float64(len(kept)) * angle,
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoInitialPair
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].pair.A != candidates[j].pair.A {
			return candidates[i].pair.A < candidates[j].pair.A
		}
		return candidates[i].pair.B < candidates[j].pair.B
	})
	return candidates, nil
}

// sharedPoints collects the pixel coordinates of the shared tracks in both
// views of a pair, in track order. Tracks whose feature index falls outside
// the view's feature list are dropped, so the returned track ids stay
// aligned with the point slices.
func (e *SequentialReconstructionEngine) sharedPoints(
	pair track.Pair, shared []track.ID,
) (kept []track.ID, ptsA, ptsB []r2.Point) {
	featsA := e.features.Features(pair.A)
	featsB := e.features.Features(pair.B)
	kept = make([]track.ID, 0, len(shared))
	ptsA = make([]r2.Point, 0, len(shared))
	ptsB = make([]r2.Point, 0, len(shared))
	for _, tid := range shared {
		tr := e.tracks[tid]
		fa, fb := tr[pair.A], tr[pair.B]
		if int(fa) >= len(featsA) || int(fb) >= len(featsB) {
			continue
		}
		kept = append(kept, tid)
		ptsA = append(ptsA, featsA[fa])
		ptsB = append(ptsB, featsB[fb])
	}
	return kept, ptsA, ptsB
}

// medianParallax triangulates the pair's correspondences and returns the
// median angle under which the points see the two camera centers.
func (e *SequentialReconstructionEngine) medianParallax(
	pair track.Pair, pose *transform.CamPose, ptsA, ptsB []r2.Point,
) (float64, bool) {
	kA := e.views[pair.A].GetCameraMatrix()
	kB := e.views[pair.B].GetCameraMatrix()
	poseA := transform.IdentityCamPose()
	centerB := pose.Center()
	angles := make([]float64, 0, len(ptsA))
	for i := range ptsA {
		point, err := transform.TriangulateTwoView(poseA, pose, kA, kB, ptsA[i], ptsB[i])
		if err != nil {
			continue
		}
		if poseA.TransformPoint(point).Z <= 0 || pose.TransformPoint(point).Z <= 0 {
			continue
		}
		angles = append(angles, transform.TriangulationAngle(poseA.Center(), centerB, point))
	}
	if len(angles) == 0 {
		return 0, false
	}
	sort.Float64s(angles)
	return stat.Quantile(0.5, stat.Empirical, angles, nil), true
}

// ChooseInitialPair picks the reconstruction seed: the forced pair when one
// is configured, otherwise the best scored candidate.
func (e *SequentialReconstructionEngine) ChooseInitialPair() (track.Pair, error) {
	if forced := e.opts.InitialPair; forced != nil {
		pair := track.MakePair(forced.A, forced.B)
		if _, ok := e.views[pair.A]; !ok {
			return track.Pair{}, errors.Wrapf(ErrNoInitialPair, "forced view %d unknown", pair.A)
		}
		if _, ok := e.views[pair.B]; !ok {
			return track.Pair{}, errors.Wrapf(ErrNoInitialPair, "forced view %d unknown", pair.B)
		}
		if shared := e.perView.Shared(pair.A, pair.B); len(shared) < e.opts.MinSeedPoints {
			return track.Pair{}, errors.Wrapf(ErrNoInitialPair,
				"forced pair (%d, %d) shares only %d tracks", pair.A, pair.B, len(shared))
		}
		return pair, nil
	}
	candidates, err := e.getBestInitialImagePairs()
	if err != nil {
		return track.Pair{}, err
	}
	best := candidates[0]
	e.logger.Infow("initial pair chosen",
		"pair", best.pair,
		"shared_tracks", best.shared,
		"median_angle_deg", best.medAngle,
	)
	return best.pair, nil
}

// MakeInitialPair3D bootstraps the scene from a pair: estimate the relative
// pose, triangulate every shared track, and keep the triangulations that
// reproject within the seed bound in front of both cameras.
func (e *SequentialReconstructionEngine) MakeInitialPair3D(pair track.Pair) error {
	shared := e.perView.Shared(pair.A, pair.B)
	if len(shared) < e.opts.MinSeedPoints {
		return errors.Wrapf(ErrSeedFailed, "pair (%d, %d) shares only %d tracks",
			pair.A, pair.B, len(shared))
	}
	shared, ptsA, ptsB := e.sharedPoints(pair, shared)
	if len(shared) < e.opts.MinSeedPoints {
		return errors.Wrapf(ErrSeedFailed, "pair (%d, %d) has only %d usable correspondences",
			pair.A, pair.B, len(shared))
	}
	kA := e.views[pair.A].GetCameraMatrix()
	pose, err := e.poseSolver.EstimateRelativePose(ptsA, ptsB, kA)
	if err != nil {
		return errors.Wrapf(ErrSeedFailed, "pair (%d, %d): %v", pair.A, pair.B, err)
	}

	camA := &Camera{Pose: transform.IdentityCamPose(), Model: e.intrinsicsFor(pair.A)}
	camB := &Camera{Pose: pose, Model: e.intrinsicsFor(pair.B)}
	kB := e.views[pair.B].GetCameraMatrix()

	kept := 0
	for i, tid := range shared {
		point, err := transform.TriangulateTwoView(camA.Pose, camB.Pose, kA, kB, ptsA[i], ptsB[i])
		if err != nil {
			continue
		}
		residA, depthA := transform.ReprojectionError(camA.Pose, camA.Model, point, ptsA[i])
		residB, depthB := transform.ReprojectionError(camB.Pose, camB.Model, point, ptsB[i])
		if depthA <= 0 || depthB <= 0 ||
			residA > e.opts.SeedReprojectionErrorPx || residB > e.opts.SeedReprojectionErrorPx {
			continue
		}
		tr := e.tracks[tid]
		e.scene.Landmarks[tid] = &Landmark{
			Position: point,
			Observations: map[track.ViewID]*Observation{
				pair.A: {View: pair.A, Feature: tr[pair.A], Point: ptsA[i], Residual: residA},
				pair.B: {View: pair.B, Feature: tr[pair.B], Point: ptsB[i], Residual: residB},
			},
		}
		kept++
	}
	if kept < e.opts.MinSeedPoints {
		e.scene = NewScene()
		return errors.Wrapf(ErrSeedFailed, "pair (%d, %d) kept %d of %d triangulations",
			pair.A, pair.B, kept, len(shared))
	}

	e.scene.Cameras[pair.A] = camA
	e.scene.Cameras[pair.B] = camB
	e.setConfidence(pair.A, e.opts.SeedReprojectionErrorPx)
	e.setConfidence(pair.B, e.opts.SeedReprojectionErrorPx)
	delete(e.remaining, pair.A)
	delete(e.remaining, pair.B)
	e.state = stateSeedEstablished
	e.logger.Infow("seed established", "pair", pair, "landmarks", kept)
	return nil
}
