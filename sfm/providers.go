package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// FeatureProvider hands out the detected keypoints of a view, indexed by
// feature ID.
type FeatureProvider interface {
	Features(id track.ViewID) []r2.Point
}

// MatchProvider hands out the putative pairwise matches of the dataset.
type MatchProvider interface {
	Pairs() []track.Pair
	Matches(p track.Pair) []track.Match
}

// FeatureSet is an in-memory FeatureProvider.
type FeatureSet map[track.ViewID][]r2.Point

// Features implements FeatureProvider.
func (fs FeatureSet) Features(id track.ViewID) []r2.Point {
	return fs[id]
}

// MatchSet is an in-memory MatchProvider.
type MatchSet track.MatchesByPair

// Pairs implements MatchProvider. Pairs come out in canonical ascending
// order so downstream consumers iterate deterministically.
func (ms MatchSet) Pairs() []track.Pair {
	out := make([]track.Pair, 0, len(ms))
	for p := range ms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Matches implements MatchProvider.
func (ms MatchSet) Matches(p track.Pair) []track.Match {
	return ms[p]
}

// RelativePoseSolver estimates the pose of a second view relative to a first
// from point correspondences in pixel coordinates.
type RelativePoseSolver interface {
	EstimateRelativePose(pts1, pts2 []r2.Point, k *mat.Dense) (*transform.CamPose, error)
}

// ResectionSolver estimates the absolute pose of a view from 2D-3D
// correspondences.
type ResectionSolver interface {
	EstimatePose(pts2D []r2.Point, pts3D []r3.Vector, intrinsics *transform.PinholeCameraIntrinsics) (*transform.PnPResult, error)
}

// TriangulationSolver intersects observation rays into a 3D point.
type TriangulationSolver interface {
	Triangulate(projections []*mat.Dense, pts []r2.Point) (r3.Vector, error)
}

// BundleAdjuster jointly refines the poses, structure and optionally the
// intrinsics of a scene.
type BundleAdjuster interface {
	Optimize(scene *Scene, fixedIntrinsics bool) error
}

type epipolarPoseSolver struct{}

func (epipolarPoseSolver) EstimateRelativePose(pts1, pts2 []r2.Point, k *mat.Dense) (*transform.CamPose, error) {
	return transform.EstimateNewPose(pts1, pts2, k)
}

type ransacResectionSolver struct {
	opts *transform.RansacPnPOptions
}

func (s *ransacResectionSolver) EstimatePose(
	pts2D []r2.Point, pts3D []r3.Vector, intrinsics *transform.PinholeCameraIntrinsics,
) (*transform.PnPResult, error) {
	return transform.RansacPnP(pts2D, pts3D, intrinsics, s.opts)
}

type linearTriangulationSolver struct{}

func (linearTriangulationSolver) Triangulate(projections []*mat.Dense, pts []r2.Point) (r3.Vector, error) {
	return transform.TriangulateMultiView(projections, pts)
}
