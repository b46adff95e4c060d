package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinPnPCorrespondences is the minimal sample size of the DLT pose solver.
const MinPnPCorrespondences = 6

// ErrPnPNotEnoughPoints is returned when fewer than 6 correspondences are given.
var ErrPnPNotEnoughPoints = errors.New("perspective pose estimation needs at least 6 correspondences")

// PnPResult is the outcome of a robust perspective pose estimation.
type PnPResult struct {
	Pose *CamPose
	// Inliers are indices into the input correspondence slices.
	Inliers []int
	// MaxError is the largest reprojection error among the inliers, in pixels.
	MaxError float64
}

// RansacPnPOptions tunes the robust pose estimation loop.
type RansacPnPOptions struct {
	MaxIterations     int     `json:"max_iterations"`
	InlierThresholdPx float64 `json:"inlier_threshold_px"`
	Seed              int64   `json:"seed"`
}

// DefaultRansacPnPOptions returns the options used when none are supplied.
func DefaultRansacPnPOptions() *RansacPnPOptions {
	return &RansacPnPOptions{
		MaxIterations:     256,
		InlierThresholdPx: 8.0,
	}
}

// EstimatePoseDLT computes a world-to-camera pose from 6 or more 2D-3D
// correspondences with the direct linear transform, using known intrinsics.
// It is not robust to outliers; use RansacPnP for contaminated input.
func EstimatePoseDLT(pts2D []r2.Point, pts3D []r3.Vector, intrinsics *PinholeCameraIntrinsics) (*CamPose, error) {
	if len(pts2D) != len(pts3D) {
		return nil, errors.New("the 2D and 3D correspondence sets don't have the same number of elements")
	}
	if len(pts2D) < MinPnPCorrespondences {
		return nil, ErrPnPNotEnoughPoints
	}
	n := len(pts2D)
	a := mat.NewDense(2*n, 12, nil)
	for i := range pts2D {
		// normalized image coordinates remove the intrinsics from the system
		obs := intrinsics.NormalizePoint(pts2D[i])
		X, Y, Z := pts3D[i].X, pts3D[i].Y, pts3D[i].Z
		a.SetRow(2*i, []float64{
			X, Y, Z, 1, 0, 0, 0, 0,
			-obs.X * X, -obs.X * Y, -obs.X * Z, -obs.X,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0, X, Y, Z, 1,
			-obs.Y * X, -obs.Y * Y, -obs.Y * Z, -obs.Y,
		})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize DLT system")
	}
	var v mat.Dense
	svd.VTo(&v)
	m := mat.NewDense(3, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, v.At(4*r+c, 11))
		}
	}

	// The solution is defined up to a signed scale; pick the sign that puts
	// the points in front of the camera.
	best := (*CamPose)(nil)
	bestPositive := -1
	for _, sign := range []float64{1, -1} {
		var ms mat.Dense
		ms.Scale(sign, m)
		pose, err := poseFromProjection(&ms)
		if err != nil {
			continue
		}
		positive := 0
		for _, pt := range pts3D {
			if pose.TransformPoint(pt).Z > 0 {
				positive++
			}
		}
		if positive > bestPositive {
			bestPositive = positive
			best = pose
		}
	}
	if best == nil {
		return nil, errors.New("degenerate DLT solution")
	}
	return best, nil
}

// poseFromProjection orthonormalizes the leading 3x3 block of a normalized
// projection matrix into a proper rotation and rescales the translation.
func poseFromProjection(m *mat.Dense) (*CamPose, error) {
	rTilde := mat.DenseCopyOf(m.Slice(0, 3, 0, 3))
	mats := performSVD(rTilde)
	if mats == nil {
		return nil, errors.New("failed to factorize rotation block")
	}
	var r mat.Dense
	r.Mul(mats.U, mats.VT)
	if mat.Det(&r) < 0 {
		// proper rotation only
		d := eye(3)
		d.Set(2, 2, -1)
		r.Mul(mats.U, d)
		r.Mul(&r, mats.VT)
	}
	scale := (mats.S.At(0, 0) + mats.S.At(1, 1) + mats.S.At(2, 2)) / 3
	if scale < 1e-15 {
		return nil, errors.New("zero scale projection")
	}
	t := mat.NewDense(3, 1, []float64{
		m.At(0, 3) / scale,
		m.At(1, 3) / scale,
		m.At(2, 3) / scale,
	})
	return NewCamPoseFromRotTrans(mat.DenseCopyOf(&r), t), nil
}

// RansacPnP estimates a camera pose from 2D-3D correspondences while
// separating inliers from outliers. The sampling is seeded from the options,
// so results are deterministic for identical input.
func RansacPnP(pts2D []r2.Point, pts3D []r3.Vector, intrinsics *PinholeCameraIntrinsics, opts *RansacPnPOptions) (*PnPResult, error) {
	if opts == nil {
		opts = DefaultRansacPnPOptions()
	}
	if len(pts2D) != len(pts3D) {
		return nil, errors.New("the 2D and 3D correspondence sets don't have the same number of elements")
	}
	n := len(pts2D)
	if n < MinPnPCorrespondences {
		return nil, ErrPnPNotEnoughPoints
	}
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}

	classify := func(pose *CamPose) ([]int, float64) {
		inliers := []int{}
		maxErr := 0.0
		for i := range pts2D {
			resid, depth := ReprojectionError(pose, model, pts3D[i], pts2D[i])
			if depth <= 0 || resid > opts.InlierThresholdPx {
				continue
			}
			inliers = append(inliers, i)
			if resid > maxErr {
				maxErr = resid
			}
		}
		return inliers, maxErr
	}

	//nolint:gosec
	rnd := rand.New(rand.NewSource(opts.Seed))
	var bestPose *CamPose
	var bestInliers []int
	bestErr := math.Inf(1)
	sample2D := make([]r2.Point, MinPnPCorrespondences)
	sample3D := make([]r3.Vector, MinPnPCorrespondences)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		for i, idx := range rnd.Perm(n)[:MinPnPCorrespondences] {
			sample2D[i] = pts2D[idx]
			sample3D[i] = pts3D[idx]
		}
		pose, err := EstimatePoseDLT(sample2D, sample3D, intrinsics)
		if err != nil {
			continue
		}
		inliers, maxErr := classify(pose)
		if len(inliers) > len(bestInliers) || (len(inliers) == len(bestInliers) && maxErr < bestErr) {
			bestPose, bestInliers, bestErr = pose, inliers, maxErr
		}
	}
	if bestPose == nil || len(bestInliers) < MinPnPCorrespondences {
		return nil, errors.New("no pose with enough inliers found")
	}

	// refit on the inlier set
	refit2D := make([]r2.Point, len(bestInliers))
	refit3D := make([]r3.Vector, len(bestInliers))
	for i, idx := range bestInliers {
		refit2D[i] = pts2D[idx]
		refit3D[i] = pts3D[idx]
	}
	if refined, err := EstimatePoseDLT(refit2D, refit3D, intrinsics); err == nil {
		if inliers, maxErr := classify(refined); len(inliers) >= len(bestInliers) {
			bestPose, bestInliers, bestErr = refined, inliers, maxErr
		}
	}
	return &PnPResult{Pose: bestPose, Inliers: bestInliers, MaxError: bestErr}, nil
}
