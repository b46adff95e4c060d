package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TriangulateMultiView computes a 3D point from two or more observations with
// the linear (DLT) method. projections[i] is the 3x4 projection matrix of the
// camera that observed pts[i]; the two slices must line up.
func TriangulateMultiView(projections []*mat.Dense, pts []r2.Point) (r3.Vector, error) {
	if len(projections) != len(pts) {
		return r3.Vector{}, errors.New("each observation needs exactly one projection matrix")
	}
	if len(pts) < 2 {
		return r3.Vector{}, errors.New("triangulation needs at least 2 observations")
	}
	a := mat.NewDense(2*len(pts), 4, nil)
	for i, p := range projections {
		x, y := pts[i].X, pts[i].Y
		for c := 0; c < 4; c++ {
			a.Set(2*i, c, x*p.At(2, c)-p.At(0, c))
			a.Set(2*i+1, c, y*p.At(2, c)-p.At(1, c))
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) < 1e-15 {
		return r3.Vector{}, errors.New("triangulated point at infinity")
	}
	return r3.Vector{
		X: v.At(0, 3) / w,
		Y: v.At(1, 3) / w,
		Z: v.At(2, 3) / w,
	}, nil
}

// TriangulateTwoView triangulates one correspondence given the two camera
// poses and camera matrices, in pixel coordinates.
func TriangulateTwoView(pose1, pose2 *CamPose, k1, k2 *mat.Dense, pt1, pt2 r2.Point) (r3.Vector, error) {
	return TriangulateMultiView(
		[]*mat.Dense{pose1.ProjectionMatrix(k1), pose2.ProjectionMatrix(k2)},
		[]r2.Point{pt1, pt2},
	)
}

// TriangulationAngle returns the angle, in degrees, subtended at the world
// point by the two camera centers. Small angles mean a short baseline and a
// badly conditioned triangulation.
func TriangulationAngle(center1, center2, point r3.Vector) float64 {
	ray1 := center1.Sub(point)
	ray2 := center2.Sub(point)
	n1, n2 := ray1.Norm(), ray2.Norm()
	if n1 == 0 || n2 == 0 {
		return 0
	}
	cosAngle := ray1.Dot(ray2) / (n1 * n2)
	if cosAngle > 1 {
		cosAngle = 1
	} else if cosAngle < -1 {
		cosAngle = -1
	}
	return math.Acos(cosAngle) * 180 / math.Pi
}

// ReprojectionError returns the pixel distance between the observation and
// the projection of the world point, and the depth of the point in the
// camera frame.
func ReprojectionError(pose *CamPose, model *PinholeCameraModel, point r3.Vector, observed r2.Point) (float64, float64) {
	projected, depth := model.Project(pose.TransformPoint(point))
	if depth <= 0 {
		return math.Inf(1), depth
	}
	return projected.Sub(observed).Norm(), depth
}
