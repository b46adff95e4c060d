package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and Translation matrices.
// The convention is world-to-camera: x_cam = R*X + t.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	U3 := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// NewCamPoseFromRotTrans creates a camera pose from a 3x3 rotation and a 3x1 translation.
func NewCamPoseFromRotTrans(rotation, translation *mat.Dense) *CamPose {
	pose := mat.NewDense(3, 4, nil)
	pose.Augment(rotation, translation)
	return NewCamPoseFromMat(pose)
}

// IdentityCamPose returns the pose of a camera at the world origin looking down +Z.
func IdentityCamPose() *CamPose {
	return NewCamPoseFromRotTrans(eye(3), mat.NewDense(3, 1, nil))
}

// Clone returns a deep copy of the pose.
func (cp *CamPose) Clone() *CamPose {
	return NewCamPoseFromMat(mat.DenseCopyOf(cp.PoseMat))
}

// TransformPoint maps a world point into the camera frame.
func (cp *CamPose) TransformPoint(pt r3.Vector) r3.Vector {
	r := cp.Rotation
	t := cp.Translation
	return r3.Vector{
		X: r.At(0, 0)*pt.X + r.At(0, 1)*pt.Y + r.At(0, 2)*pt.Z + t.At(0, 0),
		Y: r.At(1, 0)*pt.X + r.At(1, 1)*pt.Y + r.At(1, 2)*pt.Z + t.At(1, 0),
		Z: r.At(2, 0)*pt.X + r.At(2, 1)*pt.Y + r.At(2, 2)*pt.Z + t.At(2, 0),
	}
}

// Center returns the camera center in world coordinates, -R^T * t.
func (cp *CamPose) Center() r3.Vector {
	r := cp.Rotation
	t := cp.Translation
	return r3.Vector{
		X: -(r.At(0, 0)*t.At(0, 0) + r.At(1, 0)*t.At(1, 0) + r.At(2, 0)*t.At(2, 0)),
		Y: -(r.At(0, 1)*t.At(0, 0) + r.At(1, 1)*t.At(1, 0) + r.At(2, 1)*t.At(2, 0)),
		Z: -(r.At(0, 2)*t.At(0, 0) + r.At(1, 2)*t.At(1, 0) + r.At(2, 2)*t.At(2, 0)),
	}
}

// ProjectionMatrix returns the 3x4 projection matrix K*[R|t]. A nil camera
// matrix returns [R|t] itself.
func (cp *CamPose) ProjectionMatrix(k *mat.Dense) *mat.Dense {
	if k == nil {
		return mat.DenseCopyOf(cp.PoseMat)
	}
	p := mat.NewDense(3, 4, nil)
	p.Mul(k, cp.PoseMat)
	return p
}

// AngleAxis returns the Rodrigues angle-axis vector of the rotation.
func (cp *CamPose) AngleAxis() r3.Vector {
	return RotationToAngleAxis(cp.Rotation)
}

// adjustPoseSign adjusts the sign of a pose.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	// take 3x3 sub-matrix
	subPose := pose.Slice(0, 3, 0, 3)

	// if determinant is negative, scale by -1
	if m := mat.DenseCopyOf(subPose); mat.Det(m) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]mat.Dense, 4)
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	// adjust sign of poses
	posesOut := make([]*mat.Dense, 4)
	for i := range poses {
		posesOut[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}
	return posesOut, nil
}

// countPositiveDepth triangulates the normalized correspondences with the
// candidate pose and counts points with positive depth in both cameras.
func countPositiveDepth(pose *mat.Dense, pts1, pts2 []r2.Point) int {
	cp := NewCamPoseFromMat(pose)
	p1 := IdentityCamPose().ProjectionMatrix(nil)
	p2 := cp.ProjectionMatrix(nil)
	nPositive := 0
	for i := range pts1 {
		pt, err := TriangulateMultiView([]*mat.Dense{p1, p2}, []r2.Point{pts1[i], pts2[i]})
		if err != nil {
			continue
		}
		if pt.Z > 0 && cp.TransformPoint(pt).Z > 0 {
			nPositive++
		}
	}
	return nPositive
}

// GetCorrectCameraPose returns the pose with the most positive depth values
// over the normalized correspondences.
func GetCorrectCameraPose(poses []*mat.Dense, pts1, pts2 []r2.Point) *mat.Dense {
	maxNumPosDepth := -1
	correctPose := poses[0]
	for _, pose := range poses {
		if nPosDepth := countPositiveDepth(pose, pts1, pts2); nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = mat.DenseCopyOf(pose)
		}
	}
	return correctPose
}

// EstimateNewPose estimates the pose of the camera of the second set of points
// with respect to the camera of the first set. pts1 and pts2 are matched pixel
// coordinates in the two images, k the shared camera matrix. The translation
// is recovered up to scale only.
func EstimateNewPose(pts1, pts2 []r2.Point, k *mat.Dense) (*CamPose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	fundamentalMatrix, err := ComputeFundamentalMatrixAllPoints(pts1, pts2, true)
	if err != nil {
		return nil, err
	}

	essentialMatrix, err := GetEssentialMatrixFromFundamental(k, k, fundamentalMatrix)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(essentialMatrix)
	if err != nil {
		return nil, err
	}
	// disambiguate in normalized image coordinates
	kInv, err := invert3x3(k)
	if err != nil {
		return nil, err
	}
	pts1N := applyNormalization(kInv, pts1)
	pts2N := applyNormalization(kInv, pts2)
	pose := GetCorrectCameraPose(poses, pts1N, pts2N)
	return NewCamPoseFromMat(pose), nil
}

// AngleAxisToRotation converts a Rodrigues vector to a 3x3 rotation matrix.
func AngleAxisToRotation(aa r3.Vector) *mat.Dense {
	theta := aa.Norm()
	if theta < 1e-12 {
		// first order expansion
		r := eye(3)
		r.Add(r, getCrossProductMatFromPoint(aa))
		return r
	}
	axis := aa.Mul(1 / theta)
	k := getCrossProductMatFromPoint(axis)
	var k2 mat.Dense
	k2.Mul(k, k)
	r := eye(3)
	var sinTerm, cosTerm mat.Dense
	sinTerm.Scale(math.Sin(theta), k)
	cosTerm.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &sinTerm)
	r.Add(r, &cosTerm)
	return r
}

// RotationToAngleAxis converts a 3x3 rotation matrix to a Rodrigues vector.
func RotationToAngleAxis(r *mat.Dense) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := (trace - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// near half-turn: recover axis from the diagonal
		xx := (r.At(0, 0) + 1) / 2
		yy := (r.At(1, 1) + 1) / 2
		zz := (r.At(2, 2) + 1) / 2
		axis := r3.Vector{X: math.Sqrt(math.Max(xx, 0)), Y: math.Sqrt(math.Max(yy, 0)), Z: math.Sqrt(math.Max(zz, 0))}
		if r.At(0, 1)+r.At(1, 0) < 0 {
			axis.Y = -axis.Y
		}
		if r.At(0, 2)+r.At(2, 0) < 0 {
			axis.Z = -axis.Z
		}
		return axis.Normalize().Mul(theta)
	}
	scale := theta / (2 * math.Sin(theta))
	return r3.Vector{
		X: (r.At(2, 1) - r.At(1, 2)) * scale,
		Y: (r.At(0, 2) - r.At(2, 0)) * scale,
		Z: (r.At(1, 0) - r.At(0, 1)) * scale,
	}
}

func invert3x3(m *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, errors.Wrap(err, "matrix is not invertible")
	}
	out := mat.NewDense(3, 3, nil)
	out.Copy(&inv)
	return out, nil
}

func applyNormalization(kInv *mat.Dense, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		x := kInv.At(0, 0)*pt.X + kInv.At(0, 1)*pt.Y + kInv.At(0, 2)
		y := kInv.At(1, 0)*pt.X + kInv.At(1, 1)*pt.Y + kInv.At(1, 2)
		w := kInv.At(2, 0)*pt.X + kInv.At(2, 1)*pt.Y + kInv.At(2, 2)
		out[i] = r2.Point{X: x / w, Y: y / w}
	}
	return out
}
