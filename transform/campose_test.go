package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// testIntrinsics is a 640x480 camera shared by the geometry tests.
func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 600, Fy: 600, Ppx: 320, Ppy: 240,
	}
}

// testRelativePose is a gentle rotation about Y with a mostly-lateral baseline.
func testRelativePose() *CamPose {
	aa := r3.Vector{X: 0.02, Y: 0.15, Z: -0.01}
	t := mat.NewDense(3, 1, []float64{1, 0.1, 0.2})
	return NewCamPoseFromRotTrans(AngleAxisToRotation(aa), t)
}

// scatterPoints makes non-coplanar world points in front of both test cameras.
func scatterPoints(n int, rnd *rand.Rand) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{
			X: rnd.Float64()*4 - 2,
			Y: rnd.Float64()*3 - 1.5,
			Z: rnd.Float64()*4 + 4,
		}
	}
	return pts
}

func projectAll(pose *CamPose, intrinsics *PinholeCameraIntrinsics, pts []r3.Vector) []r2.Point {
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i], _ = model.Project(pose.TransformPoint(pt))
	}
	return out
}

func rotationAngleBetween(r1, r2 *mat.Dense) float64 {
	var rel mat.Dense
	rel.Mul(r1, transposeDense(r2))
	return RotationToAngleAxis(&rel).Norm() * 180 / math.Pi
}

func TestCamPoseCenter(t *testing.T) {
	pose := testRelativePose()
	center := pose.Center()
	// mapping the center into the camera frame must give the origin
	inCam := pose.TransformPoint(center)
	test.That(t, inCam.Norm(), test.ShouldBeLessThan, 1e-10)
}

func TestAngleAxisRoundTrip(t *testing.T) {
	for _, aa := range []r3.Vector{
		{},
		{X: 0.3, Y: -0.2, Z: 0.9},
		{X: 1e-9, Y: 0, Z: 0},
		{X: 0, Y: 2.5, Z: 0},
	} {
		r := AngleAxisToRotation(aa)
		back := RotationToAngleAxis(r)
		test.That(t, back.Sub(aa).Norm(), test.ShouldBeLessThan, 1e-8)
		test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1, 1e-10)
	}
}

func TestDecomposeEssentialMatrix(t *testing.T) {
	pose := testRelativePose()
	ess := EssentialMatrixFromPose(pose.Rotation, pose.Translation)
	r1, r2, tr, err := DecomposeEssentialMatrix(ess)
	test.That(t, err, test.ShouldBeNil)

	a1 := rotationAngleBetween(r1, pose.Rotation)
	a2 := rotationAngleBetween(r2, pose.Rotation)
	test.That(t, math.Min(a1, a2), test.ShouldBeLessThan, 1e-6)

	// translation is recovered up to sign and scale
	got := r3.Vector{X: tr.At(0, 0), Y: tr.At(1, 0), Z: tr.At(2, 0)}.Normalize()
	want := r3.Vector{X: 1, Y: 0.1, Z: 0.2}.Normalize()
	dot := math.Abs(got.Dot(want))
	test.That(t, dot, test.ShouldBeGreaterThan, 1-1e-9)
}

func TestEstimateNewPose(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	intrinsics := testIntrinsics()
	pose := testRelativePose()
	pts := scatterPoints(60, rnd)
	pts1 := projectAll(IdentityCamPose(), intrinsics, pts)
	pts2 := projectAll(pose, intrinsics, pts)

	got, err := EstimateNewPose(pts1, pts2, intrinsics.GetCameraMatrix())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rotationAngleBetween(got.Rotation, pose.Rotation), test.ShouldBeLessThan, 0.5)

	gotT := r3.Vector{X: got.Translation.At(0, 0), Y: got.Translation.At(1, 0), Z: got.Translation.At(2, 0)}.Normalize()
	wantT := r3.Vector{X: 1, Y: 0.1, Z: 0.2}.Normalize()
	test.That(t, gotT.Dot(wantT), test.ShouldBeGreaterThan, 0.999)
}

func TestEstimateNewPoseBadInput(t *testing.T) {
	_, err := EstimateNewPose(make([]r2.Point, 4), make([]r2.Point, 5), testIntrinsics().GetCameraMatrix())
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateNewPose(make([]r2.Point, 4), make([]r2.Point, 4), testIntrinsics().GetCameraMatrix())
	test.That(t, err, test.ShouldNotBeNil)
}
