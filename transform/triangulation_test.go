package transform

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestTriangulateMultiView(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	intrinsics := testIntrinsics()
	k := intrinsics.GetCameraMatrix()
	poses := []*CamPose{
		IdentityCamPose(),
		testRelativePose(),
		NewCamPoseFromRotTrans(
			AngleAxisToRotation(r3.Vector{X: -0.05, Y: -0.2, Z: 0.02}),
			mat.NewDense(3, 1, []float64{-1.2, 0.3, 0.1}),
		),
	}
	for _, want := range scatterPoints(20, rnd) {
		projections := make([]*mat.Dense, len(poses))
		obs := make([]r2.Point, len(poses))
		model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
		for i, pose := range poses {
			projections[i] = pose.ProjectionMatrix(k)
			obs[i], _ = model.Project(pose.TransformPoint(want))
		}
		got, err := TriangulateMultiView(projections, obs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestTriangulateTwoView(t *testing.T) {
	intrinsics := testIntrinsics()
	k := intrinsics.GetCameraMatrix()
	pose2 := testRelativePose()
	want := r3.Vector{X: 0.5, Y: -0.25, Z: 6}
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	pt1, _ := model.Project(want)
	pt2, _ := model.Project(pose2.TransformPoint(want))
	got, err := TriangulateTwoView(IdentityCamPose(), pose2, k, k, pt1, pt2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestTriangulateMultiViewErrors(t *testing.T) {
	_, err := TriangulateMultiView(nil, []r2.Point{{X: 1, Y: 1}})
	test.That(t, err, test.ShouldNotBeNil)
	p := IdentityCamPose().ProjectionMatrix(nil)
	_, err = TriangulateMultiView([]*mat.Dense{p}, []r2.Point{{X: 1, Y: 1}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTriangulationAngle(t *testing.T) {
	pt := r3.Vector{}
	c1 := r3.Vector{X: 1, Y: 0, Z: 0}
	c2 := r3.Vector{X: 0, Y: 1, Z: 0}
	test.That(t, TriangulationAngle(c1, c2, pt), test.ShouldAlmostEqual, 90, 1e-9)
	// zero baseline
	test.That(t, TriangulationAngle(c1, c1, pt), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestReprojectionError(t *testing.T) {
	intrinsics := testIntrinsics()
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	pose := IdentityCamPose()
	pt := r3.Vector{X: 0.1, Y: 0.2, Z: 5}
	obs, _ := model.Project(pt)
	resid, depth := ReprojectionError(pose, model, pt, obs)
	test.That(t, resid, test.ShouldBeLessThan, 1e-12)
	test.That(t, depth, test.ShouldAlmostEqual, 5, 1e-12)

	// a point behind the camera has infinite residual
	resid, depth = ReprojectionError(pose, model, r3.Vector{X: 0, Y: 0, Z: -5}, obs)
	test.That(t, depth, test.ShouldBeLessThan, 0)
	test.That(t, resid, test.ShouldBeGreaterThan, 1e10)
}
