package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPinholeCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldNotBeNil)
	test.That(t, (&PinholeCameraIntrinsics{}).CheckValid(), test.ShouldNotBeNil)
	test.That(t, (&PinholeCameraIntrinsics{Width: 640, Height: 480, Fy: 600}).CheckValid(), test.ShouldNotBeNil)
	test.That(t, testIntrinsics().CheckValid(), test.ShouldBeNil)
}

func TestGetCameraMatrix(t *testing.T) {
	k := testIntrinsics().GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 600)
	test.That(t, k.At(1, 1), test.ShouldEqual, 600)
	test.That(t, k.At(0, 2), test.ShouldEqual, 320)
	test.That(t, k.At(1, 2), test.ShouldEqual, 240)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1)
}

func TestProjectUnprojectRoundTrip(t *testing.T) {
	intrinsics := testIntrinsics()
	x, y, z := intrinsics.PixelToPoint(400, 300, 2.5)
	px, py, pz := intrinsics.ProjectToPixel(x, y, z)
	test.That(t, px, test.ShouldAlmostEqual, 400, 1e-9)
	test.That(t, py, test.ShouldAlmostEqual, 300, 1e-9)
	test.That(t, pz, test.ShouldAlmostEqual, 2.5, 1e-9)
}

func TestModelProjectMatchesIntrinsics(t *testing.T) {
	intrinsics := testIntrinsics()
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics}
	pt := r3.Vector{X: 0.4, Y: -0.3, Z: 3}
	got, depth := model.Project(pt)
	wantX, wantY, _ := intrinsics.ProjectToPixel(pt.X, pt.Y, pt.Z)
	test.That(t, got.X, test.ShouldAlmostEqual, wantX, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, wantY, 1e-12)
	test.That(t, depth, test.ShouldAlmostEqual, 3, 1e-12)
}

func TestNormalizePoint(t *testing.T) {
	intrinsics := testIntrinsics()
	n := intrinsics.NormalizePoint(r2.Point{X: 320, Y: 240})
	test.That(t, n.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, n.Y, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestBrownConrady(t *testing.T) {
	// zero parameters leave coordinates untouched
	bc, err := NewBrownConrady(nil)
	test.That(t, err, test.ShouldBeNil)
	x, y := bc.Transform(0.25, -0.125)
	test.That(t, x, test.ShouldAlmostEqual, 0.25, 1e-12)
	test.That(t, y, test.ShouldAlmostEqual, -0.125, 1e-12)

	// short parameter lists are padded
	bc, err = NewBrownConrady([]float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0.1, 0, 0, 0, 0})

	_, err = NewBrownConrady(make([]float64, 6))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewDistorter(t *testing.T) {
	d, err := NewDistorter(BrownConradyDistortionType, []float64{0.1, 0.01})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, BrownConradyDistortionType)

	d, err = NewDistorter(NoDistortionType, nil)
	test.That(t, err, test.ShouldBeNil)
	x, y := d.Transform(1, 2)
	test.That(t, x, test.ShouldEqual, 1.0)
	test.That(t, y, test.ShouldEqual, 2.0)

	_, err = NewDistorter(DistortionType("fisheye"), nil)
	test.That(t, err, test.ShouldNotBeNil)
}
