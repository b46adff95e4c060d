package sfm

import (
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/fschwaiger/gosfm/track"
)

func TestBundleAdjustmentReducesError(t *testing.T) {
	ds := newSynthDataset(5, 60)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 4)), test.ShouldBeNil)

	// nudge the structure off its optimum
	scene := engine.Scene()
	rnd := rand.New(rand.NewSource(7))
	for _, tid := range scene.LandmarkIDs() {
		lm := scene.Landmarks[tid]
		lm.Position.X += (rnd.Float64() - 0.5) * 0.02
		lm.Position.Y += (rnd.Float64() - 0.5) * 0.02
		lm.Position.Z += (rnd.Float64() - 0.5) * 0.02
	}
	before := scene.UpdateResiduals()
	test.That(t, before, test.ShouldBeGreaterThan, 0.01)

	test.That(t, engine.BundleAdjustment(true), test.ShouldBeTrue)
	after := scene.UpdateResiduals()
	test.That(t, after, test.ShouldBeLessThan, before)
}

func TestBundleAdjustmentNoOpAtOptimum(t *testing.T) {
	ds := newSynthDataset(5, 60)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 4)), test.ShouldBeNil)

	before := engine.Scene().UpdateResiduals()
	engine.BundleAdjustment(true)
	after := engine.Scene().UpdateResiduals()
	// already optimal: refinement must not make the scene worse
	test.That(t, after, test.ShouldBeLessThanOrEqualTo, before+1e-9)
}

func TestBundleAdjusterRejectsTinyScene(t *testing.T) {
	adjuster := NewGonumBundleAdjuster(golog.NewTestLogger(t))
	err := adjuster.Optimize(NewScene(), true)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBundleAdjusterKeepsGaugeFixed(t *testing.T) {
	ds := newSynthDataset(5, 60)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 4)), test.ShouldBeNil)

	scene := engine.Scene()
	first := scene.CameraIDs()[0]
	wantPose := scene.Cameras[first].Pose.Clone()

	for _, tid := range scene.LandmarkIDs() {
		scene.Landmarks[tid].Position.X += 0.01
	}
	engine.BundleAdjustment(true)

	gotPose := scene.Cameras[first].Pose
	test.That(t, gotPose.Translation.At(0, 0), test.ShouldEqual, wantPose.Translation.At(0, 0))
	test.That(t, gotPose.Rotation.At(0, 0), test.ShouldEqual, wantPose.Rotation.At(0, 0))
	test.That(t, gotPose.Rotation.At(1, 1), test.ShouldEqual, wantPose.Rotation.At(1, 1))
}
