package sfm

import (
	"testing"

	"go.viam.com/test"

	"github.com/fschwaiger/gosfm/track"
)

func TestResectionAddsView(t *testing.T) {
	ds := newSynthDataset(5, 60)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 4)), test.ShouldBeNil)

	landmarksWithThree := 0
	test.That(t, engine.Resection(2), test.ShouldBeTrue)

	scene := engine.Scene()
	test.That(t, len(scene.Cameras), test.ShouldEqual, 3)
	cam := scene.Cameras[2]
	test.That(t, cam, test.ShouldNotBeNil)
	// the new camera's observations agree with the structure
	mse := scene.UpdateResiduals()
	test.That(t, mse, test.ShouldBeLessThan, 1e-6)
	for _, lm := range scene.Landmarks {
		if len(lm.Observations) == 3 {
			landmarksWithThree++
		}
	}
	test.That(t, landmarksWithThree, test.ShouldBeGreaterThanOrEqualTo, engine.opts.MinPointsPerPose)
}

func TestResectionTooFewCorrespondences(t *testing.T) {
	ds := newSynthDataset(3, 60)
	ds.restrictView(2, 5)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 1)), test.ShouldBeNil)

	test.That(t, engine.Resection(2), test.ShouldBeFalse)
	test.That(t, len(engine.Scene().Cameras), test.ShouldEqual, 2)
}

func TestRobustResectionOfImagesBatch(t *testing.T) {
	ds := newSynthDataset(5, 60)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 4)), test.ShouldBeNil)

	reconstructed, rejected := engine.RobustResectionOfImages([]track.ViewID{1, 2, 3})
	test.That(t, reconstructed, test.ShouldResemble, []track.ViewID{1, 2, 3})
	test.That(t, len(rejected), test.ShouldEqual, 0)
	test.That(t, len(engine.Scene().Cameras), test.ShouldEqual, 5)
	test.That(t, len(engine.RejectedViewIDs()), test.ShouldEqual, 0)
}

func TestRobustResectionMarksFailures(t *testing.T) {
	ds := newSynthDataset(4, 60)
	ds.restrictView(3, 5)
	engine := newTestEngine(t, ds, nil)
	test.That(t, engine.MakeInitialPair3D(track.MakePair(0, 2)), test.ShouldBeNil)

	reconstructed, rejected := engine.RobustResectionOfImages([]track.ViewID{1, 3})
	test.That(t, reconstructed, test.ShouldResemble, []track.ViewID{1})
	test.That(t, rejected, test.ShouldResemble, []track.ViewID{3})
	// failed views never come back as candidates
	_, inRejected := engine.rejected[3]
	test.That(t, inRejected, test.ShouldBeTrue)
}
