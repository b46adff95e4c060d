package sfm

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// gridTracks builds one single-view track per given point, so scoring can be
// exercised without a full dataset.
func gridTracks(viewID track.ViewID, pts []r2.Point) (track.Map, FeatureSet, []track.ID) {
	tracks := track.Map{}
	ids := make([]track.ID, len(pts))
	for i := range pts {
		tid := track.ID(i)
		tracks[tid] = track.Track{viewID: track.FeatureID(i)}
		ids[i] = tid
	}
	return tracks, FeatureSet{viewID: pts}, ids
}

func TestPyramidSpreadBeatsClump(t *testing.T) {
	viewID := track.ViewID(0)
	views := map[track.ViewID]*transform.PinholeCameraIntrinsics{viewID: synthIntrinsics()}
	opts := DefaultOptions()

	// 16 points on a 4x4 grid across the whole image
	var spread []r2.Point
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			spread = append(spread, r2.Point{
				X: 80 + 160*float64(c),
				Y: 60 + 120*float64(r),
			})
		}
	}
	// 16 points inside one fine cell
	var clumped []r2.Point
	for i := 0; i < 16; i++ {
		clumped = append(clumped, r2.Point{X: 100 + float64(i)/10, Y: 100 + float64(i)/10})
	}

	tracks, feats, ids := gridTracks(viewID, spread)
	spreadScore := newPyramidScorer(opts, views, feats, tracks).score(viewID, ids)

	tracks, feats, ids = gridTracks(viewID, clumped)
	clumpScore := newPyramidScorer(opts, views, feats, tracks).score(viewID, ids)

	test.That(t, spreadScore, test.ShouldBeGreaterThan, clumpScore)
	// a clump occupies exactly one cell per level
	test.That(t, clumpScore, test.ShouldEqual, 32+16+8+4+2)
}

func TestPyramidScoreGrowsWithCoverage(t *testing.T) {
	viewID := track.ViewID(0)
	views := map[track.ViewID]*transform.PinholeCameraIntrinsics{viewID: synthIntrinsics()}
	pts := []r2.Point{
		{X: 50, Y: 50},
		{X: 600, Y: 50},
		{X: 50, Y: 450},
		{X: 600, Y: 450},
	}
	tracks, feats, ids := gridTracks(viewID, pts)
	ps := newPyramidScorer(DefaultOptions(), views, feats, tracks)

	prev := 0
	for n := 1; n <= len(ids); n++ {
		score := ps.score(viewID, ids[:n])
		test.That(t, score, test.ShouldBeGreaterThan, prev)
		prev = score
	}
}

func TestPyramidDerivedThreshold(t *testing.T) {
	viewID := track.ViewID(0)
	views := map[track.ViewID]*transform.PinholeCameraIntrinsics{viewID: synthIntrinsics()}
	ps := newPyramidScorer(DefaultOptions(), views, FeatureSet{}, track.Map{})

	// base 2, depth 5, 30 points: levels hold min(30, cells) occupied cells
	want := (32*4 + 16*16 + 8*30 + 4*30 + 2*30) / 2
	test.That(t, ps.Threshold(), test.ShouldEqual, want)
}

func TestPyramidExplicitThresholdWins(t *testing.T) {
	viewID := track.ViewID(0)
	views := map[track.ViewID]*transform.PinholeCameraIntrinsics{viewID: synthIntrinsics()}
	opts := DefaultOptions()
	opts.PyramidThreshold = 7
	ps := newPyramidScorer(opts, views, FeatureSet{}, track.Map{})
	test.That(t, ps.Threshold(), test.ShouldEqual, 7)
}
