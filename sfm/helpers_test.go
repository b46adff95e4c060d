package sfm

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// synthDataset is a noiseless rendering of a known scene: cameras on a line
// along X, all looking down +Z, observing the same set of world points.
type synthDataset struct {
	views    map[track.ViewID]*transform.PinholeCameraIntrinsics
	poses    map[track.ViewID]*transform.CamPose
	points   []r3.Vector
	features FeatureSet
	matches  MatchSet
}

func synthIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 600, Fy: 600, Ppx: 320, Ppy: 240,
	}
}

// synthPoints spreads world points so that every camera of newSynthDataset
// sees all of them across the full image.
func synthPoints(n int, rnd *rand.Rand) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{
			X: rnd.Float64()*3.4 - 0.5,
			Y: rnd.Float64()*4.4 - 2.2,
			Z: rnd.Float64()*3 + 6,
		}
	}
	return pts
}

// newSynthDataset renders nCams cameras spaced 0.6 apart observing nPts
// points, with full pairwise matches between all views.
func newSynthDataset(nCams, nPts int) *synthDataset {
	rnd := rand.New(rand.NewSource(42))
	ds := &synthDataset{
		views:    map[track.ViewID]*transform.PinholeCameraIntrinsics{},
		poses:    map[track.ViewID]*transform.CamPose{},
		points:   synthPoints(nPts, rnd),
		features: FeatureSet{},
		matches:  MatchSet{},
	}
	for c := 0; c < nCams; c++ {
		viewID := track.ViewID(c)
		ds.views[viewID] = synthIntrinsics()
		center := r3.Vector{X: 0.6 * float64(c)}
		trans := mat.NewDense(3, 1, []float64{-center.X, -center.Y, -center.Z})
		pose := transform.NewCamPoseFromRotTrans(eye3(), trans)
		ds.poses[viewID] = pose

		model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: ds.views[viewID]}
		feats := make([]r2.Point, nPts)
		for i, pt := range ds.points {
			proj, _ := model.Project(pose.TransformPoint(pt))
			feats[i] = proj
		}
		ds.features[viewID] = feats
	}
	for a := 0; a < nCams; a++ {
		for b := a + 1; b < nCams; b++ {
			pair := track.MakePair(track.ViewID(a), track.ViewID(b))
			ms := make([]track.Match, nPts)
			for i := range ms {
				ms[i] = track.Match{A: track.FeatureID(i), B: track.FeatureID(i)}
			}
			ds.matches[pair] = ms
		}
	}
	return ds
}

func eye3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

// restrictView truncates the matches of one view so it shares only the first
// n features with every other view.
func (ds *synthDataset) restrictView(id track.ViewID, n int) {
	for pair, ms := range ds.matches {
		if pair.A != id && pair.B != id {
			continue
		}
		if len(ms) > n {
			ds.matches[pair] = ms[:n]
		}
	}
}
