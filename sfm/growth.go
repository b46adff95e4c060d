package sfm

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// ViewConnectionScore rates how strongly a not-yet-reconstructed view is
// tied to the current structure.
type ViewConnectionScore struct {
	ViewID           track.ViewID
	SharedPointCount int
	PyramidScore     int
	// HasIntrinsics reports whether the view shares its input calibration
	// with a camera that is already reconstructed, so its intrinsics have
	// been refined at least once.
	HasIntrinsics bool
}

var errNoConnectedViews = errors.New("no remaining view observes the reconstruction")

// FindConnectedViews scores every remaining, non-rejected view by the
// coverage of its already-triangulated tracks, best first. Views whose
// coverage stays under the pyramid threshold are left out.
func (e *SequentialReconstructionEngine) FindConnectedViews() ([]ViewConnectionScore, error) {
	refined := make(map[*transform.PinholeCameraIntrinsics]bool, len(e.scene.Cameras))
	for viewID := range e.scene.Cameras {
		refined[e.views[viewID]] = true
	}
	var out []ViewConnectionScore
	for _, viewID := range e.sortedRemaining() {
		if _, bad := e.rejected[viewID]; bad {
			continue
		}
		var visible []track.ID
		for _, tid := range e.perView[viewID] {
			if _, ok := e.scene.Landmarks[tid]; ok {
				visible = append(visible, tid)
			}
		}
		if len(visible) == 0 {
			continue
		}
		score := e.pyramid.score(viewID, visible)
		if score < e.pyramid.Threshold() {
			continue
		}
		out = append(out, ViewConnectionScore{
			ViewID:           viewID,
			SharedPointCount: len(visible),
			PyramidScore:     score,
			HasIntrinsics:    refined[e.views[viewID]],
		})
	}
	if len(out) == 0 {
		return nil, errNoConnectedViews
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PyramidScore != out[j].PyramidScore {
			return out[i].PyramidScore > out[j].PyramidScore
		}
		if out[i].SharedPointCount != out[j].SharedPointCount {
			return out[i].SharedPointCount > out[j].SharedPointCount
		}
		return out[i].ViewID < out[j].ViewID
	})
	return out, nil
}

// FindNextImagesGroupForResection picks the batch for the next resection
// round: of the connected views with enough 2D-3D support, everything within
// the score band of the best candidate. Views below the support bar are
// deferred, not rejected; they come back once more structure exists.
func (e *SequentialReconstructionEngine) FindNextImagesGroupForResection() ([]track.ViewID, error) {
	connected, err := e.FindConnectedViews()
	if err != nil {
		return nil, err
	}
	eligible := connected[:0:0]
	for _, c := range connected {
		if c.SharedPointCount >= e.opts.MinPointsPerPose {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.New("no connected view has enough 2D-3D support")
	}
	cutoff := e.opts.BatchScoreRatio * float64(eligible[0].PyramidScore)
	group := make([]track.ViewID, 0, len(eligible))
	for _, c := range eligible {
		if float64(c.PyramidScore) < cutoff {
			break
		}
		group = append(group, c.ViewID)
		if e.opts.ResectionBatchSize > 0 && len(group) == e.opts.ResectionBatchSize {
			break
		}
	}
	return group, nil
}
