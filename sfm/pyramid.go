package sfm

import (
	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// pyramidScorer rates how well a set of tracks covers a view. The image is
// cut into a pyramid of grids; every occupied cell earns the weight of its
// level, and coarse levels weigh more than fine ones so a handful of spread
// out points beats a dense clump.
type pyramidScorer struct {
	base      int
	depth     int
	weights   []int // per level, base^(depth-level)
	perAxis   []int // cells per image axis, per level
	threshold int

	views    map[track.ViewID]*transform.PinholeCameraIntrinsics
	features FeatureProvider
	tracks   track.Map

	// cellCache[view][trackID] is the flattened cell index per level.
	cellCache map[track.ViewID]map[track.ID][]int
}

func newPyramidScorer(
	opts *Options,
	views map[track.ViewID]*transform.PinholeCameraIntrinsics,
	features FeatureProvider,
	tracks track.Map,
) *pyramidScorer {
	ps := &pyramidScorer{
		base:      opts.PyramidBase,
		depth:     opts.PyramidDepth,
		weights:   make([]int, opts.PyramidDepth),
		perAxis:   make([]int, opts.PyramidDepth),
		views:     views,
		features:  features,
		tracks:    tracks,
		cellCache: map[track.ViewID]map[track.ID][]int{},
	}
	axis := 1
	for level := 0; level < ps.depth; level++ {
		axis *= ps.base
		ps.perAxis[level] = axis
		weight := 1
		for i := 0; i < ps.depth-level; i++ {
			weight *= ps.base
		}
		ps.weights[level] = weight
	}
	ps.threshold = opts.PyramidThreshold
	if ps.threshold == 0 {
		ps.threshold = ps.derivedThreshold(opts.MinPointsPerPose)
	}
	return ps
}

// derivedThreshold is half the score of n features spread as evenly as the
// grids allow. Candidates below it clump too much to constrain a pose.
func (ps *pyramidScorer) derivedThreshold(n int) int {
	total := 0
	for level := 0; level < ps.depth; level++ {
		cells := ps.perAxis[level] * ps.perAxis[level]
		occupied := n
		if cells < occupied {
			occupied = cells
		}
		total += ps.weights[level] * occupied
	}
	return total / 2
}

// cells returns the per-level cell index of a track's feature in a view,
// computing and caching it on first use.
func (ps *pyramidScorer) cells(viewID track.ViewID, trackID track.ID) ([]int, bool) {
	byTrack, ok := ps.cellCache[viewID]
	if !ok {
		byTrack = map[track.ID][]int{}
		ps.cellCache[viewID] = byTrack
	}
	if cached, ok := byTrack[trackID]; ok {
		return cached, cached != nil
	}
	cells := ps.computeCells(viewID, trackID)
	byTrack[trackID] = cells
	return cells, cells != nil
}

func (ps *pyramidScorer) computeCells(viewID track.ViewID, trackID track.ID) []int {
	tr, ok := ps.tracks[trackID]
	if !ok {
		return nil
	}
	featID, ok := tr[viewID]
	if !ok {
		return nil
	}
	intr := ps.views[viewID]
	feats := ps.features.Features(viewID)
	if intr == nil || int(featID) >= len(feats) {
		return nil
	}
	pt := feats[featID]
	width, height := float64(intr.Width), float64(intr.Height)
	out := make([]int, ps.depth)
	for level := 0; level < ps.depth; level++ {
		axis := ps.perAxis[level]
		col := clampCell(int(pt.X/width*float64(axis)), axis)
		row := clampCell(int(pt.Y/height*float64(axis)), axis)
		out[level] = row*axis + col
	}
	return out
}

func clampCell(idx, axis int) int {
	if idx < 0 {
		return 0
	}
	if idx >= axis {
		return axis - 1
	}
	return idx
}

// score sums, over all levels, the weight of every cell occupied by at least
// one of the given tracks in the view.
func (ps *pyramidScorer) score(viewID track.ViewID, trackIDs []track.ID) int {
	occupied := make([]map[int]struct{}, ps.depth)
	for level := range occupied {
		occupied[level] = map[int]struct{}{}
	}
	for _, tid := range trackIDs {
		cells, ok := ps.cells(viewID, tid)
		if !ok {
			continue
		}
		for level, cell := range cells {
			occupied[level][cell] = struct{}{}
		}
	}
	total := 0
	for level := range occupied {
		total += ps.weights[level] * len(occupied[level])
	}
	return total
}

// Threshold is the minimum score a resection candidate must reach.
func (ps *pyramidScorer) Threshold() int {
	return ps.threshold
}
