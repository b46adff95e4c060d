// Package sfm implements incremental structure-from-motion: it grows a
// sparse 3D reconstruction from pairwise feature matches, one batch of
// camera poses at a time.
package sfm

import (
	"fmt"
	"math"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// processState tracks where a reconstruction run stands.
type processState int

const (
	stateUninitialized processState = iota
	stateTracksBuilt
	stateSeedEstablished
	stateGrowing
	stateConverged
	stateAborted
)

func (s processState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateTracksBuilt:
		return "tracks built"
	case stateSeedEstablished:
		return "seed established"
	case stateGrowing:
		return "growing"
	case stateConverged:
		return "converged"
	case stateAborted:
		return "aborted"
	}
	return "unknown"
}

// minConfidenceFloorPx keeps per-camera acceptance bounds from collapsing
// when a resection fits unusually well.
const minConfidenceFloorPx = 4.0

// maxRefinementPasses bounds the adjust-then-reject loop of a single round.
const maxRefinementPasses = 10

var (
	// ErrNoTracks means the matches produced no usable multi-view tracks.
	ErrNoTracks = errors.New("no usable tracks could be built from the matches")
	// ErrNoInitialPair means no image pair qualifies as a reconstruction seed.
	ErrNoInitialPair = errors.New("no valid initial image pair")
	// ErrSeedFailed means the chosen pair triangulated too few points.
	ErrSeedFailed = errors.New("seed triangulation produced too few points")
)

// ReconstructionEngine turns features and matches into a sparse scene.
type ReconstructionEngine interface {
	Process() error
	Scene() *Scene
}

// SequentialReconstructionEngine reconstructs a scene incrementally: build
// tracks, triangulate a two-view seed, then alternate between resecting
// batches of new views, triangulating the tracks they expose, refining and
// pruning, until no candidate view remains.
type SequentialReconstructionEngine struct {
	logger golog.Logger
	opts   *Options

	views    map[track.ViewID]*transform.PinholeCameraIntrinsics
	features FeatureProvider
	matches  MatchProvider

	poseSolver      RelativePoseSolver
	resectionSolver ResectionSolver
	triangulator    TriangulationSolver
	adjuster        BundleAdjuster
	reporter        Reporter

	scene   *Scene
	tracks  track.Map
	perView track.PerView
	pyramid *pyramidScorer

	// confidence is the per-camera residual bound in pixels, floored at
	// minConfidenceFloorPx.
	confidence map[track.ViewID]float64
	// remaining holds every view not yet reconstructed; rejected marks the
	// subset that failed resection and must not be retried.
	remaining map[track.ViewID]struct{}
	rejected  map[track.ViewID]struct{}

	state processState
}

// NewSequentialEngine builds an engine over the given calibrated views,
// their features and their pairwise matches. The providers are borrowed and
// must stay valid for the engine's lifetime.
func NewSequentialEngine(
	views map[track.ViewID]*transform.PinholeCameraIntrinsics,
	features FeatureProvider,
	matches MatchProvider,
	opts *Options,
	logger golog.Logger,
) (*SequentialReconstructionEngine, error) {
	if len(views) < 2 {
		return nil, errors.New("reconstruction needs at least two views")
	}
	if features == nil || matches == nil {
		return nil, errors.New("feature and match providers cannot be nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.CheckValid(); err != nil {
		return nil, err
	}
	for id, intr := range views {
		if intr == nil {
			return nil, errors.Errorf("view %d has no intrinsics", id)
		}
		if err := intr.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "view %d", id)
		}
	}
	var reporter Reporter = &noopReporter{}
	if opts.AllowUserInteraction {
		reporter = &LogReporter{Logger: logger}
	}
	return &SequentialReconstructionEngine{
		logger:          logger,
		opts:            opts,
		views:           views,
		features:        features,
		matches:         matches,
		poseSolver:      epipolarPoseSolver{},
		resectionSolver: &ransacResectionSolver{},
		triangulator:    linearTriangulationSolver{},
		adjuster:        NewGonumBundleAdjuster(logger),
		reporter:        reporter,
		scene:           NewScene(),
		confidence:      map[track.ViewID]float64{},
		remaining:       map[track.ViewID]struct{}{},
		rejected:        map[track.ViewID]struct{}{},
		state:           stateUninitialized,
	}, nil
}

// SetRelativePoseSolver swaps the two-view pose solver used for the seed.
func (e *SequentialReconstructionEngine) SetRelativePoseSolver(s RelativePoseSolver) {
	e.poseSolver = s
}

// SetResectionSolver swaps the PnP solver used during growth.
func (e *SequentialReconstructionEngine) SetResectionSolver(s ResectionSolver) {
	e.resectionSolver = s
}

// SetTriangulationSolver swaps the multi-view triangulation backend.
func (e *SequentialReconstructionEngine) SetTriangulationSolver(s TriangulationSolver) {
	e.triangulator = s
}

// SetBundleAdjuster swaps the refinement backend.
func (e *SequentialReconstructionEngine) SetBundleAdjuster(ba BundleAdjuster) {
	e.adjuster = ba
}

// SetReporter installs a progress reporter.
func (e *SequentialReconstructionEngine) SetReporter(r Reporter) {
	e.reporter = r
}

// Scene returns the reconstruction built so far.
func (e *SequentialReconstructionEngine) Scene() *Scene {
	return e.scene
}

// Tracks returns the surviving feature tracks.
func (e *SequentialReconstructionEngine) Tracks() track.Map {
	return e.tracks
}

// ReconstructedViewIDs returns the views with an estimated pose, ascending.
func (e *SequentialReconstructionEngine) ReconstructedViewIDs() []track.ViewID {
	return e.scene.CameraIDs()
}

// RejectedViewIDs returns the views left without a pose, ascending.
func (e *SequentialReconstructionEngine) RejectedViewIDs() []track.ViewID {
	return e.sortedRemaining()
}

func (e *SequentialReconstructionEngine) sortedRemaining() []track.ViewID {
	out := make([]track.ViewID, 0, len(e.remaining))
	for id := range e.remaining {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InitLandmarkTracks fuses the pairwise matches into multi-view tracks and
// prepares the scoring pyramid. It must run before any reconstruction step.
func (e *SequentialReconstructionEngine) InitLandmarkTracks() error {
	matchesByPair := track.MatchesByPair{}
	for _, pair := range e.matches.Pairs() {
		if _, ok := e.views[pair.A]; !ok {
			e.logger.Debugw("skipping matches for unknown view", "view", pair.A)
			continue
		}
		if _, ok := e.views[pair.B]; !ok {
			e.logger.Debugw("skipping matches for unknown view", "view", pair.B)
			continue
		}
		matchesByPair[pair] = e.matches.Matches(pair)
	}
	tracks, perView, err := track.Build(matchesByPair, e.opts.MinInputTrackLength)
	if err != nil {
		return errors.Wrap(ErrNoTracks, err.Error())
	}
	e.tracks = tracks
	e.perView = perView
	e.pyramid = newPyramidScorer(e.opts, e.views, e.features, e.tracks)
	for id := range e.views {
		e.remaining[id] = struct{}{}
	}
	e.state = stateTracksBuilt
	e.logger.Infow("landmark tracks built",
		"tracks", len(tracks),
		"views", len(e.views),
		"pyramid_threshold", e.pyramid.Threshold(),
	)
	return nil
}

// Process runs the full pipeline. It fails only when no seed can be
// established; once a two-view seed exists the run converges on whatever
// subset of views could be reconstructed.
func (e *SequentialReconstructionEngine) Process() error {
	if e.state != stateUninitialized {
		return errors.Errorf("process already ran (state %q)", e.state)
	}
	if err := e.InitLandmarkTracks(); err != nil {
		e.state = stateAborted
		return err
	}
	pair, err := e.ChooseInitialPair()
	if err != nil {
		e.state = stateAborted
		return err
	}
	if err := e.MakeInitialPair3D(pair); err != nil {
		e.state = stateAborted
		return err
	}
	e.refineAndReject(true, 0)
	e.exportIntermediate("seed")

	e.state = stateGrowing
	round := 0
	for {
		group, err := e.FindNextImagesGroupForResection()
		if err != nil {
			e.logger.Debugw("growth stalled", "reason", err)
			break
		}
		round++
		landmarksBefore := len(e.scene.Landmarks)
		reconstructed, rejectedNow := e.RobustResectionOfImages(group)
		if len(reconstructed) == 0 {
			e.reporter.ObserveRound(RoundStats{
				Round:    round,
				Selected: group,
				Rejected: rejectedNow,
			})
			continue
		}
		e.triangulateNewTracks(reconstructed)
		fixed := round <= e.opts.FixedIntrinsicsRounds
		e.refineAndReject(fixed, rejectionTriggerCount)
		e.reporter.ObserveRound(RoundStats{
			Round:            round,
			Selected:         group,
			Reconstructed:    reconstructed,
			Rejected:         rejectedNow,
			NewLandmarks:     len(e.scene.Landmarks) - landmarksBefore,
			MeanSquaredError: e.scene.UpdateResiduals(),
		})
		e.exportIntermediate(fmt.Sprintf("round_%03d", round))
	}

	e.refineAndReject(false, 0)
	e.state = stateConverged
	e.exportIntermediate("final")
	e.reporter.Final(e.finalStats())
	return nil
}

// refineAndReject alternates bundle adjustment with outlier rejection until
// a rejection pass removes no more than trigger elements.
func (e *SequentialReconstructionEngine) refineAndReject(fixedIntrinsics bool, trigger int) {
	for pass := 0; pass < maxRefinementPasses; pass++ {
		if !e.BundleAdjustment(fixedIntrinsics) && pass > 0 {
			break
		}
		if !e.badTrackRejector(e.opts.OutlierPrecisionPx, trigger) {
			break
		}
	}
}

func (e *SequentialReconstructionEngine) finalStats() FinalStats {
	mse := e.scene.UpdateResiduals()
	return FinalStats{
		Cameras:          len(e.scene.Cameras),
		Landmarks:        len(e.scene.Landmarks),
		Observations:     e.scene.ObservationCount(),
		MeanSquaredError: mse,
		Residuals:        e.scene.ResidualValues(),
		TrackLengths:     e.scene.TrackLengthValues(),
		Reconstructed:    e.ReconstructedViewIDs(),
		Rejected:         e.RejectedViewIDs(),
	}
}

// intrinsicsFor returns a camera model for the view, attaching the default
// distortion model when the calibration carries none.
func (e *SequentialReconstructionEngine) intrinsicsFor(viewID track.ViewID) *transform.PinholeCameraModel {
	intr := e.views[viewID].Clone()
	model := &transform.PinholeCameraModel{PinholeCameraIntrinsics: intr}
	if e.opts.DefaultDistortion != transform.NoDistortionType {
		if dist, err := transform.NewDistorter(e.opts.DefaultDistortion, nil); err == nil {
			model.Distortion = dist
		}
	}
	return model
}

// setConfidence records the residual bound of a camera, never below the
// sanity floor.
func (e *SequentialReconstructionEngine) setConfidence(viewID track.ViewID, bound float64) {
	e.confidence[viewID] = math.Max(bound, minConfidenceFloorPx)
}

// residualBound is the acceptance bound for new observations of a camera.
func (e *SequentialReconstructionEngine) residualBound(viewID track.ViewID) float64 {
	if b, ok := e.confidence[viewID]; ok {
		return b
	}
	return math.Max(e.opts.OutlierPrecisionPx, minConfidenceFloorPx)
}
