package sfm

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// Options configures a sequential reconstruction run. Zero values fall back
// to the defaults applied by CheckValid.
type Options struct {
	// MinInputTrackLength is the minimum number of views a track must span
	// to be kept when tracks are built from the pairwise matches.
	MinInputTrackLength int `json:"min_input_track_length"`
	// MinTrackLength is the minimum number of observations a landmark must
	// keep to survive outlier rejection.
	MinTrackLength int `json:"min_track_length"`
	// MinPointsPerPose is the minimum number of 2D-3D correspondences needed
	// to attempt and accept the resection of a view.
	MinPointsPerPose int `json:"min_points_per_pose"`
	// MinSeedPoints is the minimum number of triangulated points the initial
	// pair must produce for the seed to be accepted.
	MinSeedPoints int `json:"min_seed_points"`

	// PyramidBase and PyramidDepth define the scoring grids: level l uses
	// PyramidBase^(l+1) cells per image axis, for l in [0, PyramidDepth).
	PyramidBase  int `json:"pyramid_base"`
	PyramidDepth int `json:"pyramid_depth"`
	// PyramidThreshold is the minimum pyramid score a candidate view needs to
	// be considered for resection. When zero it is derived from
	// MinPointsPerPose and the grid geometry.
	PyramidThreshold int `json:"pyramid_threshold"`

	// BatchScoreRatio selects how many candidates join each resection round:
	// every eligible view scoring at least BatchScoreRatio times the best
	// candidate's score is taken.
	BatchScoreRatio float64 `json:"batch_score_ratio"`
	// ResectionBatchSize caps the size of a resection round. Zero means no
	// cap beyond the score band.
	ResectionBatchSize int `json:"resection_batch_size"`

	// FixedIntrinsicsRounds is the number of initial growth rounds during
	// which bundle adjustment keeps the intrinsics constant.
	FixedIntrinsicsRounds int `json:"fixed_intrinsics_rounds"`

	// SeedReprojectionErrorPx bounds the residual of seed triangulations.
	SeedReprojectionErrorPx float64 `json:"seed_reprojection_error_px"`
	// OutlierPrecisionPx bounds the residual an observation may have before
	// outlier rejection removes it.
	OutlierPrecisionPx float64 `json:"outlier_precision_px"`
	// MinTriangulationDeg is the minimum parallax angle, in degrees, required
	// to triangulate a new landmark during growth.
	MinTriangulationDeg float64 `json:"min_triangulation_deg"`
	// MinSeedAngleDeg and MaxSeedAngleDeg bound the median parallax angle an
	// image pair must exhibit to be a seed candidate.
	MinSeedAngleDeg float64 `json:"min_seed_angle_deg"`
	MaxSeedAngleDeg float64 `json:"max_seed_angle_deg"`

	// InitialPair forces the seed pair instead of automatic selection.
	InitialPair *track.Pair `json:"initial_pair,omitempty"`

	// DefaultDistortion is the distortion model assumed for cameras whose
	// calibration does not carry one.
	DefaultDistortion transform.DistortionType `json:"default_distortion"`

	// SnapshotDir, when set, receives an intermediate scene export after the
	// seed and after every growth round. InterFileExtension picks the format.
	SnapshotDir        string `json:"snapshot_dir"`
	InterFileExtension string `json:"inter_file_extension"`

	// AllowUserInteraction enables the verbose per-round reporting intended
	// for interactive runs.
	AllowUserInteraction bool `json:"allow_user_interaction"`
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() *Options {
	return &Options{
		MinInputTrackLength:     2,
		MinTrackLength:          2,
		MinPointsPerPose:        30,
		MinSeedPoints:           20,
		PyramidBase:             2,
		PyramidDepth:            5,
		BatchScoreRatio:         0.75,
		FixedIntrinsicsRounds:   2,
		SeedReprojectionErrorPx: 4.0,
		OutlierPrecisionPx:      4.0,
		MinTriangulationDeg:     2.0,
		MinSeedAngleDeg:         3.0,
		MaxSeedAngleDeg:         60.0,
		DefaultDistortion:       transform.NoDistortionType,
		InterFileExtension:      ".pcd",
	}
}

// CheckValid fills zero values with defaults and rejects inconsistent
// settings.
func (o *Options) CheckValid() error {
	def := DefaultOptions()
	if o.MinInputTrackLength == 0 {
		o.MinInputTrackLength = def.MinInputTrackLength
	}
	if o.MinTrackLength == 0 {
		o.MinTrackLength = def.MinTrackLength
	}
	if o.MinPointsPerPose == 0 {
		o.MinPointsPerPose = def.MinPointsPerPose
	}
	if o.MinSeedPoints == 0 {
		o.MinSeedPoints = def.MinSeedPoints
	}
	if o.PyramidBase == 0 {
		o.PyramidBase = def.PyramidBase
	}
	if o.PyramidDepth == 0 {
		o.PyramidDepth = def.PyramidDepth
	}
	if o.BatchScoreRatio == 0 {
		o.BatchScoreRatio = def.BatchScoreRatio
	}
	if o.FixedIntrinsicsRounds == 0 {
		o.FixedIntrinsicsRounds = def.FixedIntrinsicsRounds
	}
	if o.SeedReprojectionErrorPx == 0 {
		o.SeedReprojectionErrorPx = def.SeedReprojectionErrorPx
	}
	if o.OutlierPrecisionPx == 0 {
		o.OutlierPrecisionPx = def.OutlierPrecisionPx
	}
	if o.MinTriangulationDeg == 0 {
		o.MinTriangulationDeg = def.MinTriangulationDeg
	}
	if o.MinSeedAngleDeg == 0 {
		o.MinSeedAngleDeg = def.MinSeedAngleDeg
	}
	if o.MaxSeedAngleDeg == 0 {
		o.MaxSeedAngleDeg = def.MaxSeedAngleDeg
	}
	if o.DefaultDistortion == "" {
		o.DefaultDistortion = def.DefaultDistortion
	}
	if o.InterFileExtension == "" {
		o.InterFileExtension = def.InterFileExtension
	}

	switch {
	case o.MinInputTrackLength < 2:
		return errors.Errorf("min_input_track_length %d below 2", o.MinInputTrackLength)
	case o.MinTrackLength < 2:
		return errors.Errorf("min_track_length %d below 2", o.MinTrackLength)
	case o.MinPointsPerPose < transform.MinPnPCorrespondences:
		return errors.Errorf("min_points_per_pose %d below the resection minimum %d",
			o.MinPointsPerPose, transform.MinPnPCorrespondences)
	case o.MinSeedPoints < 2:
		return errors.Errorf("min_seed_points %d below 2", o.MinSeedPoints)
	case o.PyramidBase < 2:
		return errors.Errorf("pyramid_base %d below 2", o.PyramidBase)
	case o.PyramidDepth < 1:
		return errors.Errorf("pyramid_depth %d below 1", o.PyramidDepth)
	case o.PyramidThreshold < 0:
		return errors.Errorf("pyramid_threshold %d negative", o.PyramidThreshold)
	case o.BatchScoreRatio <= 0 || o.BatchScoreRatio > 1:
		return errors.Errorf("batch_score_ratio %f outside (0, 1]", o.BatchScoreRatio)
	case o.ResectionBatchSize < 0:
		return errors.Errorf("resection_batch_size %d negative", o.ResectionBatchSize)
	case o.SeedReprojectionErrorPx <= 0:
		return errors.Errorf("seed_reprojection_error_px %f not positive", o.SeedReprojectionErrorPx)
	case o.OutlierPrecisionPx <= 0:
		return errors.Errorf("outlier_precision_px %f not positive", o.OutlierPrecisionPx)
	case o.MinTriangulationDeg <= 0:
		return errors.Errorf("min_triangulation_deg %f not positive", o.MinTriangulationDeg)
	case o.MinSeedAngleDeg <= 0 || o.MaxSeedAngleDeg <= o.MinSeedAngleDeg:
		return errors.Errorf("seed angle bounds [%f, %f] invalid", o.MinSeedAngleDeg, o.MaxSeedAngleDeg)
	}
	if o.InitialPair != nil && o.InitialPair.A == o.InitialPair.B {
		return errors.New("initial_pair uses the same view twice")
	}
	return nil
}

// LoadOptions reads an Options JSON file and validates it.
func LoadOptions(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read options from %q", path)
	}
	opts := DefaultOptions()
	if err := json.Unmarshal(raw, opts); err != nil {
		return nil, errors.Wrapf(err, "cannot parse options from %q", path)
	}
	if err := opts.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "invalid options in %q", path)
	}
	return opts, nil
}
