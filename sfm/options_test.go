package sfm

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/fschwaiger/gosfm/track"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := DefaultOptions()
	test.That(t, opts.CheckValid(), test.ShouldBeNil)
	test.That(t, opts.MinPointsPerPose, test.ShouldEqual, 30)
	test.That(t, opts.PyramidBase, test.ShouldEqual, 2)
	test.That(t, opts.PyramidDepth, test.ShouldEqual, 5)
	test.That(t, opts.InterFileExtension, test.ShouldEqual, ".pcd")
}

func TestCheckValidFillsZeroValues(t *testing.T) {
	opts := &Options{}
	test.That(t, opts.CheckValid(), test.ShouldBeNil)
	test.That(t, opts.MinTrackLength, test.ShouldEqual, 2)
	test.That(t, opts.BatchScoreRatio, test.ShouldEqual, 0.75)
	test.That(t, opts.OutlierPrecisionPx, test.ShouldEqual, 4.0)
}

func TestCheckValidRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(o *Options)
	}{
		{"pyramid base", func(o *Options) { o.PyramidBase = 1 }},
		{"track length", func(o *Options) { o.MinTrackLength = 1 }},
		{"points per pose", func(o *Options) { o.MinPointsPerPose = 3 }},
		{"batch ratio", func(o *Options) { o.BatchScoreRatio = 1.5 }},
		{"negative batch size", func(o *Options) { o.ResectionBatchSize = -1 }},
		{"angle band", func(o *Options) { o.MinSeedAngleDeg = 10; o.MaxSeedAngleDeg = 5 }},
		{"degenerate pair", func(o *Options) { o.InitialPair = &track.Pair{A: 3, B: 3} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(opts)
			test.That(t, opts.CheckValid(), test.ShouldNotBeNil)
		})
	}
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.json")
	raw := `{"min_points_per_pose": 12, "snapshot_dir": "/tmp/out", "initial_pair": {"a": 2, "b": 5}}`
	test.That(t, os.WriteFile(path, []byte(raw), 0o600), test.ShouldBeNil)

	opts, err := LoadOptions(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.MinPointsPerPose, test.ShouldEqual, 12)
	test.That(t, opts.SnapshotDir, test.ShouldEqual, "/tmp/out")
	test.That(t, opts.InitialPair, test.ShouldNotBeNil)
	test.That(t, opts.InitialPair.A, test.ShouldEqual, 2)
	// defaults still apply to omitted fields
	test.That(t, opts.PyramidDepth, test.ShouldEqual, 5)

	_, err = LoadOptions(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
