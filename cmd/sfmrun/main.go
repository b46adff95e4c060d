// Package main contains a command to reconstruct a sparse 3D scene from a
// dataset of calibrated views, keypoints and pairwise matches.
package main

import (
	"context"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/fschwaiger/gosfm/pointcloud"
	"github.com/fschwaiger/gosfm/sfm"
	"github.com/fschwaiger/gosfm/track"
)

var logger = golog.NewDevelopmentLogger("sfmrun")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	DatasetFile string `flag:"0,required,usage=dataset JSON file"`
	OutFile     string `flag:"out,default=scene.pcd,usage=output point cloud (.pcd or .las)"`
	OptionsFile string `flag:"options,usage=reconstruction options JSON file"`
	SnapshotDir string `flag:"snapshots,usage=directory for per-round scene snapshots"`
	InitialA    int    `flag:"initial-a,default=-1,usage=force the first view of the seed pair"`
	InitialB    int    `flag:"initial-b,default=-1,usage=force the second view of the seed pair"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	return runReconstruction(argsParsed, logger)
}

func runReconstruction(args Arguments, logger golog.Logger) error {
	opts := sfm.DefaultOptions()
	if args.OptionsFile != "" {
		loaded, err := sfm.LoadOptions(args.OptionsFile)
		if err != nil {
			return err
		}
		opts = loaded
	}
	if args.SnapshotDir != "" {
		opts.SnapshotDir = args.SnapshotDir
	}
	if args.InitialA >= 0 && args.InitialB >= 0 {
		pair := track.MakePair(track.ViewID(args.InitialA), track.ViewID(args.InitialB))
		opts.InitialPair = &pair
	}

	dataset, err := sfm.LoadDataset(args.DatasetFile)
	if err != nil {
		return err
	}
	engine, err := sfm.NewSequentialEngine(dataset.Views, dataset.Features, dataset.Matches, opts, logger)
	if err != nil {
		return err
	}
	engine.SetReporter(&sfm.LogReporter{Logger: logger})
	if err := engine.Process(); err != nil {
		return err
	}

	cloud := engine.Scene().SparseCloud()
	if err := pointcloud.WriteToFile(cloud, args.OutFile); err != nil {
		return err
	}
	logger.Infow("scene written", "path", args.OutFile, "points", cloud.Size())
	return nil
}
