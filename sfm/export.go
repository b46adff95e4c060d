package sfm

import (
	"path/filepath"

	"github.com/fschwaiger/gosfm/pointcloud"
)

// exportIntermediate writes a snapshot of the sparse structure when a
// snapshot directory is configured. Export failures are logged, never fatal.
func (e *SequentialReconstructionEngine) exportIntermediate(tag string) {
	if e.opts.SnapshotDir == "" {
		return
	}
	path := filepath.Join(e.opts.SnapshotDir, "sfm_"+tag+e.opts.InterFileExtension)
	if err := pointcloud.WriteToFile(e.scene.SparseCloud(), path); err != nil {
		e.logger.Warnw("could not write scene snapshot", "path", path, "error", err)
		return
	}
	e.logger.Debugw("scene snapshot written", "path", path, "landmarks", len(e.scene.Landmarks))
}
