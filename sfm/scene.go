package sfm

import (
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/fschwaiger/gosfm/pointcloud"
	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// Camera is a reconstructed view: a world-to-camera pose plus the (possibly
// refined) camera model used to project points into it.
type Camera struct {
	Pose  *transform.CamPose
	Model *transform.PinholeCameraModel
}

// Observation ties a landmark to the pixel where one view saw it.
type Observation struct {
	View     track.ViewID
	Feature  track.FeatureID
	Point    r2.Point
	Residual float64
}

// Landmark is a triangulated track: a 3D position and the observations that
// support it.
type Landmark struct {
	Position     r3.Vector
	Observations map[track.ViewID]*Observation
}

// Scene is the evolving sparse reconstruction: reconstructed cameras and
// triangulated landmarks keyed by the track they came from.
type Scene struct {
	Cameras   map[track.ViewID]*Camera
	Landmarks map[track.ID]*Landmark
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{
		Cameras:   map[track.ViewID]*Camera{},
		Landmarks: map[track.ID]*Landmark{},
	}
}

// CameraIDs returns the reconstructed view IDs in ascending order.
func (s *Scene) CameraIDs() []track.ViewID {
	out := make([]track.ViewID, 0, len(s.Cameras))
	for id := range s.Cameras {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LandmarkIDs returns the triangulated track IDs in ascending order.
func (s *Scene) LandmarkIDs() []track.ID {
	out := make([]track.ID, 0, len(s.Landmarks))
	for id := range s.Landmarks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// observationViews returns the views of a landmark in ascending order.
func (lm *Landmark) observationViews() []track.ViewID {
	out := make([]track.ViewID, 0, len(lm.Observations))
	for id := range lm.Observations {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObservationCount returns the total number of 2D observations in the scene.
func (s *Scene) ObservationCount() int {
	n := 0
	for _, lm := range s.Landmarks {
		n += len(lm.Observations)
	}
	return n
}

// UpdateResiduals recomputes and stores the reprojection residual of every
// observation and returns the mean squared error over all of them.
func (s *Scene) UpdateResiduals() float64 {
	sum := 0.0
	n := 0
	for _, tid := range s.LandmarkIDs() {
		lm := s.Landmarks[tid]
		for _, viewID := range lm.observationViews() {
			obs := lm.Observations[viewID]
			cam := s.Cameras[viewID]
			resid, _ := transform.ReprojectionError(cam.Pose, cam.Model, lm.Position, obs.Point)
			obs.Residual = resid
			sum += resid * resid
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ResidualValues returns the stored residual of every observation, in
// deterministic order.
func (s *Scene) ResidualValues() []float64 {
	out := make([]float64, 0, s.ObservationCount())
	for _, tid := range s.LandmarkIDs() {
		lm := s.Landmarks[tid]
		for _, viewID := range lm.observationViews() {
			out = append(out, lm.Observations[viewID].Residual)
		}
	}
	return out
}

// TrackLengthValues returns the observation count of every landmark, in
// deterministic order.
func (s *Scene) TrackLengthValues() []float64 {
	out := make([]float64, 0, len(s.Landmarks))
	for _, tid := range s.LandmarkIDs() {
		out = append(out, float64(len(s.Landmarks[tid].Observations)))
	}
	return out
}

// SparseCloud exports the triangulated structure as a point cloud. The user
// value of every point is the track ID it was triangulated from.
func (s *Scene) SparseCloud() pointcloud.PointCloud {
	cloud := pointcloud.NewWithPrealloc(len(s.Landmarks))
	for _, tid := range s.LandmarkIDs() {
		lm := s.Landmarks[tid]
		//nolint:errcheck,gosec
		cloud.Set(lm.Position, pointcloud.NewValueData(int(tid)))
	}
	return cloud
}
