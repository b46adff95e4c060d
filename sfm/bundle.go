package sfm

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// badDepthPenalty replaces the squared residual of an observation whose
// point moves behind the camera during optimization, steering the solver
// back without producing infinities.
const badDepthPenalty = 1e10

// BundleAdjustment refines all camera poses, the structure, and (unless
// fixedIntrinsics) the pinhole intrinsics, minimizing the total squared
// reprojection error. The first camera's pose stays fixed to pin down the
// gauge. Returns whether the refinement was applied; on failure the scene
// keeps its pre-refinement values.
func (e *SequentialReconstructionEngine) BundleAdjustment(fixedIntrinsics bool) bool {
	if err := e.adjuster.Optimize(e.scene, fixedIntrinsics); err != nil {
		e.logger.Warnw("bundle adjustment skipped", "error", err)
		return false
	}
	return true
}

// gonumBundleAdjuster drives a quasi-Newton optimizer over the packed scene
// parameters: angle-axis rotation and translation per non-gauge camera,
// optionally four pinhole intrinsics per camera, and one 3D point per
// landmark. Gradients come from finite differences.
type gonumBundleAdjuster struct {
	maxIterations int
	logger        golog.Logger
}

// NewGonumBundleAdjuster returns the default bundle adjustment backend.
func NewGonumBundleAdjuster(logger golog.Logger) BundleAdjuster {
	return &gonumBundleAdjuster{maxIterations: 100, logger: logger}
}

// Optimize implements BundleAdjuster.
func (ba *gonumBundleAdjuster) Optimize(scene *Scene, fixedIntrinsics bool) error {
	prob, err := newBAProblem(scene, fixedIntrinsics)
	if err != nil {
		return err
	}
	x0 := prob.pack(scene)
	f0 := prob.evaluate(x0)
	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return errors.New("scene has non-finite reprojection error")
	}
	settings := &optimize.Settings{MajorIterations: ba.maxIterations}
	problem := optimize.Problem{
		Func: prob.evaluate,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, prob.evaluate, x, nil)
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return errors.Wrap(err, "optimizer failed")
	}
	// a stalled line search at a near-optimum still yields a usable point
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) || result.F > f0 {
		return errors.New("optimizer did not improve the scene")
	}
	prob.unpack(result.X, scene)
	scene.UpdateResiduals()
	return nil
}

type baObservation struct {
	camIdx int
	lmIdx  int
	pt     r2.Point
}

// baProblem freezes the structure of a scene into flat parameter layout:
// [poses of cameras 1..n-1 | intrinsics of cameras 0..n-1 | landmarks].
type baProblem struct {
	camIDs          []track.ViewID
	lmIDs           []track.ID
	fixedIntrinsics bool

	gaugeRotation    *mat.Dense
	gaugeTranslation r3.Vector
	intrinsics       [][4]float64 // fx, fy, ppx, ppy snapshot per camera
	distorters       []transform.Distorter
	observations     []baObservation

	poseOffset int
	intrOffset int
	lmOffset   int
	dim        int
}

func newBAProblem(scene *Scene, fixedIntrinsics bool) (*baProblem, error) {
	camIDs := scene.CameraIDs()
	lmIDs := scene.LandmarkIDs()
	if len(camIDs) < 2 || len(lmIDs) == 0 {
		return nil, errors.New("scene too small to refine")
	}
	p := &baProblem{
		camIDs:          camIDs,
		lmIDs:           lmIDs,
		fixedIntrinsics: fixedIntrinsics,
		intrinsics:      make([][4]float64, len(camIDs)),
		distorters:      make([]transform.Distorter, len(camIDs)),
	}
	camIdx := map[track.ViewID]int{}
	for i, id := range camIDs {
		camIdx[id] = i
		cam := scene.Cameras[id]
		p.intrinsics[i] = [4]float64{cam.Model.Fx, cam.Model.Fy, cam.Model.Ppx, cam.Model.Ppy}
		p.distorters[i] = cam.Model.Distortion
	}
	gauge := scene.Cameras[camIDs[0]].Pose
	p.gaugeRotation = mat.DenseCopyOf(gauge.Rotation)
	t := gauge.Translation
	p.gaugeTranslation = r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)}

	for lmIdx, tid := range lmIDs {
		lm := scene.Landmarks[tid]
		for _, viewID := range lm.observationViews() {
			p.observations = append(p.observations, baObservation{
				camIdx: camIdx[viewID],
				lmIdx:  lmIdx,
				pt:     lm.Observations[viewID].Point,
			})
		}
	}

	p.poseOffset = 0
	p.intrOffset = 6 * (len(camIDs) - 1)
	p.lmOffset = p.intrOffset
	if !fixedIntrinsics {
		p.lmOffset += 4 * len(camIDs)
	}
	p.dim = p.lmOffset + 3*len(lmIDs)
	if 2*len(p.observations) <= p.dim {
		return nil, errors.Errorf("%d observations cannot constrain %d parameters",
			len(p.observations), p.dim)
	}
	return p, nil
}

func (p *baProblem) pack(scene *Scene) []float64 {
	x := make([]float64, p.dim)
	for i, id := range p.camIDs[1:] {
		pose := scene.Cameras[id].Pose
		aa := pose.AngleAxis()
		t := pose.Translation
		off := p.poseOffset + 6*i
		x[off], x[off+1], x[off+2] = aa.X, aa.Y, aa.Z
		x[off+3], x[off+4], x[off+5] = t.At(0, 0), t.At(1, 0), t.At(2, 0)
	}
	if !p.fixedIntrinsics {
		for i := range p.camIDs {
			off := p.intrOffset + 4*i
			copy(x[off:off+4], p.intrinsics[i][:])
		}
	}
	for i, tid := range p.lmIDs {
		pos := scene.Landmarks[tid].Position
		off := p.lmOffset + 3*i
		x[off], x[off+1], x[off+2] = pos.X, pos.Y, pos.Z
	}
	return x
}

func (p *baProblem) unpack(x []float64, scene *Scene) {
	for i, id := range p.camIDs[1:] {
		off := p.poseOffset + 6*i
		rot := transform.AngleAxisToRotation(r3.Vector{X: x[off], Y: x[off+1], Z: x[off+2]})
		trans := mat.NewDense(3, 1, []float64{x[off+3], x[off+4], x[off+5]})
		scene.Cameras[id].Pose = transform.NewCamPoseFromRotTrans(rot, trans)
	}
	if !p.fixedIntrinsics {
		for i, id := range p.camIDs {
			off := p.intrOffset + 4*i
			model := scene.Cameras[id].Model
			model.Fx, model.Fy = x[off], x[off+1]
			model.Ppx, model.Ppy = x[off+2], x[off+3]
		}
	}
	for i, tid := range p.lmIDs {
		off := p.lmOffset + 3*i
		scene.Landmarks[tid].Position = r3.Vector{X: x[off], Y: x[off+1], Z: x[off+2]}
	}
}

// evaluate is the optimizer objective: total squared reprojection error of
// all observations under the parameter vector.
func (p *baProblem) evaluate(x []float64) float64 {
	rotations := make([]*mat.Dense, len(p.camIDs))
	translations := make([]r3.Vector, len(p.camIDs))
	rotations[0] = p.gaugeRotation
	translations[0] = p.gaugeTranslation
	for i := 1; i < len(p.camIDs); i++ {
		off := p.poseOffset + 6*(i-1)
		rotations[i] = transform.AngleAxisToRotation(r3.Vector{X: x[off], Y: x[off+1], Z: x[off+2]})
		translations[i] = r3.Vector{X: x[off+3], Y: x[off+4], Z: x[off+5]}
	}
	total := 0.0
	for _, obs := range p.observations {
		lmOff := p.lmOffset + 3*obs.lmIdx
		px, py, pz := x[lmOff], x[lmOff+1], x[lmOff+2]
		rot := rotations[obs.camIdx]
		t := translations[obs.camIdx]
		cx := rot.At(0, 0)*px + rot.At(0, 1)*py + rot.At(0, 2)*pz + t.X
		cy := rot.At(1, 0)*px + rot.At(1, 1)*py + rot.At(1, 2)*pz + t.Y
		cz := rot.At(2, 0)*px + rot.At(2, 1)*py + rot.At(2, 2)*pz + t.Z
		if cz <= 1e-12 {
			total += badDepthPenalty
			continue
		}
		xn, yn := cx/cz, cy/cz
		if d := p.distorters[obs.camIdx]; d != nil {
			xn, yn = d.Transform(xn, yn)
		}
		fx, fy, ppx, ppy := p.camIntrinsics(x, obs.camIdx)
		du := xn*fx + ppx - obs.pt.X
		dv := yn*fy + ppy - obs.pt.Y
		total += du*du + dv*dv
	}
	return total
}

func (p *baProblem) camIntrinsics(x []float64, camIdx int) (fx, fy, ppx, ppy float64) {
	if p.fixedIntrinsics {
		k := p.intrinsics[camIdx]
		return k[0], k[1], k[2], k[3]
	}
	off := p.intrOffset + 4*camIdx
	return x[off], x[off+1], x[off+2], x[off+3]
}
