package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// NoDistortionType applies no lens distortion at all.
	NoDistortionType = DistortionType("none")
)

// Distorter defines a transform that takes undistorted normalized image
// coordinates and distorts them according to the lens model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case NoDistortionType:
		return &NoDistortion{}, nil
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// NoDistortion is the identity lens model.
type NoDistortion struct{}

// ModelType returns the type of distortion model.
func (nd *NoDistortion) ModelType() DistortionType { return NoDistortionType }

// CheckValid checks if the fields for NoDistortion have valid inputs.
func (nd *NoDistortion) CheckValid() error { return nil }

// Parameters returns the parameters of the distortion model as a list of floats.
func (nd *NoDistortion) Parameters() []float64 { return []float64{} }

// Transform is the identity.
func (nd *NoDistortion) Transform(x, y float64) (float64, float64) { return x, y }

// BrownConrady applies the Brown-Conrady distortion model:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
//
// where (x_u, y_u) are undistorted normalized coordinates and (x_d, y_d) the
// distorted ones.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	if len(inp) == 0 {
		return &BrownConrady{}, nil
	}
	for i := len(inp); i < 5; i++ { // fill missing values with 0.0
		inp = append(inp, 0.0)
	}
	return &BrownConrady{inp[0], inp[1], inp[2], inp[3], inp[4]}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts the undistorted normalized coordinates (xu, yu).
func (bc *BrownConrady) Transform(xu, yu float64) (float64, float64) {
	if bc == nil {
		return xu, yu
	}
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	r6 := r4 * r2
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	xd := xu*radDist + 2.0*bc.TangentialP1*xu*yu + bc.TangentialP2*(r2+2.0*xu*xu)
	yd := yu*radDist + 2.0*bc.TangentialP2*xu*yu + bc.TangentialP1*(r2+2.0*yu*yu)
	return xd, yd
}
