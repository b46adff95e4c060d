// Package transform implements the camera models and multiple-view geometry
// estimators the reconstruction engine delegates to: pinhole projection with
// lens distortion, fundamental/essential matrix estimation, relative pose
// recovery, linear triangulation and robust perspective pose (PnP).
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// PinholeCameraModel is a pinhole camera with an optional lens distortion model.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}

// Clone returns a copy of the intrinsics.
func (params *PinholeCameraIntrinsics) Clone() *PinholeCameraIntrinsics {
	if params == nil {
		return nil
	}
	clone := *params
	return &clone
}

// PixelToPoint transforms a pixel with depth to a 3D point.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return 0, 0, 0
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// ProjectToPixel projects a 3D point in the camera frame onto the image plane
// without rounding. The third return is the depth of the point; callers are
// expected to discard projections with non-positive depth.
func (params *PinholeCameraIntrinsics) ProjectToPixel(x, y, z float64) (float64, float64, float64) {
	if z == 0 {
		return -1, -1, 0
	}
	xPx := (x/z)*params.Fx + params.Ppx
	yPx := (y/z)*params.Fy + params.Ppy
	return xPx, yPx, z
}

// PointToPixel projects a 3D point to a pixel in an image plane, rounded to
// the nearest pixel.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx, yPx, _ := params.ProjectToPixel(x, y, z)
		return math.Round(xPx), math.Round(yPx)
	}
	return -1.0, -1.0
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// Project projects a 3D point in the camera frame through the distortion
// model (if any) onto the image plane. The second return is the depth.
func (model *PinholeCameraModel) Project(pt r3.Vector) (r2.Point, float64) {
	if pt.Z == 0 {
		return r2.Point{X: -1, Y: -1}, 0
	}
	x := pt.X / pt.Z
	y := pt.Y / pt.Z
	if model.Distortion != nil {
		x, y = model.Distortion.Transform(x, y)
	}
	return r2.Point{
		X: x*model.Fx + model.Ppx,
		Y: y*model.Fy + model.Ppy,
	}, pt.Z
}

// NormalizePoint converts a pixel coordinate to a normalized image
// coordinate using the inverse camera matrix.
func (params *PinholeCameraIntrinsics) NormalizePoint(pt r2.Point) r2.Point {
	return r2.Point{
		X: (pt.X - params.Ppx) / params.Fx,
		Y: (pt.Y - params.Ppy) / params.Fy,
	}
}
