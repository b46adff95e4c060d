package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector is a convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes the data associated with a single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// HasValue returns whether or not this point has some user data value
	// associated with it.
	HasValue() bool

	// Value returns the user data set value, if it exists.
	Value() int

	// Intensity returns the intensity of the point, if it exists.
	Intensity() uint16
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasValue bool
	value    int

	intensity uint16
}

// NewBasicData returns a point data with no color or value.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point data with the given color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewValueData returns a point data with the given user value.
func NewValueData(v int) Data {
	return &basicData{value: v, hasValue: true}
}

// NewColoredValueData returns a point data with both a color and a user value.
func NewColoredValueData(c color.NRGBA, v int) Data {
	return &basicData{c: c, hasColor: true, value: v, hasValue: true}
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return bp.c
}

func (bp *basicData) HasValue() bool {
	return bp.hasValue
}

func (bp *basicData) Value() int {
	return bp.value
}

func (bp *basicData) Intensity() uint16 {
	return bp.intensity
}
