// Package pointcloud defines a sparse point cloud and file export for it.
//
// The reconstruction engine uses it to hand out the triangulated structure
// and to snapshot intermediate scenes to disk.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
}

// PointCloud is a general purpose container of points. It does not dictate
// whether or not the cloud is sparse or dense. The current basic
// implementation is sparse.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is whether a point exists at that position.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each one. If the function returns false, the iteration
	// stops.
	Iterate(fn func(p r3.Vector, d Data) bool)
}

// NewMetaData returns a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64, MaxX: -math.MaxFloat64,
		MinY: math.MaxFloat64, MaxY: -math.MaxFloat64,
		MinZ: math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
}

// Center returns the center of the points in the cloud.
func (meta *MetaData) Center(size int) r3.Vector {
	if size == 0 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: meta.totalX / float64(size),
		Y: meta.totalY / float64(size),
		Z: meta.totalZ / float64(size),
	}
}
