package pointcloud

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// WriteToFile writes the cloud to the given path, dispatching on the file
// extension; ".pcd" and ".las" are supported.
func WriteToFile(cloud PointCloud, fn string) (err error) {
	switch ext := strings.ToLower(filepath.Ext(fn)); ext {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".pcd":
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ToPCD(cloud, f, PCDBinary)
	default:
		return errors.Errorf("unsupported point cloud file extension %q", ext)
	}
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var lastErr error
	cloud.Iterate(func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if d != nil {
			pr0.Intensity = d.Intensity()
		}

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
		return
	}

	//nolint:nakedret
	return
}

func _colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16 // logic taken from pcl
	}
	r, g, b := pt.RGB255()
	x := 0
	x |= int(r) << 16
	x |= int(g) << 8
	x |= int(b)
	return x
}

// ToPCD writes out a point cloud to a PCD file of the specified type.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	switch cloud.MetaData().HasColor {
	case true:
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	case false:
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	var err error
	cloud.Iterate(func(pos r3.Vector, d Data) bool {
		x := pos.X
		y := pos.Y
		z := pos.Z
		switch cloud.MetaData().HasColor {
		case true:
			c := _colorToPCDInt(d)
			switch pcdtype {
			case PCDBinary:
				buf := make([]byte, 16)
				binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
				binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(y)))
				binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(z)))
				binary.LittleEndian.PutUint32(buf[12:], uint32(c))
				_, err = out.Write(buf)
			case PCDAscii:
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", x, y, z, c)
			}
		case false:
			switch pcdtype {
			case PCDBinary:
				buf := make([]byte, 12)
				binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
				binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(y)))
				binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(z)))
				_, err = out.Write(buf)
			case PCDAscii:
				_, err = fmt.Fprintf(out, "%f %f %f\n", x, y, z)
			}
		}
		return err == nil
	})
	return err
}
