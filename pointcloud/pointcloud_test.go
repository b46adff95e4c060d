package pointcloud

import (
	"bufio"
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeTestCloud(t *testing.T) PointCloud {
	t.Helper()
	cloud := New()
	test.That(t, cloud.Set(NewVector(0, 0, 5), NewValueData(1)), test.ShouldBeNil)
	test.That(t, cloud.Set(NewVector(-1, 2, 6), NewValueData(2)), test.ShouldBeNil)
	test.That(t, cloud.Set(NewVector(0.5, -1.25, 4), NewValueData(3)), test.ShouldBeNil)
	return cloud
}

func TestSetAtSize(t *testing.T) {
	cloud := makeTestCloud(t)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)

	d, found := cloud.At(-1, 2, 6)
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 2)

	_, found = cloud.At(9, 9, 9)
	test.That(t, found, test.ShouldBeFalse)

	// setting the same position again replaces the data, not the point
	test.That(t, cloud.Set(NewVector(0, 0, 5), NewValueData(7)), test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)
	d, _ = cloud.At(0, 0, 5)
	test.That(t, d.Value(), test.ShouldEqual, 7)
}

func TestMetaData(t *testing.T) {
	cloud := makeTestCloud(t)
	meta := cloud.MetaData()
	test.That(t, meta.HasValue, test.ShouldBeTrue)
	test.That(t, meta.HasColor, test.ShouldBeFalse)
	test.That(t, meta.MinX, test.ShouldEqual, -1)
	test.That(t, meta.MaxX, test.ShouldEqual, 0.5)
	test.That(t, meta.MinZ, test.ShouldEqual, 4)
	test.That(t, meta.MaxZ, test.ShouldEqual, 6)

	center := meta.Center(cloud.Size())
	test.That(t, center.Z, test.ShouldEqual, 5)
}

func TestIterateStops(t *testing.T) {
	cloud := makeTestCloud(t)
	visited := 0
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		visited++
		return false
	})
	test.That(t, visited, test.ShouldEqual, 1)
}

func TestToPCDAscii(t *testing.T) {
	cloud := makeTestCloud(t)
	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDAscii), test.ShouldBeNil)

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	test.That(t, lines[0], test.ShouldEqual, "VERSION .7")
	test.That(t, lines[1], test.ShouldEqual, "FIELDS x y z")
	joined := strings.Join(lines, "\n")
	test.That(t, joined, test.ShouldContainSubstring, "POINTS 3")
	test.That(t, joined, test.ShouldContainSubstring, "DATA ascii")
	// header is 10 lines (VERSION through DATA), one data line per point
	test.That(t, lines, test.ShouldHaveLength, 10+3)
}

func TestToPCDBinaryColored(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Set(NewVector(1, 2, 3), NewColoredData(color.NRGBA{R: 0xaa, G: 0xbb, B: 0xcc, A: 0xff})), test.ShouldBeNil)
	var buf bytes.Buffer
	test.That(t, ToPCD(cloud, &buf, PCDBinary), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "FIELDS x y z rgb")
	test.That(t, out, test.ShouldContainSubstring, "DATA binary")
	// 16 bytes of payload follow the final header newline
	idx := strings.Index(out, "DATA binary\n")
	test.That(t, len(out)-(idx+len("DATA binary\n")), test.ShouldEqual, 16)
}

func TestWriteToFile(t *testing.T) {
	cloud := makeTestCloud(t)
	dir := t.TempDir()

	pcdPath := filepath.Join(dir, "cloud.pcd")
	test.That(t, WriteToFile(cloud, pcdPath), test.ShouldBeNil)
	info, err := os.Stat(pcdPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	lasPath := filepath.Join(dir, "cloud.las")
	test.That(t, WriteToFile(cloud, lasPath), test.ShouldBeNil)
	info, err = os.Stat(lasPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	test.That(t, WriteToFile(cloud, filepath.Join(dir, "cloud.xyz")), test.ShouldNotBeNil)
}
