package sfm

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/fschwaiger/gosfm/track"
	"github.com/fschwaiger/gosfm/transform"
)

// Dataset is the loaded input of a reconstruction run: calibrated views,
// their keypoints, and the putative pairwise matches.
type Dataset struct {
	Views    map[track.ViewID]*transform.PinholeCameraIntrinsics
	Features FeatureSet
	Matches  MatchSet
}

type datasetFile struct {
	Views    map[track.ViewID]*transform.PinholeCameraIntrinsics `json:"views"`
	Features map[track.ViewID][][2]float64                       `json:"features"`
	Matches  []datasetMatches                                    `json:"matches"`
}

type datasetMatches struct {
	A       track.ViewID `json:"a"`
	B       track.ViewID `json:"b"`
	Matches [][2]uint32  `json:"matches"`
}

// LoadDataset reads and validates a dataset JSON file. Features are listed
// per view as [x, y] pixel pairs; matches pair feature indices of view a
// with feature indices of view b.
func LoadDataset(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read dataset from %q", path)
	}
	var file datasetFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "cannot parse dataset from %q", path)
	}
	if len(file.Views) < 2 {
		return nil, errors.Errorf("dataset %q has %d views, need at least 2", path, len(file.Views))
	}
	ds := &Dataset{
		Views:    map[track.ViewID]*transform.PinholeCameraIntrinsics{},
		Features: FeatureSet{},
		Matches:  MatchSet{},
	}
	for viewID, intr := range file.Views {
		if intr == nil {
			return nil, errors.Errorf("view %d has no intrinsics", viewID)
		}
		if err := intr.CheckValid(); err != nil {
			return nil, errors.Wrapf(err, "view %d", viewID)
		}
		ds.Views[viewID] = intr
	}
	for viewID, raw := range file.Features {
		if _, ok := ds.Views[viewID]; !ok {
			return nil, errors.Errorf("features reference unknown view %d", viewID)
		}
		pts := make([]r2.Point, len(raw))
		for i, xy := range raw {
			pts[i] = r2.Point{X: xy[0], Y: xy[1]}
		}
		ds.Features[viewID] = pts
	}
	for _, dm := range file.Matches {
		if dm.A == dm.B {
			return nil, errors.Errorf("matches pair view %d with itself", dm.A)
		}
		for _, viewID := range []track.ViewID{dm.A, dm.B} {
			if _, ok := ds.Views[viewID]; !ok {
				return nil, errors.Errorf("matches reference unknown view %d", viewID)
			}
		}
		pair := track.MakePair(dm.A, dm.B)
		flip := pair.A != dm.A
		ms := make([]track.Match, len(dm.Matches))
		for i, ab := range dm.Matches {
			a, b := track.FeatureID(ab[0]), track.FeatureID(ab[1])
			if flip {
				a, b = b, a
			}
			if int(a) >= len(ds.Features[pair.A]) || int(b) >= len(ds.Features[pair.B]) {
				return nil, errors.Errorf("match %d of pair (%d, %d) references a missing feature",
					i, pair.A, pair.B)
			}
			ms[i] = track.Match{A: a, B: b}
		}
		ds.Matches[pair] = append(ds.Matches[pair], ms...)
	}
	return ds, nil
}
