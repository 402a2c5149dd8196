package trainfmt

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/timo-kang/densnet/transform"
)

// motionFile accumulates camera-to-world transforms keyed by output
// index and serializes them as motion.yaml in one of the two accepted
// pose surfaces: index -> 4x4 matrix rows, or the ROS-style
// position+orientation mapping.
type motionFile struct {
	ros      bool
	matrices map[int][][]float64
	poses    map[string]rosPose
}

type rosVec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type rosQuat struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
	W float64 `yaml:"w"`
}

type rosPose struct {
	Position    rosVec  `yaml:"position"`
	Orientation rosQuat `yaml:"orientation"`
}

type rosHeader struct {
	Seq     int     `yaml:"seq"`
	Stamp   float64 `yaml:"stamp"`
	FrameID string  `yaml:"frame_id"`
}

func newMotionFile(ros bool) *motionFile {
	return &motionFile{
		ros:      ros,
		matrices: map[int][][]float64{},
		poses:    map[string]rosPose{},
	}
}

func (m *motionFile) add(idx int, c2w *mat.Dense) {
	if !m.ros {
		rows := make([][]float64, 4)
		for i := range rows {
			rows[i] = make([]float64, 4)
			for j := range rows[i] {
				rows[i][j] = c2w.At(i, j)
			}
		}
		m.matrices[idx] = rows
		return
	}

	q := transform.MatrixToQuat(transform.Rotation(c2w))
	t := transform.Translation(c2w)
	m.poses[fmt.Sprintf("poses[%d]", idx)] = rosPose{
		Position:    rosVec{X: t.X, Y: t.Y, Z: t.Z},
		Orientation: rosQuat{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
	}
}

func (m *motionFile) writeFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create motion file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var doc interface{}
	if m.ros {
		doc = map[string]interface{}{
			"header":  rosHeader{},
			"poses[]": m.poses,
		}
	} else {
		doc = map[string]map[int][][]float64{"motion": m.matrices}
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode motion file")
	}
	return errors.Wrap(enc.Close(), "flush motion file")
}
