// Package colmap reads the sparse text exports produced by a COLMAP
// reconstruction: cameras.txt, images.txt and points3D.txt.
package colmap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Camera model tags with dedicated handling. Any other tag is accepted
// and treated positionally: the first four parameters are fx, fy, cx, cy.
const (
	ModelPinhole = "PINHOLE"
	ModelOpenCV  = "OPENCV"
)

// Camera is one entry of cameras.txt. Params keeps the full
// model-specific parameter list, distortion terms included.
type Camera struct {
	ID     int
	Model  string
	Width  int
	Height int
	Params []float64
}

// Intrinsics returns the pinhole projection parameters shared by every
// supported model as its first four parameters.
func (c Camera) Intrinsics() (fx, fy, cx, cy float64) {
	return c.Params[0], c.Params[1], c.Params[2], c.Params[3]
}

// ImagePose is the metadata line of one images.txt record. Rotation and
// Translation are in COLMAP's world-to-camera convention.
type ImagePose struct {
	ID          int
	Rotation    quat.Number
	Translation r3.Vector
	CameraID    int
	Name        string
}

// Point is one sparse 3D point. Track data is not retained.
type Point struct {
	Position r3.Vector
	R, G, B  uint8
}

// Reconstruction bundles the three parsed exports of one sparse model.
type Reconstruction struct {
	Cameras map[int]Camera
	Images  map[int]ImagePose
	Points  []Point
}

// ReadReconstruction reads cameras.txt, images.txt and points3D.txt from dir.
func ReadReconstruction(dir string) (*Reconstruction, error) {
	cameras, err := ReadCameras(filepath.Join(dir, "cameras.txt"))
	if err != nil {
		return nil, err
	}
	images, err := ReadImages(filepath.Join(dir, "images.txt"))
	if err != nil {
		return nil, err
	}
	points, err := ReadPoints(filepath.Join(dir, "points3D.txt"))
	if err != nil {
		return nil, err
	}
	return &Reconstruction{Cameras: cameras, Images: images, Points: points}, nil
}

// IsReconstructionDir reports whether dir contains the three text exports.
func IsReconstructionDir(dir string) bool {
	for _, name := range []string{"cameras.txt", "images.txt", "points3D.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// MalformedRecordError reports an unparseable data line. It is fatal to
// the reconstruction being parsed.
type MalformedRecordError struct {
	Path   string
	Line   int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s:%d: malformed record: %s", e.Path, e.Line, e.Reason)
}

// IsMalformed reports whether err is (or wraps) a MalformedRecordError.
func IsMalformed(err error) bool {
	var target *MalformedRecordError
	return errors.As(err, &target)
}
