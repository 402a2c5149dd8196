package rapexport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/timo-kang/densnet/colmap"
)

func testReconstruction() *colmap.Reconstruction {
	return &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{
			1: {ID: 1, Model: colmap.ModelPinhole, Width: 640, Height: 480, Params: []float64{500, 500, 320, 240}},
		},
		Images: map[int]colmap.ImagePose{
			1: {ID: 1, Rotation: quat.Number{Real: 1}, CameraID: 1, Name: "a.png"},
			2: {ID: 2, Rotation: quat.Number{Real: 1}, Translation: r3.Vector{X: 1}, CameraID: 1, Name: "b.png"},
		},
		Points: []colmap.Point{
			{Position: r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}, R: 10, G: 20, B: 30},
		},
	}
}

func TestRecording(t *testing.T) {
	recording, err := Recording("caseA/sparse/0", testReconstruction())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recording, test.ShouldNotBeNil)
}

func TestPointCloudBinaryEmpty(t *testing.T) {
	_, err := PointCloudBinary(nil)
	test.That(t, err, test.ShouldBeNil)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.rap")
	test.That(t, WriteFile(path, "caseA/sparse/0", testReconstruction()), test.ShouldBeNil)

	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
