package trainfmt

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"github.com/timo-kang/densnet/colmap"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	test.That(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 4, 3))), test.ShouldBeNil)
}

func pinholeCamera(id int) colmap.Camera {
	return colmap.Camera{
		ID: id, Model: colmap.ModelPinhole, Width: 640, Height: 480,
		Params: []float64{500, 500, 320, 240},
	}
}

func identityPose(id, cameraID int, name string) colmap.ImagePose {
	return colmap.ImagePose{
		ID:       id,
		Rotation: quat.Number{Real: 1},
		CameraID: cameraID,
		Name:     name,
	}
}

type motionDoc struct {
	Motion map[int][][]float64 `yaml:"motion"`
}

func readMotion(t *testing.T, outDir string) motionDoc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, "motion.yaml"))
	test.That(t, err, test.ShouldBeNil)
	var doc motionDoc
	test.That(t, yaml.Unmarshal(data, &doc), test.ShouldBeNil)
	return doc
}

func TestConvertSequenceSingleIdentityImage(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images:  map[int]colmap.ImagePose{1: identityPose(1, 1, "a.png")},
	}

	outDir := filepath.Join(t.TempDir(), "sequence_0")
	res, err := ConvertSequence(recon, imageRoot, outDir, Options{Logger: golog.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 1)
	test.That(t, res.Points, test.ShouldEqual, 0)
	test.That(t, res.Skipped, test.ShouldEqual, 0)

	_, err = os.Stat(filepath.Join(outDir, "image_0", "0000000000.png"))
	test.That(t, err, test.ShouldBeNil)

	k, err := os.ReadFile(filepath.Join(outDir, "camera_intrinsics_per_view", "0000000000.txt"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(k), test.ShouldEqual,
		"500.000000 0.000000 320.000000\n0.000000 500.000000 240.000000\n0.000000 0.000000 1.000000\n")

	// Identity world-to-camera inverts to an identity camera-to-world.
	motion := readMotion(t, outDir)
	test.That(t, motion.Motion, test.ShouldHaveLength, 1)
	test.That(t, motion.Motion[0], test.ShouldResemble, [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	})

	ply, err := os.ReadFile(filepath.Join(outDir, "structure.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(ply), test.ShouldContainSubstring, "element vertex 0\n")
}

func TestConvertSequenceIndexAssignment(t *testing.T) {
	imageRoot := t.TempDir()
	for _, name := range []string{"c.png", "a.png", "b.png"} {
		writePNG(t, filepath.Join(imageRoot, name))
	}

	// Map iteration order must not matter: indices follow name order.
	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images: map[int]colmap.ImagePose{
			9: identityPose(9, 1, "c.png"),
			4: identityPose(4, 1, "a.png"),
			7: identityPose(7, 1, "b.png"),
		},
	}

	outDir := t.TempDir()
	res, err := ConvertSequence(recon, imageRoot, outDir, Options{Logger: golog.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 3)

	for idx := 0; idx < 3; idx++ {
		_, err := os.Stat(filepath.Join(outDir, "image_0", fmt.Sprintf("%010d.png", idx)))
		test.That(t, err, test.ShouldBeNil)
	}
}

func TestConvertSequenceRecursiveResolution(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "nested", "deeper", "a.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images:  map[int]colmap.ImagePose{1: identityPose(1, 1, "a.png")},
	}

	res, err := ConvertSequence(recon, imageRoot, t.TempDir(), Options{Logger: golog.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 1)
}

func TestConvertSequenceSkipsUnresolvedKeepingIndexHole(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))
	writePNG(t, filepath.Join(imageRoot, "c.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images: map[int]colmap.ImagePose{
			1: identityPose(1, 1, "a.png"),
			2: identityPose(2, 1, "b.png"), // not on disk
			3: identityPose(3, 1, "c.png"),
		},
	}

	outDir := t.TempDir()
	res, err := ConvertSequence(recon, imageRoot, outDir, Options{Logger: golog.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 2)
	test.That(t, res.Skipped, test.ShouldEqual, 1)

	// b.png held index 1; the skip leaves that index unoccupied.
	_, err = os.Stat(filepath.Join(outDir, "image_0", "0000000000.png"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(outDir, "image_0", "0000000001.png"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	_, err = os.Stat(filepath.Join(outDir, "image_0", "0000000002.png"))
	test.That(t, err, test.ShouldBeNil)

	motion := readMotion(t, outDir)
	test.That(t, motion.Motion, test.ShouldHaveLength, 2)
	_, held := motion.Motion[1]
	test.That(t, held, test.ShouldBeFalse)
}

func TestConvertSequenceSkipsUnknownCamera(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))
	writePNG(t, filepath.Join(imageRoot, "b.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images: map[int]colmap.ImagePose{
			1: identityPose(1, 1, "a.png"),
			2: identityPose(2, 99, "b.png"),
		},
	}

	res, err := ConvertSequence(recon, imageRoot, t.TempDir(), Options{Logger: golog.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 1)
	test.That(t, res.Skipped, test.ShouldEqual, 1)
}

func TestConvertSequenceNoImagesResolved(t *testing.T) {
	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images:  map[int]colmap.ImagePose{1: identityPose(1, 1, "missing.png")},
	}

	_, err := ConvertSequence(recon, t.TempDir(), t.TempDir(), Options{Logger: golog.NewTestLogger(t)})
	test.That(t, errors.Is(err, ErrNoImagesResolved), test.ShouldBeTrue)
}

func TestConvertSequenceJPEGAndFlatIntrinsics(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))
	writePNG(t, filepath.Join(imageRoot, "b.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images: map[int]colmap.ImagePose{
			1: identityPose(1, 1, "a.png"),
			2: identityPose(2, 1, "b.png"),
		},
	}

	outDir := t.TempDir()
	res, err := ConvertSequence(recon, imageRoot, outDir, Options{
		ImageMode:      ImageJPEG,
		FlatIntrinsics: true,
		Logger:         golog.NewTestLogger(t),
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Images, test.ShouldEqual, 2)

	// JPEG mode uses 8-digit names.
	_, err = os.Stat(filepath.Join(outDir, "image_0", "00000000.jpg"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(outDir, "image_0", "00000001.jpg"))
	test.That(t, err, test.ShouldBeNil)

	flat, err := os.ReadFile(filepath.Join(outDir, "camera_intrinsics_per_view"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(flat), test.ShouldEqual,
		"500.000000\n500.000000\n320.000000\n240.000000\n"+
			"500.000000\n500.000000\n320.000000\n240.000000\n")
}

func TestConvertSequenceROSPoses(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images: map[int]colmap.ImagePose{1: {
			ID:          1,
			Rotation:    quat.Number{Real: 1},
			Translation: r3.Vector{X: 1, Y: 2, Z: 3},
			CameraID:    1,
			Name:        "a.png",
		}},
	}

	outDir := t.TempDir()
	_, err := ConvertSequence(recon, imageRoot, outDir, Options{
		ROSPoses: true,
		Logger:   golog.NewTestLogger(t),
	})
	test.That(t, err, test.ShouldBeNil)

	data, err := os.ReadFile(filepath.Join(outDir, "motion.yaml"))
	test.That(t, err, test.ShouldBeNil)

	var doc struct {
		Header struct {
			Seq int `yaml:"seq"`
		} `yaml:"header"`
		Poses map[string]struct {
			Position struct {
				X float64 `yaml:"x"`
			} `yaml:"position"`
			Orientation struct {
				W float64 `yaml:"w"`
			} `yaml:"orientation"`
		} `yaml:"poses[]"`
	}
	test.That(t, yaml.Unmarshal(data, &doc), test.ShouldBeNil)
	pose, ok := doc.Poses["poses[0]"]
	test.That(t, ok, test.ShouldBeTrue)
	// Identity rotation: t_c2w = -t_w2c.
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, pose.Orientation.W, test.ShouldAlmostEqual, 1, 1e-9)
}

func TestConvertSequenceSymlink(t *testing.T) {
	imageRoot := t.TempDir()
	writePNG(t, filepath.Join(imageRoot, "a.png"))

	recon := &colmap.Reconstruction{
		Cameras: map[int]colmap.Camera{1: pinholeCamera(1)},
		Images:  map[int]colmap.ImagePose{1: identityPose(1, 1, "a.png")},
	}

	outDir := t.TempDir()
	_, err := ConvertSequence(recon, imageRoot, outDir, Options{
		ImageMode: ImageSymlink,
		Logger:    golog.NewTestLogger(t),
	})
	test.That(t, err, test.ShouldBeNil)

	link := filepath.Join(outDir, "image_0", "0000000000.png")
	target, err := os.Readlink(link)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.IsAbs(target), test.ShouldBeTrue)
}

func TestResolveImagePrefersDirectPath(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "a.png"))
	writePNG(t, filepath.Join(root, "sub", "a.png"))

	path, viaSearch, err := ResolveImage(root, "a.png")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, viaSearch, test.ShouldBeFalse)
	test.That(t, path, test.ShouldEqual, filepath.Join(root, "a.png"))
}
