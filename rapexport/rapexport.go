// Package rapexport writes a sequence's camera trajectory as a
// Recolude recording, with the sparse point cloud attached as a binary
// PLY. It is a visualization surface next to the training layout, not
// part of it.
package rapexport

import (
	"bytes"
	"os"
	"sort"
	"strconv"

	"github.com/EliCDavis/polyform/formats/ply"
	"github.com/EliCDavis/polyform/modeling"
	"github.com/EliCDavis/vector/vector3"
	"github.com/pkg/errors"
	"github.com/recolude/rap/format"
	"github.com/recolude/rap/format/collection/euler"
	"github.com/recolude/rap/format/collection/event"
	"github.com/recolude/rap/format/collection/position"
	"github.com/recolude/rap/format/encoding"
	eulEnc "github.com/recolude/rap/format/encoding/euler"
	eventEnc "github.com/recolude/rap/format/encoding/event"
	posEnc "github.com/recolude/rap/format/encoding/position"
	rapio "github.com/recolude/rap/format/io"
	"github.com/recolude/rap/format/metadata"
	"go.uber.org/multierr"

	"github.com/timo-kang/densnet/colmap"
	"github.com/timo-kang/densnet/transform"
)

// PointCloudBinary packs the sparse points into a binary PLY recording
// attachment. Colors are normalized to [0, 1].
func PointCloudBinary(points []colmap.Point) (rapio.Binary, error) {
	positionData := make([]vector3.Float64, 0, len(points))
	colorData := make([]vector3.Float64, 0, len(points))

	for _, p := range points {
		positionData = append(positionData, vector3.New(p.Position.X, p.Position.Y, p.Position.Z))
		colorData = append(colorData, vector3.New(float64(p.R), float64(p.G), float64(p.B)).DivByConstant(255.))
	}

	pc := modeling.NewPointCloud(
		map[string][]vector3.Vector[float64]{
			modeling.PositionAttribute: positionData,
			modeling.ColorAttribute:    colorData,
		},
		nil,
		nil,
		nil,
	)

	buf := bytes.Buffer{}
	if err := ply.WriteBinary(&buf, pc); err != nil {
		return rapio.Binary{}, errors.Wrap(err, "encode point cloud")
	}

	return rapio.NewBinary("structure.ply", buf.Bytes(), metadata.NewBlock(map[string]metadata.Property{
		"points": metadata.NewIntProperty(len(points)),
	})), nil
}

// cameraToSubject builds one recording subject holding the
// camera-to-world trajectory of every image shot with the given
// camera. Time is the image's output index, since COLMAP's text
// exports carry no capture timestamps.
func cameraToSubject(recon *colmap.Reconstruction, sorted []colmap.ImagePose, cameraID int) format.Recording {
	positionCaptures := make([]position.Capture, 0, len(sorted))
	rotationCaptures := make([]euler.Capture, 0, len(sorted))
	eventCaptures := make([]event.Capture, 0, len(sorted))

	for idx, img := range sorted {
		if img.CameraID != cameraID {
			continue
		}
		time := float64(idx)

		c2w := transform.CameraToWorld(img.Rotation, img.Translation)
		t := transform.Translation(c2w)
		ex, ey, ez := transform.EulerZXY(transform.Rotation(c2w))

		positionCaptures = append(positionCaptures, position.NewCapture(time, t.X, t.Y, t.Z))
		rotationCaptures = append(rotationCaptures, euler.NewEulerZXYCapture(
			time,
			transform.Rad2Deg(ex),
			transform.Rad2Deg(ey),
			transform.Rad2Deg(ez),
		))
		eventCaptures = append(eventCaptures, event.NewCapture(time, img.Name, metadata.NewBlock(map[string]metadata.Property{
			"Image ID": metadata.NewIntProperty(img.ID),
		})))
	}

	camera := recon.Cameras[cameraID]
	fx, fy, cx, cy := camera.Intrinsics()
	id := strconv.Itoa(cameraID)

	return format.NewRecording(
		id,
		"camera "+id,
		[]format.CaptureCollection{
			position.NewCollection("Position", positionCaptures),
			euler.NewCollection("Rotation", rotationCaptures),
			event.NewCollection("Image", eventCaptures),
		},
		nil,
		metadata.NewBlock(map[string]metadata.Property{
			"Model":  metadata.NewStringProperty(camera.Model),
			"Width":  metadata.NewIntProperty(camera.Width),
			"Height": metadata.NewIntProperty(camera.Height),
			"Fx":     metadata.NewFloat32Property(float32(fx)),
			"Fy":     metadata.NewFloat32Property(float32(fy)),
			"Cx":     metadata.NewFloat32Property(float32(cx)),
			"Cy":     metadata.NewFloat32Property(float32(cy)),
		}),
		[]format.Binary{},
		[]format.BinaryReference{},
	)
}

// Recording converts a parsed reconstruction into a recording: one
// subject per camera, the point cloud as a binary attachment.
func Recording(name string, recon *colmap.Reconstruction) (format.Recording, error) {
	sorted := make([]colmap.ImagePose, 0, len(recon.Images))
	for _, img := range recon.Images {
		sorted = append(sorted, img)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	cameraIDs := make([]int, 0, len(recon.Cameras))
	for id := range recon.Cameras {
		cameraIDs = append(cameraIDs, id)
	}
	sort.Ints(cameraIDs)

	subjects := make([]format.Recording, 0, len(cameraIDs))
	for _, id := range cameraIDs {
		subjects = append(subjects, cameraToSubject(recon, sorted, id))
	}

	points, err := PointCloudBinary(recon.Points)
	if err != nil {
		var empty format.Recording
		return empty, err
	}

	return format.NewRecording(
		"colmap",
		name,
		[]format.CaptureCollection{},
		subjects,
		metadata.NewBlock(map[string]metadata.Property{
			"cameras": metadata.NewIntProperty(len(recon.Cameras)),
			"images":  metadata.NewIntProperty(len(recon.Images)),
			"points":  metadata.NewIntProperty(len(recon.Points)),
		}),
		[]format.Binary{points},
		[]format.BinaryReference{},
	), nil
}

// WriteFile writes the recording of recon to path.
func WriteFile(path, name string, recon *colmap.Reconstruction) (err error) {
	recording, err := Recording(name, recon)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create recording")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	writer := rapio.NewWriter(
		[]encoding.Encoder{
			posEnc.NewEncoder(posEnc.Oct24),
			eulEnc.NewEncoder(eulEnc.Raw16),
			eventEnc.NewEncoder(),
		},
		true,
		f,
		rapio.BST16,
	)

	_, err = writer.Write(recording)
	return errors.Wrap(err, "write recording")
}
