package colmap

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// dataLine is one non-blank, non-comment line together with its
// position in the file, kept for error reporting.
type dataLine struct {
	num    int
	fields []string
}

func readDataLines(path string) ([]dataLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	var lines []dataLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	num := 0
	for scanner.Scan() {
		num++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		lines = append(lines, dataLine{num: num, fields: strings.Fields(text)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return lines, nil
}

func (l dataLine) malformed(path, format string, args ...interface{}) error {
	return &MalformedRecordError{Path: path, Line: l.num, Reason: fmt.Sprintf(format, args...)}
}

func (l dataLine) int(path string, i int) (int, error) {
	v, err := strconv.Atoi(l.fields[i])
	if err != nil {
		return 0, l.malformed(path, "field %d: %q is not an integer", i, l.fields[i])
	}
	return v, nil
}

func (l dataLine) float(path string, i int) (float64, error) {
	v, err := strconv.ParseFloat(l.fields[i], 64)
	if err != nil {
		return 0, l.malformed(path, "field %d: %q is not a number", i, l.fields[i])
	}
	return v, nil
}

// ReadCameras parses cameras.txt:
//
//	CAMERA_ID MODEL WIDTH HEIGHT PARAMS[]
//
// At least four parameters must be present so that fx, fy, cx, cy are
// defined for every record. Duplicate ids are last-write-wins.
func ReadCameras(path string) (map[int]Camera, error) {
	lines, err := readDataLines(path)
	if err != nil {
		return nil, err
	}

	cameras := make(map[int]Camera, len(lines))
	for _, line := range lines {
		if len(line.fields) < 8 {
			return nil, line.malformed(path, "camera record needs id, model, size and 4+ params, got %d fields", len(line.fields))
		}
		id, err := line.int(path, 0)
		if err != nil {
			return nil, err
		}
		width, err := line.int(path, 2)
		if err != nil {
			return nil, err
		}
		height, err := line.int(path, 3)
		if err != nil {
			return nil, err
		}
		params := make([]float64, 0, len(line.fields)-4)
		for i := 4; i < len(line.fields); i++ {
			p, err := line.float(path, i)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
		cameras[id] = Camera{
			ID:     id,
			Model:  line.fields[1],
			Width:  width,
			Height: height,
			Params: params,
		}
	}
	return cameras, nil
}

// ReadImages parses images.txt. Records alternate between a metadata line
//
//	IMAGE_ID QW QX QY QZ TX TY TZ CAMERA_ID NAME
//
// and a feature-track line, which is skipped.
func ReadImages(path string) (map[int]ImagePose, error) {
	lines, err := readDataLines(path)
	if err != nil {
		return nil, err
	}

	images := make(map[int]ImagePose, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		line := lines[i]
		if len(line.fields) < 10 {
			return nil, line.malformed(path, "image record needs 10 fields, got %d", len(line.fields))
		}
		id, err := line.int(path, 0)
		if err != nil {
			return nil, err
		}
		var q [4]float64
		for j := range q {
			if q[j], err = line.float(path, 1+j); err != nil {
				return nil, err
			}
		}
		var t [3]float64
		for j := range t {
			if t[j], err = line.float(path, 5+j); err != nil {
				return nil, err
			}
		}
		cameraID, err := line.int(path, 8)
		if err != nil {
			return nil, err
		}
		images[id] = ImagePose{
			ID:          id,
			Rotation:    quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]},
			Translation: r3.Vector{X: t[0], Y: t[1], Z: t[2]},
			CameraID:    cameraID,
			Name:        line.fields[9],
		}
	}
	return images, nil
}

// ReadPoints parses points3D.txt:
//
//	POINT3D_ID X Y Z R G B ERROR TRACK[]
//
// Only position and color are retained; the error and track fields are
// discarded. Output order equals file order.
func ReadPoints(path string) ([]Point, error) {
	lines, err := readDataLines(path)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(lines))
	for _, line := range lines {
		if len(line.fields) < 7 {
			return nil, line.malformed(path, "point record needs 7+ fields, got %d", len(line.fields))
		}
		var pos [3]float64
		for j := range pos {
			if pos[j], err = line.float(path, 1+j); err != nil {
				return nil, err
			}
		}
		var rgb [3]uint8
		for j := range rgb {
			c, err := line.int(path, 4+j)
			if err != nil {
				return nil, err
			}
			rgb[j] = uint8(c)
		}
		points = append(points, Point{
			Position: r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]},
			R:        rgb[0], G: rgb[1], B: rgb[2],
		})
	}
	return points, nil
}
