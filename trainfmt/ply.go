package trainfmt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/timo-kang/densnet/colmap"
)

// WritePointCloud writes a vertex-only ASCII PLY. Positions are fixed
// 6-decimal floats and colors 8-bit unsigned, which keeps the output
// byte-stable across write/read/write cycles. Vertex order equals
// input order. An empty point set produces a valid zero-vertex file.
func WritePointCloud(w io.Writer, points []colmap.Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat ascii 1.0\nelement vertex %d\n", len(points))
	bw.WriteString("property float x\nproperty float y\nproperty float z\n")
	bw.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	bw.WriteString("end_header\n")
	for _, p := range points {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %d %d %d\n", p.Position.X, p.Position.Y, p.Position.Z, p.R, p.G, p.B)
	}
	return bw.Flush()
}

// WritePointCloudFile writes the point cloud to path.
func WritePointCloudFile(path string, points []colmap.Point) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create point cloud")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WritePointCloud(f, points)
}

// ReadPointCloud parses a point cloud previously written by
// WritePointCloud. It only understands that exact layout; it is a
// verification tool, not a general PLY reader.
func ReadPointCloud(r io.Reader) ([]colmap.Point, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	count := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "end_header" {
			break
		}
		if n, ok := strings.CutPrefix(line, "element vertex "); ok {
			v, err := strconv.Atoi(n)
			if err != nil {
				return nil, errors.Errorf("bad vertex count %q", n)
			}
			count = v
		}
	}
	if count < 0 {
		return nil, errors.New("missing element vertex declaration")
	}

	points := make([]colmap.Point, 0, count)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 6 {
			return nil, errors.Errorf("vertex line has %d fields, want 6", len(fields))
		}
		var pos [3]float64
		for i := range pos {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "vertex %d", len(points))
			}
			pos[i] = v
		}
		var rgb [3]uint8
		for i := range rgb {
			v, err := strconv.ParseUint(fields[3+i], 10, 8)
			if err != nil {
				return nil, errors.Wrapf(err, "vertex %d color", len(points))
			}
			rgb[i] = uint8(v)
		}
		points = append(points, colmap.Point{
			Position: r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]},
			R:        rgb[0], G: rgb[1], B: rgb[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(points) != count {
		return nil, errors.Errorf("header declares %d vertices, file has %d", count, len(points))
	}
	return points, nil
}
