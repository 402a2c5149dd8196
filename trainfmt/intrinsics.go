package trainfmt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// perViewIntrinsics writes one text file per output index containing
// the 3x3 projection matrix built from (fx, fy, cx, cy), one
// 6-decimal row per line.
type perViewIntrinsics struct {
	dir   string
	width int
}

func newPerViewIntrinsics(dir string, width int) (*perViewIntrinsics, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create intrinsics directory")
	}
	return &perViewIntrinsics{dir: dir, width: width}, nil
}

func (p *perViewIntrinsics) write(idx int, fx, fy, cx, cy float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%.6f %.6f %.6f\n", fx, 0.0, cx)
	fmt.Fprintf(&b, "%.6f %.6f %.6f\n", 0.0, fy, cy)
	fmt.Fprintf(&b, "%.6f %.6f %.6f\n", 0.0, 0.0, 1.0)

	path := filepath.Join(p.dir, fmt.Sprintf("%0*d.txt", p.width, idx))
	return errors.Wrapf(os.WriteFile(path, []byte(b.String()), 0o644), "write %s", path)
}

// flatIntrinsics collects (fx, fy, cx, cy) per resolved image and
// writes them as a single file, one 6-decimal parameter per line, in
// output-index order.
type flatIntrinsics struct {
	params []float64
}

func (f *flatIntrinsics) append(fx, fy, cx, cy float64) {
	f.params = append(f.params, fx, fy, cx, cy)
}

func (f *flatIntrinsics) writeFile(path string) error {
	var b strings.Builder
	for _, p := range f.params {
		fmt.Fprintf(&b, "%.6f\n", p)
	}
	return errors.Wrapf(os.WriteFile(path, []byte(b.String()), 0o644), "write %s", path)
}
