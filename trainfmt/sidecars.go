package trainfmt

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/image/bmp"
)

const (
	maskFileName            = "undistorted_mask.bmp"
	selectedIndexesFileName = "selected_indexes"
	visibleIndexesFileName  = "visible_view_indexes"
)

// WriteSidecars derives the auxiliary per-sequence files from the
// images already placed under image_0: an all-valid (white) mask sized
// like the first image, and the selected/visible view index lists, one
// zero-based index per placed image.
func WriteSidecars(seqDir string) error {
	images, err := listSequenceImages(filepath.Join(seqDir, imageDirName))
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.Errorf("no images under %s", filepath.Join(seqDir, imageDirName))
	}

	first, err := imaging.Open(images[0])
	if err != nil {
		return errors.Wrapf(err, "decode %s", images[0])
	}
	if err := writeMask(filepath.Join(seqDir, maskFileName), first.Bounds()); err != nil {
		return err
	}

	for _, name := range []string{selectedIndexesFileName, visibleIndexesFileName} {
		if err := writeIndexList(filepath.Join(seqDir, name), len(images)); err != nil {
			return err
		}
	}
	return nil
}

// RegenerateSidecars walks output root for bag_*/sequence_* directories
// and rebuilds the sidecar files of each. Per-sequence failures are
// logged and counted, never fatal to the run.
func RegenerateSidecars(root string, logger golog.Logger) (succeeded, failed int, err error) {
	seqDirs, err := filepath.Glob(filepath.Join(root, "bag_*", "sequence_*"))
	if err != nil {
		return 0, 0, err
	}
	if len(seqDirs) == 0 {
		return 0, 0, errors.Errorf("no bag_*/sequence_* directories under %s", root)
	}
	sort.Strings(seqDirs)

	for _, dir := range seqDirs {
		if err := WriteSidecars(dir); err != nil {
			logger.Warnw("sidecar generation failed", "sequence", dir, "error", err)
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

func listSequenceImages(imageDir string) ([]string, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, errors.Wrap(err, "read image directory")
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			images = append(images, filepath.Join(imageDir, e.Name()))
		}
	}
	sort.Strings(images)
	return images, nil
}

func writeMask(path string, bounds image.Rectangle) (err error) {
	mask := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for i := range mask.Pix {
		mask.Pix[i] = 0xff
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create mask")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrap(bmp.Encode(f, mask), "encode mask")
}

func writeIndexList(path string, n int) error {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return errors.Wrapf(os.WriteFile(path, []byte(b.String()), 0o644), "write %s", path)
}
