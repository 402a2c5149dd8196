// Package trainfmt assembles one normalized training sequence from a
// parsed COLMAP reconstruction: index-named images, per-view or flat
// intrinsics, a camera-to-world pose file and a sparse point cloud.
package trainfmt

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/timo-kang/densnet/colmap"
	"github.com/timo-kang/densnet/transform"
)

// ImageMode selects how resolved source images are placed into the
// sequence's image directory.
type ImageMode int

const (
	// ImageCopy copies the source file unchanged, keeping its extension.
	ImageCopy ImageMode = iota
	// ImageSymlink links to the absolute source path instead of copying.
	ImageSymlink
	// ImageJPEG re-encodes the source as JPEG quality 95.
	ImageJPEG
)

const (
	imageDirName       = "image_0"
	intrinsicsName     = "camera_intrinsics_per_view"
	motionFileName     = "motion.yaml"
	pointCloudFileName = "structure.ply"

	// Index padding widths, per placement mode.
	copyIndexWidth = 10
	jpegIndexWidth = 8
)

// Options configures sequence assembly.
type Options struct {
	ImageMode ImageMode
	// ROSPoses switches motion.yaml to the position+orientation pose
	// surface instead of 4x4 matrices.
	ROSPoses bool
	// FlatIntrinsics writes one camera_intrinsics_per_view file with
	// four parameters per image instead of a per-view directory of 3x3
	// projection matrices.
	FlatIntrinsics bool
	// Sidecars additionally writes the mask and view-index files.
	Sidecars bool
	Logger   golog.Logger
}

// Result summarizes one assembled sequence.
type Result struct {
	Images  int
	Points  int
	Skipped int
}

// ErrNoImagesResolved means not a single source image could be found
// for a reconstruction. The sequence as a whole fails.
var ErrNoImagesResolved = errors.New("no source images resolved")

// UnknownCameraError means a pose references a camera id absent from
// the camera collection. Fatal only to that one image entry.
type UnknownCameraError struct {
	ImageName string
	CameraID  int
}

func (e *UnknownCameraError) Error() string {
	return fmt.Sprintf("image %s references unknown camera %d", e.ImageName, e.CameraID)
}

// ConvertSequence assembles one sequence directory at outDir from a
// parsed reconstruction and a resolvable image source root.
//
// Output indices are assigned by sorting image names lexicographically;
// entries that cannot be resolved keep their index reserved, so a skip
// leaves a hole rather than renumbering later images. A sequence that
// fails mid-write leaves its partial output in place.
func ConvertSequence(recon *colmap.Reconstruction, imageRoot, outDir string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = golog.Global()
	}

	imageDir := filepath.Join(outDir, imageDirName)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create sequence directory")
	}

	width := copyIndexWidth
	if opts.ImageMode == ImageJPEG {
		width = jpegIndexWidth
	}

	var perView *perViewIntrinsics
	var flat *flatIntrinsics
	if opts.FlatIntrinsics {
		flat = &flatIntrinsics{}
	} else {
		var err error
		if perView, err = newPerViewIntrinsics(filepath.Join(outDir, intrinsicsName), width); err != nil {
			return nil, err
		}
	}

	sorted := make([]colmap.ImagePose, 0, len(recon.Images))
	for _, img := range recon.Images {
		sorted = append(sorted, img)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	motion := newMotionFile(opts.ROSPoses)
	res := &Result{Points: len(recon.Points)}

	for idx, img := range sorted {
		camera, ok := recon.Cameras[img.CameraID]
		if !ok {
			logger.Warnw("skipping image with unknown camera",
				"error", &UnknownCameraError{ImageName: img.Name, CameraID: img.CameraID})
			res.Skipped++
			continue
		}

		src, viaSearch, err := ResolveImage(imageRoot, img.Name)
		if err != nil {
			return nil, err
		}
		if src == "" {
			logger.Warnw("source image not found, skipping", "image", img.Name, "root", imageRoot)
			res.Skipped++
			continue
		}
		if viaSearch {
			logger.Debugw("image resolved by recursive search", "image", img.Name, "path", src)
		}

		if err := placeImage(src, imageDir, idx, width, opts.ImageMode); err != nil {
			return nil, err
		}

		fx, fy, cx, cy := camera.Intrinsics()
		if flat != nil {
			flat.append(fx, fy, cx, cy)
		} else if err := perView.write(idx, fx, fy, cx, cy); err != nil {
			return nil, err
		}

		motion.add(idx, transform.CameraToWorld(img.Rotation, img.Translation))
		res.Images++
	}

	if res.Images == 0 {
		return nil, errors.Wrapf(ErrNoImagesResolved, "under %s", imageRoot)
	}

	if flat != nil {
		if err := flat.writeFile(filepath.Join(outDir, intrinsicsName)); err != nil {
			return nil, err
		}
	}
	if err := motion.writeFile(filepath.Join(outDir, motionFileName)); err != nil {
		return nil, err
	}
	if err := WritePointCloudFile(filepath.Join(outDir, pointCloudFileName), recon.Points); err != nil {
		return nil, err
	}
	if opts.Sidecars {
		if err := WriteSidecars(outDir); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ResolveImage finds the source file for an image name: the expected
// direct path first, then a recursive search for the bare file name
// under root. The search is first-match in lexical walk order, which
// makes duplicate basenames deterministic but still ambiguous; callers
// get a debug log when the fallback fired. Returns "" when not found.
func ResolveImage(root, name string) (path string, viaSearch bool, err error) {
	direct := filepath.Join(root, name)
	if info, serr := os.Stat(direct); serr == nil && !info.IsDir() {
		return direct, false, nil
	}

	base := filepath.Base(name)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if !d.IsDir() && d.Name() == base {
			path = p
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", false, errors.Wrapf(walkErr, "searching for %s", name)
	}
	return path, path != "", nil
}

func placeImage(src, imageDir string, idx, width int, mode ImageMode) error {
	switch mode {
	case ImageJPEG:
		img, err := imaging.Open(src)
		if err != nil {
			return errors.Wrapf(err, "decode %s", src)
		}
		dst := filepath.Join(imageDir, fmt.Sprintf("%0*d.jpg", width, idx))
		return errors.Wrapf(imaging.Save(img, dst, imaging.JPEGQuality(95)), "encode %s", dst)
	case ImageSymlink:
		abs, err := filepath.Abs(src)
		if err != nil {
			return errors.Wrap(err, "absolute source path")
		}
		dst := filepath.Join(imageDir, fmt.Sprintf("%0*d%s", width, idx, filepath.Ext(src)))
		if _, err := os.Lstat(dst); err == nil {
			return nil
		}
		return errors.Wrapf(os.Symlink(abs, dst), "link %s", dst)
	default:
		dst := filepath.Join(imageDir, fmt.Sprintf("%0*d%s", width, idx, filepath.Ext(src)))
		return copyFile(src, dst)
	}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source image")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create image")
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	_, err = io.Copy(out, in)
	return err
}
