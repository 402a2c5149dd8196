// Package enhance preprocesses reconstruction-bound images so feature
// detection finds more to work with: contrast stretch, edge
// sharpening and an optional 2x upscale. Output resolution is never
// below input resolution.
package enhance

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
)

const logFileName = "preprocessing_log.txt"

// Enhance returns the feature-enhanced version of img. With upscale
// the result is 2x the input size (CatmullRom resampling), applied
// before enhancement so the sharpening works at output resolution.
func Enhance(img image.Image, upscale bool) image.Image {
	if upscale {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*2, b.Dy()*2, imaging.CatmullRom)
	}
	out := imaging.AdjustContrast(img, 15)
	return imaging.Sharpen(out, 1.0)
}

// File enhances a single image file. The output encoding follows
// dst's extension; JPEG output is written at quality 95.
func File(src, dst string, upscale bool) error {
	img, err := imaging.Open(src)
	if err != nil {
		return errors.Wrapf(err, "decode %s", src)
	}
	return errors.Wrapf(imaging.Save(Enhance(img, upscale), dst, imaging.JPEGQuality(95)), "encode %s", dst)
}

// Directory enhances every image directly inside inputDir into
// outputDir, keeping file names. Returns the number of images written.
func Directory(inputDir, outputDir string, upscale bool) (int, error) {
	images, err := listImages(inputDir)
	if err != nil {
		return 0, err
	}
	if len(images) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create output directory")
	}

	processed := 0
	for _, name := range images {
		if err := File(filepath.Join(inputDir, name), filepath.Join(outputDir, name), upscale); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// Run enhances every image subdirectory of inputRoot into a mirrored
// directory under outputRoot, recording per-directory outcomes in a
// log at the output root. A failing directory is logged and skipped.
func Run(inputRoot, outputRoot string, upscale bool, logger golog.Logger) (total int, err error) {
	entries, err := os.ReadDir(inputRoot)
	if err != nil {
		return 0, errors.Wrap(err, "read input root")
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return 0, errors.Wrap(err, "create output root")
	}

	logFile, err := os.Create(filepath.Join(outputRoot, logFileName))
	if err != nil {
		return 0, errors.Wrap(err, "create log")
	}
	defer func() {
		err = multierr.Combine(err, logFile.Close())
	}()
	fmt.Fprintf(logFile, "Input: %s\nOutput: %s\nUpscale: %t\n\n", inputRoot, outputRoot, upscale)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		processed, derr := Directory(filepath.Join(inputRoot, entry.Name()), filepath.Join(outputRoot, entry.Name()), upscale)
		switch {
		case derr != nil:
			logger.Warnw("enhancement failed", "directory", entry.Name(), "error", derr)
			fmt.Fprintf(logFile, "✗ %s: %v\n", entry.Name(), derr)
		case processed == 0:
			fmt.Fprintf(logFile, "✗ %s: no images found\n", entry.Name())
		default:
			fmt.Fprintf(logFile, "✓ %s: %d images\n", entry.Name(), processed)
			total += processed
		}
	}
	return total, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
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
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)
	return images, nil
}
